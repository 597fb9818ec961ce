package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/recognize"
)

// defaultDriverLicenseTemplate is the template read by driver-license
// unless --template is given.
const defaultDriverLicenseTemplate = "driver_license"

func newPassportCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "passport PHOTO",
		Short: "Read the serial and number of a passport",
		Long: `Run OCR on the whole photo and find the passport serial and number
in the full text with regular expressions. No template is needed.

Examples:
  docrec passport scan.jpg
  docrec passport scan.jpg --serial-pattern '\d{4}' --number-pattern '\d{6}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serial, _ := cmd.Flags().GetString("serial-pattern")
			number, _ := cmd.Flags().GetString("number-pattern")
			rec, err := recognize.NewPassportByRegex(serial, number)
			if err != nil {
				return err
			}
			p, closeFn, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			passport, err := pipeline.RecognizeAs[recognize.Passport](cmd.Context(), p, pipeline.FromPath(args[0]), rec)
			if err != nil {
				return err
			}
			return printJSON(cmd, passport)
		},
	}
	c.Flags().String("serial-pattern", recognize.PassportSerialPattern, "regular expression of the serial")
	c.Flags().String("number-pattern", recognize.PassportNumberPattern, "regular expression of the number")
	return c
}

func newDriverLicenseCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:     "driver-license PHOTO",
		Aliases: []string{"license"},
		Short:   "Read a driver license",
		Long: `Read a driver license either with its template (all fields) or
with a regular expression over the full text (the code only).

Examples:
  docrec driver-license photo.jpg
  docrec driver-license photo.jpg --template layouts/driver_license.xml --no-normalize
  docrec driver-license photo.jpg --mode regex`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			var rec recognize.Recognizer[recognize.DriverLicense]
			switch mode {
			case "regex":
				pattern, _ := cmd.Flags().GetString("pattern")
				re, err := recognize.NewDriverLicenseByRegex(pattern)
				if err != nil {
					return err
				}
				rec = re
			case "template":
				ref, _ := cmd.Flags().GetString("template")
				tpl, err := a.resolveTemplate(ref)
				if err != nil {
					return err
				}
				noNormalize, _ := cmd.Flags().GetBool("no-normalize")
				rec = recognize.NewDriverLicenseByTemplate(tpl, nil, !noNormalize)
			default:
				return fmt.Errorf("unknown mode %q (want template or regex)", mode)
			}

			p, closeFn, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			dl, err := pipeline.RecognizeAs(cmd.Context(), p, pipeline.FromPath(args[0]), rec)
			if err != nil {
				return err
			}
			return printJSON(cmd, dl)
		},
	}
	c.Flags().String("mode", "template", "recognition mode: template or regex")
	c.Flags().StringP("template", "t", defaultDriverLicenseTemplate, "template name or layout file (template mode)")
	c.Flags().String("pattern", recognize.DriverLicenseCodePattern, "regular expression of the code (regex mode)")
	c.Flags().Bool("no-normalize", false, "keep name and patronymic as recognized")
	return c
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
