package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docrec/internal/template"
)

// templateInfo is the JSON form of a template.
type templateInfo struct {
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Size    template.Size     `json:"size"`
	Regions []template.Region `json:"regions"`
}

func newTemplateCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "template",
		Short: "Inspect template layouts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the templates of the templates directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tSIZE\tREGIONS\tIMAGE")
			for _, name := range reg.Names() {
				tpl, _ := reg.Get(name)
				_, _ = fmt.Fprintf(tw, "%s\t%dx%d\t%d\t%s\n",
					tpl.Name, tpl.Size.Width, tpl.Size.Height, len(tpl.Regions()), tpl.ImagePath)
			}
			return tw.Flush()
		},
	}

	show := &cobra.Command{
		Use:   "show NAME|LAYOUT",
		Short: "Print a template and its regions as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl, err := a.resolveTemplate(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, templateInfo{
				Name:    tpl.Name,
				Image:   tpl.ImagePath,
				Size:    tpl.Size,
				Regions: tpl.Regions(),
			})
		},
	}

	validate := &cobra.Command{
		Use:   "validate LAYOUT...",
		Short: "Check that layouts parse and their images load",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				tpl, err := template.Load(path)
				if err == nil {
					_, err = tpl.Image()
				}
				if err != nil {
					failed++
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok   %s (%s, %d regions)\n", path, tpl.Name, len(tpl.Regions()))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d layouts are invalid", failed, len(args))
			}
			return nil
		},
	}

	c.AddCommand(list, show, validate)
	return c
}
