package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/docrec/internal/config"
	"github.com/MeKo-Tech/docrec/internal/version"
)

// configKeyAnnotation marks flags that override a configuration key.
const configKeyAnnotation = "docrec_config_key"

// app is the state shared by the commands of one invocation.
type app struct {
	v       *viper.Viper
	loader  *config.Loader
	cfg     *config.Config
	cfgFile string
	envFile string
}

// Execute runs the docrec command line and exits non-zero on failure.
func Execute() {
	if err := GetRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns a fresh command tree. Every tree owns its own
// viper instance, so repeated executions in tests do not share flags.
func GetRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	a.loader = config.NewLoaderWith(a.v)

	root := &cobra.Command{
		Use:   "docrec",
		Short: "Template-based document field recognition",
		Long: `docrec reads the fields of scanned identity documents.

A photo is aligned to a reference template, sent to an OCR engine and
every recognized text fragment is assigned to the template region that
contains it.

Examples:
  docrec recognize --template driver_license photo.jpg
  docrec extract templates/driver_license.yaml response.json
  docrec passport scan.png
  docrec batch scans/ --template driver_license --format csv
  docrec serve --port 8080`,
		Version:           version.String(),
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is docrec.yaml in ., ./configs, $HOME/.config/docrec, /etc/docrec)")
	pf.StringVar(&a.envFile, "env-file", "", "load environment variables from this file (default .env if present)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("templates-dir", "templates", "directory containing template layouts")
	pf.String("ocr-engine", "vision", "OCR engine: vision, tesseract or file")
	pf.String("ocr-responses", "", "directory of recorded OCR responses (file engine)")
	pf.String("credentials", "", "Google Cloud credentials file for the vision engine")
	bindFlag(pf, "verbose", "verbose")
	bindFlag(pf, "log-level", "log_level")
	bindFlag(pf, "templates-dir", "templates_dir")
	bindFlag(pf, "ocr-engine", "ocr.engine")
	bindFlag(pf, "ocr-responses", "ocr.response_dir")
	bindFlag(pf, "credentials", "ocr.credentials_file")

	root.AddCommand(
		newRecognizeCmd(a),
		newAlignCmd(a),
		newExtractCmd(a),
		newPassportCmd(a),
		newDriverLicenseCmd(a),
		newBatchCmd(a),
		newServeCmd(a),
		newWorkerCmd(a),
		newTemplateCmd(a),
		newConfigCmd(a),
		newBenchmarkCmd(a),
		newVersionCmd(),
	)
	return root
}

// bindFlag records that flag name overrides the configuration key.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

// setup loads the environment and the configuration and installs the
// logger. Only the flags of the running command are bound, so two
// commands may override the same key.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := a.loadEnv(); err != nil {
		return err
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys, ok := f.Annotations[configKeyAnnotation]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(keys[0], f)
		}
	})
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg, err := a.loader.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	a.cfg = cfg

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))
	if used := a.loader.ConfigFileUsed(); used != "" {
		slog.Debug("Loaded configuration", "file", used)
	}
	return nil
}

func (a *app) loadEnv() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", a.envFile, err)
		}
		return nil
	}
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
