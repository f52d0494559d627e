package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acornos/acornbuild/internal/adapters/logging"
	"github.com/acornos/acornbuild/internal/app"
	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/domain/config"
	"github.com/acornos/acornbuild/internal/ports"
	"github.com/acornos/acornbuild/internal/ui"
)

var (
	// Global flags
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "acornos",
	Short: "Build the AcornOS live ISO",
	Long: `acornos assembles the AcornOS rootfs image, live initramfs and bootable
ISO from an extracted Alpine tree:
  rootfs → initramfs → iso

Each artifact is fingerprinted. Up-to-date artifacts are skipped and
artifacts built elsewhere are restored from the local artifact store.`,
	SilenceErrors: true, // We handle error formatting ourselves
	SilenceUsage:  true, // Don't show usage on error
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running build.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printErrorTo(os.Stderr, err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: acorn.yaml in the current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	_ = rootCmd.RegisterFlagCompletionFunc("config", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"yaml", "yml", "toml"}, cobra.ShellCompDirectiveFilterFileExt
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config, or discovers a configuration file in the
// working directory.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		return loader.Load(cfgFile)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return loader.Discover(wd)
}

// newLogger builds the console logger from the configuration and the
// logging flags, which take precedence.
func newLogger(cfg *config.Config, w io.Writer) (ports.Logger, error) {
	levelName := cfg.Log.Level
	if logLevel != "" {
		levelName = logLevel
	}
	if verbose {
		levelName = "debug"
	}
	level, err := ports.ParseLevel(levelName)
	if err != nil {
		return nil, config.NewUserError(config.ErrCodeValidationFailed, err.Error()).
			WithContext("log.level").
			WithSuggestion("Use one of: debug, info, warn, error")
	}

	format := cfg.Log.Format
	if logFormat != "" {
		format = logFormat
	}
	switch strings.ToLower(format) {
	case "", "text", "json":
	default:
		return nil, config.NewUserError(config.ErrCodeValidationFailed, fmt.Sprintf("unknown log format %q", format)).
			WithContext("log.format").
			WithSuggestion("Use text or json")
	}

	return logging.NewConsoleLogger(
		logging.WithOutput(w),
		logging.WithLevel(level),
		logging.WithJSONFormat(strings.EqualFold(format, "json")),
	), nil
}

// newApp loads the configuration and wires the application for cmd.
func newApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger)
}

func styles() ui.Styles {
	if noColor {
		return ui.Plain()
	}
	return ui.DefaultStyles()
}

// formatError returns a user-friendly error message.
// With verbose=false: shows only the user message and suggestion.
// With verbose=true: also shows the underlying technical error.
func formatError(err error) string {
	var buildErr *builderr.BuildError
	if errors.As(err, &buildErr) {
		return buildErr.Format()
	}

	var list *config.ErrorList
	if errors.As(err, &list) {
		return list.Format()
	}

	var userErr *config.UserError
	if errors.As(err, &userErr) {
		msg := userErr.Message
		if userErr.Context != "" {
			msg += fmt.Sprintf(" (at %s)", userErr.Context)
		}
		if userErr.Suggestion != "" {
			msg += fmt.Sprintf("\n\nSuggestion: %s", userErr.Suggestion)
		}
		if verbose && userErr.Underlying != nil {
			msg += fmt.Sprintf("\n\nTechnical details: %v", userErr.Underlying)
		}
		return msg
	}
	return err.Error()
}

// printErrorTo prints an error message to the given writer.
func printErrorTo(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %s\n", formatError(err))
}
