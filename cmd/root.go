package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/update-tools/restitch/internal/config"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "restitch",
	Short:        "Restitch extracted update packages to their manifest-declared identity",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to HCL config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the structured logger handed to every component.
// Log lines go to stderr so command output stays pipeable.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig returns the file config when --config is set, defaults
// otherwise.
func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
