// Command scanbridge runs the scan session bridge between web pages and the
// device camera.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"scanbridge/internal/config"
	"scanbridge/internal/logging"
)

// Set with -ldflags at build time.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "scanbridge",
		Short:         "Barcode scan sessions for web pages running in a shell",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to scanbridge.yml")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().Bool("json", false, "Log in JSON format")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig reads the config named by --config and configures logging from
// it and the logging flags.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, path, err
	}
	configureLogging(cmd, cfg)
	return cfg, path, nil
}

func configureLogging(cmd *cobra.Command, cfg config.Config) {
	opts := logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		opts.Level = "debug"
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		opts.Format = "json"
	}
	logging.Configure(opts)
}
