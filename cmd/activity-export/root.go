package main

import (
	"fmt"

	"github.com/Sternrassler/activity-export/pkg/config"
	"github.com/Sternrassler/activity-export/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile  string
	logLevel    string
	pretty      bool
	metricsAddr string
	timezone    string
	profile     string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "activity-export",
		Short: "Export activity events hour by hour from the reporting API",
		Long: `activity-export retrieves every activity event of a month or a single day,
one hour at a time, falling back to minute windows when an hour holds more
events than the API pages through. Each hour is written to the configured
sinks (csv, s3, postgres) before the next one is fetched.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default: ./activity-export.yaml or ~/.config/activity-export/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.pretty, "pretty", false, "human-readable console logs")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address during a run")
	flags.StringVar(&opts.timezone, "timezone", "", `time zone of the exported hours ("Local", "UTC", IANA name)`)
	flags.StringVar(&opts.profile, "profile", "", "keyring profile holding the client credentials")

	root.AddCommand(
		newRunCmd(opts),
		newCategoriesCmd(opts),
		newCredentialsCmd(opts),
	)
	return root
}

// loadConfig loads configuration, letting explicitly set flags win, and
// configures the global logger.
func loadConfig(cmd *cobra.Command, opts *globalOptions, extra map[string]interface{}) (*config.Config, zerolog.Logger, error) {
	flags := map[string]interface{}{}
	if cmd.Flags().Changed("log-level") {
		flags["log-level"] = opts.logLevel
	}
	if cmd.Flags().Changed("pretty") {
		flags["pretty"] = opts.pretty
	}
	if cmd.Flags().Changed("metrics-addr") {
		flags["metrics-addr"] = opts.metricsAddr
	}
	if cmd.Flags().Changed("timezone") {
		flags["timezone"] = opts.timezone
	}
	if cmd.Flags().Changed("profile") {
		flags["profile"] = opts.profile
	}
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(opts.configFile, flags)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, logging.NewLogger("cli"), nil
}
