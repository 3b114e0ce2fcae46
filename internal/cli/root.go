package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/ruletick/internal/config"
)

// version is overridden at build time with -ldflags "-X ...cli.version=...".
var version = "0.1.0-dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ruletick",
	Short: "Scheduler for analytic rule executions",
	Long: `ruletick runs analytic rules on cron or fixed-frequency schedules.

Each schedule keeps a watermark of the event time it has processed, so
runs cover contiguous windows, missed windows are caught up after downtime
and a failed window is retried rather than skipped.

Start the scheduler:
  ruletick run

Run a single cycle and print what happened:
  ruletick tick --dry-run`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(&config.LoggingConfig{Level: "info", Format: "console", Timestamp: true})
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ruletick.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// loadConfig loads and validates configuration, then applies its logging
// settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return nil, err
	}

	setupLogging(&cfg.Logging)

	if path := cfgFile; path != "" {
		log.Debug().Str("file", path).Msg("Using config file")
	} else if path, err := config.ConfigFilePath(""); err == nil {
		log.Debug().Str("file", path).Msg("Using config file")
	}

	return cfg, nil
}

// setupLogging configures zerolog from cfg and the --verbose flag.
func setupLogging(cfg *config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stderr
	if cfg.Format != "json" {
		// Pretty console output for terminals
		output = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	ctx := zerolog.New(output).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("ruletick version %s", version)
}
