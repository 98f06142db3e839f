// Command ticketbot creates support tickets by driving a browser through the
// ticketing application, either once from the command line or on demand
// behind an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ticketbot/internal/browser"
	"ticketbot/internal/config"
	"ticketbot/internal/observability"
	"ticketbot/internal/resolver"
	"ticketbot/internal/workflow"
)

var (
	flagConfig   string
	flagLogLevel string
	flagHeadless bool
	flagDriver   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ticketbot",
	Short: "ticketbot - browser automation for support tickets",
	Long: `ticketbot logs into the ticketing application, creates a task in the
configured project and sets its customer and assignee.

  ticketbot serve                 # Run the HTTP API
  ticketbot run --title "Printer" # Create one ticket and print the result`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(flagConfig)
		if err != nil {
			return err
		}
		if err := bindFlags(cmd, v); err != nil {
			return err
		}
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		observability.InitializeLogger(cfg.Logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		observability.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ./config.yaml or ~/.ticketbot/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagHeadless, "headless", false, "run the browser without a window; disables selector learning")
	rootCmd.PersistentFlags().StringVar(&flagDriver, "driver", "", "browser driver (playwright or rod)")

	rootCmd.AddCommand(serveCmd, runCmd)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.Flags()
	for key, name := range map[string]string{
		"logger.level":     "log-level",
		"browser.headless": "headless",
		"browser.driver":   "driver",
	} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}
	return nil
}

// resolverOptions enables learning only when a person can see the browser.
func resolverOptions(cfg *config.Config) resolver.Options {
	return resolver.Options{
		Learn:        !cfg.Browser.Headless,
		LearnTimeout: cfg.Timings.LearnTimeout,
		PollInterval: cfg.Timings.PollInterval,
	}
}

// deps are the pieces shared by both subcommands.
type deps struct {
	logger   *zap.Logger
	launcher browser.Launcher
	catalog  config.Catalog
	opts     workflow.Options
}

func newDeps(cfg *config.Config) (*deps, error) {
	logger := observability.GetLogger()
	catalog, err := config.LoadCatalog(cfg.Selectors.File)
	if err != nil {
		return nil, err
	}
	launcher, err := browser.NewLauncher(cfg.Browser, logger)
	if err != nil {
		return nil, err
	}
	return &deps{
		logger:   logger,
		launcher: launcher,
		catalog:  catalog,
		opts:     workflow.OptionsFromConfig(cfg),
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
