// closeops is a collection of operational scripts for a Close CRM
// organization: exports, bulk updates, reassignment, and scheduled
// maintenance jobs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bariendo/close-ops/internal/config"
	"github.com/bariendo/close-ops/pkg/closeapi"
	"github.com/bariendo/close-ops/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	flagConfig        string
	flagProd          bool
	flagAPIKey        string
	flagVerbose       bool
	flagDryRun        bool
	flagRefreshSchema bool

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "closeops",
		Short: "Operational scripts for the Bariendo Close CRM organization",
		Long: `closeops bundles the data-maintenance scripts the team runs against
Close: exporting refunded opportunities and custom activities, importing
leads from spreadsheets, marking stale opportunities as lost, reassigning
opportunities between owners, and toggling workflow schedules.

All commands operate on the dev organization unless --prod is given.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default ~/.config/close-ops/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagProd, "prod", "p", false, "operate on the production environment")
	rootCmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "Close API key (overrides environment and config file)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flagDryRun, "dry-run", "d", false, "show what would change without writing to Close")
	rootCmd.PersistentFlags().BoolVar(&flagRefreshSchema, "refresh-schema", false, "drop cached schema lookups before running")
}

// setup loads configuration and configures logging before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	path := flagConfig
	if path == "" {
		path = config.DefaultConfigPath()
	}

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg = loaded

	if flagProd {
		cfg.Env = "prod"
	}

	logCfg := logging.DefaultConfig()
	if flagVerbose {
		logCfg.Level = logging.LevelDebug
	}
	if cmd.Name() == "run" {
		// The daemon logs JSON for log shippers; interactive commands stay
		// human-readable.
		logCfg.Pretty = false
	}
	logging.Setup(logCfg)

	return nil
}

// newClient builds a Close API client for the selected environment.
func newClient() (*closeapi.Client, error) {
	apiKey, err := cfg.APIKey(flagAPIKey)
	if err != nil {
		return nil, err
	}

	clientCfg := closeapi.DefaultConfig(apiKey)
	clientCfg.Redis = cfg.RedisClient()
	if cfg.MaxConcurrency > 0 {
		clientCfg.MaxConcurrency = cfg.MaxConcurrency
	}

	client, err := closeapi.New(clientCfg)
	if err != nil {
		return nil, err
	}

	if flagRefreshSchema {
		if err := client.RefreshSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return client, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
