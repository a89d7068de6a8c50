// Package main provides the cardmatch CLI entrypoint.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardmatch-ai/cardmatch/internal/config"
	"github.com/cardmatch-ai/cardmatch/internal/observability"
	"github.com/cardmatch-ai/cardmatch/pkg/engine"
)

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	noColor    bool
	verbose    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "cardmatch",
	Short: "cardmatch CLI for indexing, retrieval, and recommendation",
	Long: `cardmatch CLI manages the card recommendation engine from the command line.

Use this tool to:
- Index benefit catalogs into the vector store
- Rank candidate cards for a spending query
- Pick a winner from per-card benefit estimates
- Inspect and purge store contents

All commands support --json for automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}
		logLevel := cfg.Observability.LogLevel
		if verbose {
			logLevel = "debug"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       logLevel,
			Format:      logFormat,
			ServiceName: "cardmatch-cli",
		})

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newRecommendCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newDemoCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.Encode(map[string]string{
					"version": "0.1.0",
					"go":      "1.25",
				})
				return
			}
			fmt.Println("cardmatch v0.1.0")
		},
	}
}

// openEngine builds the engine from the loaded config. Store and cache
// connections are established here, so the spinner covers the wait when a
// remote backend is configured.
func openEngine() (*engine.Engine, error) {
	var spin *Spinner
	if !outputJSON && IsTerminal() {
		spin = NewSpinner(fmt.Sprintf("connecting %s store and %s cache", cfg.Store.Driver, cfg.Cache.Driver))
		spin.Start()
	}
	eng, err := engine.New(cfg, logger)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return eng, nil
}
