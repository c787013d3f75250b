package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"fiscal-spooler/spooler"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	dbPath     string
	debug      bool
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "fiscal-spooler",
		Short: "Ingest NFe/NFCe XML files into a fiscal document store",
		Long: `fiscal-spooler moves fiscal XML files from a pending directory into
processed or rejected, storing every accepted document and one outcome per
file in SQLite.

Configuration is merged in this order, later wins: built-in defaults,
the YAML file given with --config, environment variables (FISCAL_*, .env is
loaded when present), command-line flags.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file path.")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "SQLite database path (overrides database.path).")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logs.")

	root.AddCommand(
		newProcessCmd(g),
		newDocumentsCmd(g),
		newOutcomesCmd(g),
		newStatsCmd(g),
		newIntegrateCmd(g),
	)
	return root
}

// loadConfig merges defaults, the config file, the environment and the
// persistent flags. Subcommands apply their own flags afterwards.
func (g *globalOptions) loadConfig(cmd *cobra.Command) (*spooler.FileConfig, error) {
	cfg := spooler.DefaultConfig()
	if g.configPath != "" {
		loaded, err := spooler.LoadConfig(g.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := spooler.ApplyEnv(cfg, nil); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database.Path = g.dbPath
	}
	if flags.Changed("debug") {
		cfg.Debug = g.debug
	}
	return cfg, nil
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

// openStore loads the configuration and opens the database it names.
func (g *globalOptions) openStore(cmd *cobra.Command) (*spooler.GormStore, *spooler.FileConfig, *slog.Logger, error) {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	log := newLogger(cfg.Debug)
	store, err := spooler.OpenStore(cfg.Database.Path, cfg.Debug)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return store, cfg, log, nil
}
