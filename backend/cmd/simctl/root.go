package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"discord-simulator/backend/internal/services"
	"discord-simulator/backend/pkg/config"
	"discord-simulator/backend/pkg/logger"
)

// app carries what every subcommand needs once the root has set it up
type app struct {
	sm *services.ServiceManager
}

// run executes simctl with args and releases the store afterwards
func run(ctx context.Context, args []string, out io.Writer) error {
	rootCmd, a := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	defer a.close()
	return rootCmd.ExecuteContext(ctx)
}

func (a *app) close() {
	logger.Sync()
	if a.sm != nil {
		_ = a.sm.Close()
	}
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	var (
		backend    string
		sqlitePath string
		badgerPath string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:   "simctl",
		Short: "Operate the simulator's word graphs",
		Long: `simctl trains, generates from, prunes and inspects the per-member word
graphs of the Discord simulator, using the same configuration as the bot.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Try to load .env file, but don't fail if it doesn't exist
			_ = godotenv.Load()
			cfg := config.FromEnv()
			if cmd.Flags().Changed("backend") {
				cfg.StoreBackend = backend
			}
			if cmd.Flags().Changed("sqlite-path") {
				cfg.SQLitePath = sqlitePath
			}
			if cmd.Flags().Changed("badger-path") {
				cfg.BadgerPath = badgerPath
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}

			level := "warn"
			if verbose {
				level = "debug"
			}
			if err := logger.Init(cfg.Env, level); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			sm, err := services.NewServiceManager(cmd.Context(), cfg, logger.Get())
			if err != nil {
				return err
			}
			a.sm = sm
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "store backend (neo4j, sqlite, badger, memory); defaults to STORE_BACKEND")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "sqlite database file; defaults to SQLITE_PATH")
	rootCmd.PersistentFlags().StringVar(&badgerPath, "badger-path", "", "badger directory; defaults to BADGER_PATH")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(
		newTrainCmd(a),
		newGenerateCmd(a),
		newPruneCmd(a),
		newEntitiesCmd(a),
		newInspectCmd(a),
	)
	return rootCmd, a
}

// printJSON writes v indented to the command's output
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
