package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/config"
	"github.com/matthewbaird/protestdesk/internal/logging"
	"github.com/matthewbaird/protestdesk/internal/seed"
	"github.com/matthewbaird/protestdesk/internal/server"
)

var (
	configPath string
	seedDemo   bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "protestdesk",
	Short:         "Property tax protest intake, concierge and customer portal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Development)
		if err != nil {
			return err
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if seedDemo || cfg.Seed {
			if _, err := seed.SeedDemoData(ctx, a.ds, logger); err != nil {
				return fmt.Errorf("seeding demo data: %w", err)
			}
		}

		a.bus.Start(ctx)
		defer a.bus.Stop()

		logger.Info("services ready",
			zap.String("data", cfg.Data.Backend),
			zap.String("sessions", cfg.Sessions.Backend),
			zap.String("storage", cfg.Storage.Backend),
			zap.String("functions", cfg.Functions.Mode))
		return server.Run(ctx, a.server)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the SQL schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Data.Backend != "sql" && cfg.Data.Backend != "sqlite" {
			return fmt.Errorf("migrate needs the sql data backend, have %q", cfg.Data.Backend)
		}
		_, _, closeDB, err := openData(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer closeDB()
		logger.Info("database migrated successfully", zap.String("dsn", cfg.Data.DatabaseURL))
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo customers into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Data.Backend != "sql" && cfg.Data.Backend != "sqlite" {
			logger.Warn("seeding a non-persistent data backend has no lasting effect",
				zap.String("backend", cfg.Data.Backend))
		}
		ds, _, closeDB, err := openData(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer closeDB()
		customers, err := seed.SeedDemoData(cmd.Context(), ds, logger)
		if err != nil {
			return err
		}
		for _, c := range customers {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Profile.ID, c.Profile.Email)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "protestdesk.yaml", "path to the YAML config file")
	serveCmd.Flags().BoolVar(&seedDemo, "seed", false, "load demo customers before serving")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
