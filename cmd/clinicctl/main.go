package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/auth"
	"github.com/hackgods/clinica/internal/config"
	"github.com/hackgods/clinica/internal/db"
	"github.com/hackgods/clinica/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinicctl",
		Short:        "Clinic backend administration",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(hashPasswordCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// connect loads config and opens the pool shared by the database commands.
func connect(ctx context.Context) (config.Config, *pgxpool.Pool, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return cfg, nil, nil, err
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return cfg, pool, logger, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, logger, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(cmd.Context(), pool, logger)
			if err != nil {
				return err
			}
			logger.Info("migrations complete", zap.Int("applied", applied))
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load roles, users, doctors, patients and the service catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, logger, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			if opts.migrate {
				if _, err := db.Migrate(cmd.Context(), pool, logger); err != nil {
					return err
				}
			}
			return newSeeder(pool, logger, opts).Run(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&opts.doctors, "doctors", 8, "Number of doctors to create")
	cmd.Flags().IntVar(&opts.patients, "patients", 500, "Number of patients to create")
	cmd.Flags().StringVar(&opts.password, "password", "Clinica2025!", "Password for every seeded user")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed (0 picks one from the clock)")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", true, "Apply migrations before seeding")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash stored for a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
