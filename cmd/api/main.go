package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"creditflow/automation"
	"creditflow/config"
	"creditflow/db"
	"creditflow/logging"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "creditflow",
		Short:         "Credit repair case management API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional YAML config file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(automationCmd(&configPath))
	return root
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serveCmd(configPath *string) *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the automation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if err := cfg.RequireServe(); err != nil {
				return fmt.Errorf("config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var sched *automation.Scheduler
			if !noScheduler {
				sched, err = automation.NewScheduler(cfg.Automation.Schedule, cfg.Automation.PassTimeout, a.runner, logger)
				if err != nil {
					return err
				}
				sched.Start()
			}

			srv := NewServer(cfg.HTTP, a.services, logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()

			var errs []error
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
			if sched != nil {
				if err := sched.Stop(shutdownCtx); err != nil {
					errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve HTTP only, without the automation scheduler")
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			pool, err := openPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func automationCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automation",
		Short: "Automation sweep commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run-once",
		Short: "Run a single automation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if err := cfg.RequireServe(); err != nil {
				return fmt.Errorf("config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Automation.PassTimeout)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.runner.RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "rounds suggested=%d created=%d reminders=%d jobs done=%d failed=%d\n",
				rep.RoundsSuggested, rep.RoundsCreated, rep.RemindersSent, rep.Jobs.Done, rep.Jobs.Failed)
			return err
		},
	})
	return cmd
}
