package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"media_syncer/internal/api"
	"media_syncer/internal/domain"
	"media_syncer/internal/scheduler"
	"media_syncer/migrations"
)

const shutdownTimeout = 10 * time.Second

var configPath string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "syncer",
		Short:         "Mirror a Hydrus client catalog into PostgreSQL",
		Long:          "Syncer pulls file metadata from a Hydrus Client API and reconciles posts, tags, groups and notes into a relational catalog.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	return cmd
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(a *app) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			a.logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the periodic sync scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.wireService(); err != nil {
				return err
			}

			ctx, cancel := signalContext(a)
			defer cancel()

			srv := &http.Server{
				Addr:         a.cfg.HTTP.Addr,
				Handler:      api.NewServer(ctx, a.service, a.db, a.logger, api.WithAllowedOrigins(a.cfg.HTTP.AllowedOrigins...)),
				ReadTimeout:  a.cfg.HTTP.ReadTimeout,
				WriteTimeout: a.cfg.HTTP.WriteTimeout,
			}

			errCh := make(chan error, 2)
			go func() {
				a.logger.Info("admin api listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("http server: %w", err)
				}
			}()

			var schedWG sync.WaitGroup
			if a.cfg.Sync.Interval > 0 {
				sched := scheduler.NewScheduler(a.service, a.cfg.Sync.Interval, a.logger)
				schedWG.Add(1)
				go func() {
					defer schedWG.Done()
					if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
						errCh <- fmt.Errorf("scheduler: %w", err)
					}
				}()
			}

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errCh:
				cancel()
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http shutdown", "error", err)
			}
			schedWG.Wait()
			a.service.Wait()

			a.logger.Info("syncer stopped")
			return runErr
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.wireService(); err != nil {
				return err
			}

			ctx, cancel := signalContext(a)
			defer cancel()

			stats, err := a.service.Run(ctx, func(p domain.Progress) {
				a.logger.Info("sync progress",
					"phase", p.Phase,
					"batch", p.CurrentBatch,
					"total_batches", p.TotalBatches,
					"processed", p.ProcessedFiles,
					"total", p.TotalFiles,
				)
			})
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			return printJSON(cmd, stats)
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.syncState.Get(cmd.Context())
			if err != nil {
				return fmt.Errorf("read sync state: %w", err)
			}
			return printJSON(cmd, state)
		},
	}
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Ask the running sync to stop after its current batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			cancelled, err := a.syncState.RequestCancel(cmd.Context())
			if err != nil {
				return fmt.Errorf("request cancel: %w", err)
			}
			if !cancelled {
				fmt.Fprintln(cmd.OutOrStdout(), "no sync is running")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancellation requested")
			return nil
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := migrations.Up(a.db.DB); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}

			version, dirty, err := migrations.Version(a.db.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
