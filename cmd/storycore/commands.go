package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/veridianlabs/storycore/internal/config"
)

// buildRunCmd creates the "run" command: load configuration, wire every
// component, and start the scheduler's tick loop alongside an HTTP server
// exposing /healthz and /metrics until SIGINT/SIGTERM.
func buildRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the actor scheduler and metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "storycore.yaml", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("configuration loaded", "config", configPath, "actors", len(cfg.Actors), "database_driver", cfg.Database.Driver)

	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(sys.Registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	sys.Scheduler.Start(ctx)
	if sys.NarrativeWatcher != nil {
		sys.NarrativeWatcher.Start(ctx)
	}
	slog.Info("storycore started", "listen_addr", cfg.Server.ListenAddr, "actors", len(sys.Actors))

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("http server exited", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	sys.Scheduler.Stop()
	if sys.NarrativeWatcher != nil {
		_ = sys.NarrativeWatcher.Close()
	}
	for _, client := range sys.MCPClients {
		_ = client.Close()
	}
	slog.Info("storycore stopped")
	return nil
}

// buildValidateConfigCmd loads and validates a configuration file without
// starting any component, reporting every provider/actor/schedule issue
// config.Load would otherwise surface only at process start.
func buildValidateConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %d provider(s), %d actor(s), database=%s\n",
				len(cfg.Providers), len(cfg.Actors), cfg.Database.Driver)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "storycore.yaml", "Path to YAML configuration file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "storycore %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
