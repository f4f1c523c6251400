package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/metrics"
	"github.com/sells-group/catalog-ingest/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal ingestion worker",
	Long:  "Polls the ingestion task queue and serves Prometheus metrics until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := client.DialContext(ctx, client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    worker.NewLogger(zap.L()),
		})
		if err != nil {
			return eris.Wrap(err, "worker: dial temporal")
		}
		defer c.Close()

		addr, _ := cmd.Flags().GetString("metrics-addr")
		if addr == "" {
			addr = cfg.Metrics.Addr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(env.Metrics),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			zap.L().Info("metrics server listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.L().Error("metrics server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		return worker.Run(ctx, c, workerConfig(), worker.NewActivities(env.Ingestor))
	},
}

func workerConfig() worker.Config {
	return worker.Config{
		TaskQueue:   cfg.Temporal.TaskQueue,
		MaxAttempts: cfg.Temporal.MaxAttempts,
		RunBudget:   cfg.Ingest.RunBudget(),
	}
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

func init() {
	workerCmd.Flags().String("metrics-addr", "", "metrics listen address (overrides metrics.addr)")
	rootCmd.AddCommand(workerCmd)
}
