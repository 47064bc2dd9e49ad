package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Bidon15/btcvault"
	"github.com/Bidon15/btcvault/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run a key store session over stdin/stdout",
	Long: `Start an in-memory key store and execute JSON-lines commands read from
stdin, writing one JSON response per line to stdout. Commands run one at a
time in arrival order. All keys are wiped when the session ends.

Examples:
  echo '{"op":"generate"}' | btcvault session

  # Expose Prometheus metrics while the session runs
  BTCVAULT_METRICS_ADDR=:9100 btcvault session < commands.jsonl`,
	RunE: runSession,
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	ks, err := btcvault.New(cfg.StoreConfig(logger, reg))
	if err != nil {
		return err
	}
	defer ks.Close()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsRouter(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listener started", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	s := session.New(ks, logger)
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	go func() { _ = s.Run(workerCtx) }()

	logger.Info("session started", slog.Int("capacity", ks.Capacity()))
	err = s.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("session ended", slog.Int("keys", ks.NumberOfKeys()))
	return err
}

// metricsRouter serves the registry on /metrics and a liveness probe on /healthz.
func metricsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
