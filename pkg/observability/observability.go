package observability

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fitnessbuddy/pkg/config"
)

var (
	StatsRequested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_requests_total",
		Help: "The total number of stats requests accepted by the API",
	}, []string{"mode", "status"}) // status: accepted, failed

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_jobs_processed_total",
		Help: "The total number of stats jobs handled by workers",
	}, []string{"outcome"}) // outcome: delivered, callback_failed, malformed, requeued

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stats_job_duration_seconds",
		Help:    "Duration of stats job processing, pacing included.",
		Buckets: prometheus.LinearBuckets(0.5, 0.5, 10),
	})

	WorkerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stats_worker_state",
		Help: "Current state of each worker instance (1 for the active state).",
	}, []string{"instance", "state"})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_notifications_total",
		Help: "Notifications broadcast on the notifications exchange",
	}, []string{"status"}) // status: sent, failed

	NotificationsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_notifications_received_total",
		Help: "Notifications received by this process's subscriber",
	})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_outbox_messages_total",
		Help: "Outbox rows relayed to the job queue",
	}, []string{"status"}) // status: published, failed

	StatsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_results_stored_total",
		Help: "Stats results accepted on the callback endpoint",
	})
)

// NewLogger builds a zerolog logger for one process.
func NewLogger(cfg config.LoggingConfig, service string) zerolog.Logger {
	return newLogger(cfg, service, os.Stdout)
}

func newLogger(cfg config.LoggingConfig, service string, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("service", service).Logger()
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return srv
}
