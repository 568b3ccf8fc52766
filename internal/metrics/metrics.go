package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "dsmr2mqtt"

// Metrics groups the collectors updated by the engine.
type Metrics struct {
	TelegramsReceived    prometheus.Counter
	TelegramsProcessed   prometheus.Counter
	TelegramsThrottled   prometheus.Counter
	DecodeErrors         prometheus.Counter
	Fields               *prometheus.CounterVec
	PublishFailures      prometheus.Counter
	PublishLatency       prometheus.Histogram
	Rollovers            prometheus.Counter
	SnapshotSaveFailures prometheus.Counter
	HistoryFailures      prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TelegramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegrams_received_total",
			Help:      "Telegrams read from the meter.",
		}),
		TelegramsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegrams_processed_total",
			Help:      "Telegrams mapped and published.",
		}),
		TelegramsThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegrams_throttled_total",
			Help:      "Telegrams skipped by the report interval.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_decode_errors_total",
			Help:      "Malformed telegrams skipped.",
		}),
		Fields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_total",
			Help:      "Telegram fields by mapping result.",
		}, []string{"result"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Messages the bus did not accept.",
		}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent in a single publish call.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		Rollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollovers_total",
			Help:      "Day rollovers performed.",
		}),
		SnapshotSaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_save_failures_total",
			Help:      "Failed baseline snapshot writes.",
		}),
		HistoryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_failures_total",
			Help:      "Failed writes of closed days to history storage.",
		}),
	}

	reg.MustRegister(
		m.TelegramsReceived,
		m.TelegramsProcessed,
		m.TelegramsThrottled,
		m.DecodeErrors,
		m.Fields,
		m.PublishFailures,
		m.PublishLatency,
		m.Rollovers,
		m.SnapshotSaveFailures,
		m.HistoryFailures,
	)
	return m
}

// ObservePublish records the outcome of one publish call.
func (m *Metrics) ObservePublish(start time.Time, err error) {
	m.PublishLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		m.PublishFailures.Inc()
	}
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("address", addr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
