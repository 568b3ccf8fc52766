package middleware

import (
	"context"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// NewRequestMetrics creates the per-method request counter and latency
// histogram. The caller registers them.
func NewRequestMetrics() (*prometheus.CounterVec, *prometheus.HistogramVec) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dsmr2mqtt",
		Name:      "grpc_requests_total",
		Help:      "gRPC requests by method.",
	}, []string{"method"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dsmr2mqtt",
		Name:      "grpc_request_duration_seconds",
		Help:      "gRPC request latency by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	return requests, latency
}

func NewMetricsInterceptor(
	requests *prometheus.CounterVec,
	latency *prometheus.HistogramVec,
) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start).Seconds()
		method := path.Base(info.FullMethod)

		requests.WithLabelValues(method).Inc()
		latency.WithLabelValues(method).Observe(duration)

		return resp, err
	}
}
