package gateway

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// gatewayMetrics are the gateway's Prometheus instruments. They live on
// the default registry, so they are created once per process and shared
// by every Server instance.
type gatewayMetrics struct {
	framesIn        *prometheus.CounterVec
	framesOut       *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram
	connectedNodes  prometheus.Gauge
}

var (
	metricsOnce   sync.Once
	sharedMetrics *gatewayMetrics
)

func newMetrics() *gatewayMetrics {
	metricsOnce.Do(func() {
		sharedMetrics = &gatewayMetrics{
			framesIn: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "clara_gateway_frames_received_total",
				Help: "Inbound adapter frames by type.",
			}, []string{"type"}),
			framesOut: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "clara_gateway_frames_sent_total",
				Help: "Outbound frames by type.",
			}, []string{"type"}),
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "clara_gateway_requests_total",
				Help: "Message requests by terminal outcome.",
			}, []string{"outcome"}),
			requestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "clara_gateway_request_duration_seconds",
				Help:    "Wall time from submission to terminal event.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			}),
			connectedNodes: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "clara_gateway_connected_nodes",
				Help: "Adapters with a live connection.",
			}),
		}
	})
	return sharedMetrics
}
