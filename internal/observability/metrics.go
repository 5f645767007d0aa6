package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubbuffersDrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ringconsumerd_subbuffers_drained_total",
		Help: "The total number of sub-buffers reserved and handed to the sink, including those whose copy or release failed",
	}, []string{"ring"})

	DrainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ringconsumerd_drain_errors_total",
		Help: "The total number of drain errors by classified kind",
	}, []string{"ring", "kind"})

	RingsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ringconsumerd_rings_registered",
		Help: "The current number of registered ring FD pairs",
	})

	HotplugEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ringconsumerd_hotplug_events_total",
		Help: "The total number of hot-plug create events handled",
	}, []string{"outcome"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ringconsumerd_active_workers",
		Help: "The number of worker goroutines currently running",
	})

	DrainLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ringconsumerd_drain_duration_seconds",
		Help:    "Time taken by a single reserve/copy/release sub-buffer drain",
		Buckets: prometheus.DefBuckets,
	}, []string{"ring"})

	HighPrioPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ringconsumerd_high_priority_passes_total",
		Help: "The total number of poll iterations that serviced at least one high-priority ring",
	}, []string{"worker"})
)
