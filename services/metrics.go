package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resultados registrados em ahoy_flow_total.
const (
	outcomeCompleted = "completed"
	outcomeReplayed  = "replayed"
	outcomePending   = "pending"
	outcomeUnknown   = "inclusion_unknown"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

var (
	flowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ahoy_flow_total",
		Help: "Fluxos coordenados processados, por fluxo e resultado",
	}, []string{"flow", "outcome"})

	flowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ahoy_flow_duration_seconds",
		Help:    "Duração dos fluxos coordenados",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"flow"})
)

func observeFlow(flow, outcome string, started time.Time) {
	flowTotal.WithLabelValues(flow, outcome).Inc()
	flowDuration.WithLabelValues(flow).Observe(time.Since(started).Seconds())
}
