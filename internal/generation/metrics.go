package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genflow_generation_requests_total",
		Help: "Generation requests by kind and outcome",
	}, []string{"kind", "outcome"})

	rejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genflow_generation_rejected_total",
		Help: "Submissions rejected because a request was already in flight",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genflow_generation_duration_seconds",
		Help:    "Time from submission to resolution",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"kind"})

	tokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genflow_generation_tokens_total",
		Help: "Tokens reported by the generative backend",
	})
)
