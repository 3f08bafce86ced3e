// Copyright 2025 Certen Protocol
//
// Prometheus collectors for the blueprint runtime.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles the runtime's prometheus metrics.
type Collectors struct {
	JobsDispatched   prometheus.Counter
	DispatchFailures prometheus.Counter
	ResultsOk        prometheus.Counter
	ResultsErr       prometheus.Counter
	ConsumerFailures prometheus.Counter

	GatewayRequests *prometheus.CounterVec

	AggregationSessions *prometheus.CounterVec
	AggregationWeight   prometheus.Gauge

	ChainSubmissions *prometheus.CounterVec
}

// New creates and registers the runtime collectors on the given registerer.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		JobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blueprint_jobs_dispatched_total",
			Help: "Number of job calls fed into the router",
		}),
		DispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blueprint_dispatch_failures_total",
			Help: "Number of dispatches aborted by a service-layer error",
		}),
		ResultsOk: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blueprint_job_results_ok_total",
			Help: "Number of Ok job results produced",
		}),
		ResultsErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blueprint_job_results_err_total",
			Help: "Number of Err job results produced",
		}),
		ConsumerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blueprint_consumer_failures_total",
			Help: "Number of failed result deliveries to consumers",
		}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blueprint_gateway_requests_total",
			Help: "Gateway HTTP requests by gateway and status code",
		}, []string{"gateway", "code"}),
		AggregationSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blueprint_aggregation_sessions_total",
			Help: "Signature aggregation sessions by outcome",
		}, []string{"outcome"}),
		AggregationWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blueprint_aggregation_last_weight",
			Help: "Contributor weight of the last aggregation session",
		}),
		ChainSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blueprint_chain_submissions_total",
			Help: "Chain result submissions by outcome",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.JobsDispatched,
			c.DispatchFailures,
			c.ResultsOk,
			c.ResultsErr,
			c.ConsumerFailures,
			c.GatewayRequests,
			c.AggregationSessions,
			c.AggregationWeight,
			c.ChainSubmissions,
		)
	}
	return c
}
