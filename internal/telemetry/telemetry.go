// Package telemetry holds the prometheus instruments for the gossip
// layer. Everything registers against a private registry so embedding
// applications keep control of their default registry.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	SamplingRounds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strom",
		Name:      "sampling_rounds_total",
		Help:      "Peer sampling rounds started.",
	})

	PropagationRounds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strom",
		Name:      "propagation_rounds_total",
		Help:      "Anti-entropy rounds started.",
	})

	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strom",
		Name:      "send_failures_total",
		Help:      "Outbound messages that failed to reach a peer.",
	}, []string{"subsystem"})

	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strom",
		Name:      "messages_received_total",
		Help:      "Inbound envelopes by kind.",
	}, []string{"kind"})

	MessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strom",
		Name:      "messages_dropped_total",
		Help:      "Inbound envelopes dropped as malformed or undeliverable.",
	})

	ChangesApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strom",
		Name:      "changes_applied_total",
		Help:      "Remote change records applied to the local log.",
	})

	ChangesBroadcast = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "strom",
		Name:      "changes_broadcast_total",
		Help:      "Fresh local changes pushed directly to peers.",
	})

	ViewSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "strom",
		Name:      "view_size",
		Help:      "Current number of entries in the membership view.",
	})
)

func init() {
	Registry.MustRegister(
		SamplingRounds,
		PropagationRounds,
		SendFailures,
		MessagesReceived,
		MessagesDropped,
		ChangesApplied,
		ChangesBroadcast,
		ViewSize,
	)
}

// MetricsHandler exposes the gossip registry, suitable for mounting at
// /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
