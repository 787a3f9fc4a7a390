// Package metrics holds the Prometheus collectors shared by both entry points.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuthorizerDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subgate_authorizer_decisions_total",
		Help: "Authorizer decisions by effect.",
	}, []string{"effect"})

	AuthorizerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subgate_authorizer_rejections_total",
		Help: "Authorizer requests rejected before a decision, by reason.",
	}, []string{"reason"})

	KeySetFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subgate_jwks_fetches_total",
		Help: "Signing key set fetches by result.",
	}, []string{"result"})

	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subgate_webhook_events_total",
		Help: "Billing webhook deliveries by outcome.",
	}, []string{"outcome"})

	DirectoryMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subgate_directory_mutations_total",
		Help: "Group membership mutations by operation and result.",
	}, []string{"op", "result"})
)

func init() {
	prometheus.MustRegister(AuthorizerDecisions, AuthorizerRejections, KeySetFetches, WebhookEvents, DirectoryMutations)
}

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
