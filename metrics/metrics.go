// Package metrics exposes Prometheus instrumentation for the client's token
// lifecycle: refresh attempts and outcomes, forced logouts, authorization
// failures, and store mirror repairs. A nil *Metrics is a valid no-op, so
// callers never need to guard call sites when instrumentation is disabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	refreshAttempts prometheus.Counter
	refreshFailures prometheus.Counter
	forcedLogouts   prometheus.Counter
	unauthorized    prometheus.Counter
	retriedRequests prometheus.Counter
	storeBackfills  prometheus.Counter
}

// New registers the client metrics on reg. Passing nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		refreshAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parcel_client",
			Name:      "token_refresh_attempts_total",
			Help:      "Renewal endpoint invocations.",
		}),
		refreshFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parcel_client",
			Name:      "token_refresh_failures_total",
			Help:      "Renewal attempts that ended in a forced logout.",
		}),
		forcedLogouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parcel_client",
			Name:      "forced_logouts_total",
			Help:      "Sessions torn down after an unrecoverable authorization failure.",
		}),
		unauthorized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parcel_client",
			Name:      "unauthorized_responses_total",
			Help:      "401 responses observed by the request pipeline.",
		}),
		retriedRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parcel_client",
			Name:      "retried_requests_total",
			Help:      "Requests retried after a successful token refresh.",
		}),
		storeBackfills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parcel_client",
			Name:      "token_store_backfills_total",
			Help:      "Primary-backend repairs from the secondary backend.",
		}),
	}
}

func (m *Metrics) RefreshAttempt() {
	if m != nil {
		m.refreshAttempts.Inc()
	}
}

func (m *Metrics) RefreshFailure() {
	if m != nil {
		m.refreshFailures.Inc()
	}
}

func (m *Metrics) ForcedLogout() {
	if m != nil {
		m.forcedLogouts.Inc()
	}
}

func (m *Metrics) Unauthorized() {
	if m != nil {
		m.unauthorized.Inc()
	}
}

func (m *Metrics) RetriedRequest() {
	if m != nil {
		m.retriedRequests.Inc()
	}
}

func (m *Metrics) StoreBackfill() {
	if m != nil {
		m.storeBackfills.Inc()
	}
}
