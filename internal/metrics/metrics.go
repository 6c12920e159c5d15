// Package metrics provides Prometheus metrics for build sessions and catalog calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CatalogCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbuilder_catalog_calls_total",
			Help: "Total number of calls made to the parts catalog",
		},
		[]string{"operation", "status"},
	)

	CatalogCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pcbuilder_catalog_call_duration_seconds",
			Help:    "Duration of calls to the parts catalog",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StaleResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbuilder_stale_responses_total",
			Help: "Responses discarded because a newer request superseded them",
		},
		[]string{"kind"},
	)

	CandidateFetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbuilder_candidate_fetch_failures_total",
			Help: "Candidate list fetches that failed and left the list empty",
		},
		[]string{"category"},
	)

	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbuilder_verdicts_total",
			Help: "Compatibility verdicts applied to build sessions",
		},
		[]string{"result"},
	)

	DraftsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbuilder_drafts_total",
			Help: "Draft builds saved and submitted",
		},
		[]string{"action", "status"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pcbuilder_sessions_active",
			Help: "Number of open build sessions",
		},
	)
)

// Recorder wraps the package collectors for one component.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) RecordCatalogCall(operation string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	CatalogCallsTotal.WithLabelValues(operation, status).Inc()
	CatalogCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (r *Recorder) RecordStale(kind string) {
	if r == nil {
		return
	}
	StaleResponsesTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordFetchFailure(category string) {
	if r == nil {
		return
	}
	CandidateFetchFailuresTotal.WithLabelValues(category).Inc()
}

func (r *Recorder) RecordVerdict(ok bool, transportFailure bool) {
	if r == nil {
		return
	}
	result := "incompatible"
	switch {
	case ok:
		result = "compatible"
	case transportFailure:
		result = "error"
	}
	VerdictsTotal.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordDraft(action string, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	DraftsTotal.WithLabelValues(action, status).Inc()
}

func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	SessionsActive.Inc()
}

func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	SessionsActive.Dec()
}
