// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver is an [Observer] exporting Prometheus metrics.
//
// Construct using [NewPrometheusObserver].
type PrometheusObserver struct {
	// EventsTotal counts the events by kind and outcome.
	EventsTotal *prometheus.CounterVec

	// EventDuration observes the duration of each operation by kind.
	EventDuration *prometheus.HistogramVec
}

var _ Observer = &PrometheusObserver{}

// Outcome label values used by [*PrometheusObserver].
const (
	outcomeSuccess = "success"
	outcomeTimeout = "timeout"
	outcomeFailure = "failure"
)

// NewPrometheusObserver creates a [*PrometheusObserver] whose metrics are
// registered with reg, which is typically [prometheus.DefaultRegisterer].
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	factory := promauto.With(reg)
	return &PrometheusObserver{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniconnect",
			Name:      "events_total",
			Help:      "Counter of connection establishment events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		EventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sniconnect",
			Name:      "event_duration_seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
			Help:      "Histogram of the time each operation took.",
		}, []string{"kind"}),
	}
}

// OnEvent implements [Observer].
func (po *PrometheusObserver) OnEvent(ev *Event) {
	po.EventsTotal.WithLabelValues(string(ev.Kind), eventOutcome(ev.Err)).Inc()
	po.EventDuration.WithLabelValues(string(ev.Kind)).Observe(ev.Elapsed.Seconds())
}

// eventOutcome maps an event error to the outcome label.
func eventOutcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrResolutionTimedOut),
		errors.Is(err, ErrTCPConnectTimedOut),
		errors.Is(err, ErrTLSHandshakeTimedOut):
		return outcomeTimeout
	default:
		return outcomeFailure
	}
}
