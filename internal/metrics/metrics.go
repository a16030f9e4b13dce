// Package metrics has prometheus metric variables/functions.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailmirror_messages_total",
			Help: "Inbound emails processed by the router.",
		},
		[]string{
			"flow",   // channel, missed_message, unknown
			"result", // ok, usererror, reported, dropped, error
		},
	)
	metricTokenFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailmirror_reply_token_failures_total",
			Help: "Reply tokens that could not be used.",
		},
		[]string{
			"reason", // not_found, expired, exhausted
		},
	)
	metricIngest = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emailmirror_ingest_total",
			Help: "Inbound emails offered by a transport.",
		},
		[]string{
			"transport", // http, smtp, imap
			"result",    // ok, rejected, throttled, error
		},
	)
	metricDelivery = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "emailmirror_delivery_duration_seconds",
			Help:    "Chat delivery requests.",
			Buckets: []float64{0.01, 0.05, 0.100, 0.5, 1, 5, 10},
		},
		[]string{
			"kind",   // channel, direct, group
			"result", // ok, error, timeout
		},
	)
)

// MessageInc counts a processed message by flow and result.
func MessageInc(flow, result string) {
	metricMessages.WithLabelValues(flow, result).Inc()
}

// TokenFailureInc counts a rejected reply token by reason.
func TokenFailureInc(reason string) {
	metricTokenFailures.WithLabelValues(reason).Inc()
}

// IngestInc counts an ingestion attempt by transport and result.
func IngestInc(transport, result string) {
	metricIngest.WithLabelValues(transport, result).Inc()
}

// DeliveryObserve tracks the duration and outcome of a chat delivery.
func DeliveryObserve(kind string, err error, start time.Time) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	default:
		result = "error"
	}
	metricDelivery.WithLabelValues(kind, result).Observe(float64(time.Since(start)) / float64(time.Second))
}
