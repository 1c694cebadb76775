package models

import "context"

type MetricName string

// Counts
const (
	MetricRequestSubmitted     MetricName = "request_submitted"
	MetricOfferSubmitted       MetricName = "offer_submitted"
	MetricOfferAccepted        MetricName = "offer_accepted"
	MetricAssistAdvanced       MetricName = "assist_advanced"
	MetricPreconditionRejected MetricName = "precondition_rejected"
	MetricRemoteFailure        MetricName = "remote_failure"
	MetricInFlightRejected     MetricName = "in_flight_rejected"
	MetricChangeReceived       MetricName = "change_received"
	MetricRequestExpired       MetricName = "request_expired"
	MetricMembershipCall       MetricName = "membership_call"
)

// Distributions
const (
	MetricRemoteLatencyMS MetricName = "remote_latency_ms"
)

const MetricsCallerName = "neighborly"

// MetricService records workflow counters. The op argument becomes an
// attribute on the data point.
type MetricService interface {
	Count(ctx context.Context, name MetricName, op string, val int) error
	Distribution(ctx context.Context, name MetricName, op string, val int) error
	Shutdown(ctx context.Context)
}
