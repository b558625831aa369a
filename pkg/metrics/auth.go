package metrics

import "time"

// AuthMetrics instruments the authentication datagram path. All
// methods must be safe for concurrent use. A nil AuthMetrics is valid
// and records nothing.
type AuthMetrics interface {
	// RecordRequest records one handled datagram. kind is the inbound
	// packet type ("negotiate", "ephemeral", "proof", "malformed");
	// outcome is "ok", "error", or "drop".
	RecordRequest(kind, outcome string, duration time.Duration)

	// RecordHandshakeCompleted counts one fully proven handshake.
	RecordHandshakeCompleted()

	// SetActiveSessions records the number of live sessions, sampled
	// by the sweeper.
	SetActiveSessions(n int)
}

// RecordRequest is a nil-safe helper for callers holding a possibly
// nil AuthMetrics.
func RecordRequest(m AuthMetrics, kind, outcome string, duration time.Duration) {
	if m != nil {
		m.RecordRequest(kind, outcome, duration)
	}
}

// RecordHandshakeCompleted is the nil-safe counterpart of
// AuthMetrics.RecordHandshakeCompleted.
func RecordHandshakeCompleted(m AuthMetrics) {
	if m != nil {
		m.RecordHandshakeCompleted()
	}
}

// SetActiveSessions is the nil-safe counterpart of
// AuthMetrics.SetActiveSessions.
func SetActiveSessions(m AuthMetrics, n int) {
	if m != nil {
		m.SetActiveSessions(n)
	}
}
