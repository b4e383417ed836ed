// Package events publishes operational alerts and settlement events.
// Publishing is best effort and never blocks a balance change; the
// point is that audit-trail gaps and chain-leg failures reach an
// operator instead of disappearing into logs.
package events

import "time"

const (
	TopicOperational = "bridge_operational"

	EventAuditWriteFailed   = "audit_write_failed"
	EventTransferPartial    = "transfer_partial_failure"
	EventReplayAttempt      = "replay_attempt"
	EventSettlementComplete = "settlement_complete"
	EventChainLegFailed     = "settlement_chain_leg_failed"
)

// Event is the envelope published to the operational topic.
type Event struct {
	Type       string         `json:"type"`
	Wallet     string         `json:"wallet,omitempty"`
	Reference  string         `json:"reference,omitempty"` // withdrawal id, match id, signature
	Detail     string         `json:"detail,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher delivers events to the operational topic.
type Publisher interface {
	Publish(topic string, event any) error
}

// Noop discards all events; used when no broker is configured.
type Noop struct{}

func (Noop) Publish(string, any) error { return nil }
