package model

import "time"

// PeerStatus is the believed reachability of a bootstrap peer.
type PeerStatus string

const (
	StatusUnknown  PeerStatus = "unknown"
	StatusActive   PeerStatus = "active"
	StatusInactive PeerStatus = "inactive"
)

// Outcome classifies a single connection attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeRefused Outcome = "refused"
	OutcomeError   Outcome = "error"
)

// BootstrapPeerRecord is the health entry for one configured bootstrap peer.
// PeerID is empty when the bootstrap address carries no /p2p component.
type BootstrapPeerRecord struct {
	Address      string     `json:"address" yaml:"address"`
	PeerID       string     `json:"peer_id" yaml:"peer_id"`
	Status       PeerStatus `json:"status" yaml:"status"`
	LastSeen     *time.Time `json:"last_seen" yaml:"last_seen"`
	ResponseTime *uint64    `json:"response_time" yaml:"response_time"` // milliseconds, reserved
	SuccessCount uint32     `json:"success_count" yaml:"success_count"`
	FailureCount uint32     `json:"failure_count" yaml:"failure_count"`
}

// ConnectionAttemptRecord is one entry of the per-session attempt log.
type ConnectionAttemptRecord struct {
	PeerID      string    `json:"peer_id"`
	Timestamp   time.Time `json:"timestamp"`
	Outcome     Outcome   `json:"outcome"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// Metric is a single ping round-trip sample.
type Metric struct {
	Timestamp time.Time
	SessionID string
	PeerID    string
	RTTMs     float64
}
