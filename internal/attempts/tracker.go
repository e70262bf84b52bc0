package attempts

import (
	"time"

	"natprobe/internal/model"
)

// Tracker is the append-only connection attempt log of one session.
type Tracker struct {
	records []model.ConnectionAttemptRecord
	now     func() time.Time
}

// NewTracker creates an empty tracker. A nil now defaults to time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Record appends one attempt stamped with the current time.
func (t *Tracker) Record(outcome model.Outcome, peerID, detail string) {
	t.records = append(t.records, model.ConnectionAttemptRecord{
		PeerID:      peerID,
		Timestamp:   t.now().UTC(),
		Outcome:     outcome,
		ErrorDetail: detail,
	})
}

// Count returns the number of attempts recorded so far.
func (t *Tracker) Count() int {
	return len(t.records)
}

// Records returns a copy of the log in insertion order.
func (t *Tracker) Records() []model.ConnectionAttemptRecord {
	out := make([]model.ConnectionAttemptRecord, len(t.records))
	copy(out, t.records)
	return out
}
