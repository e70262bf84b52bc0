package session

import (
	"time"

	"natprobe/internal/model"
	"natprobe/internal/store"
)

// Outcome is the terminal state of a session.
type Outcome string

const (
	Succeeded         Outcome = "succeeded"
	TimedOut          Outcome = "timed_out"
	AttemptsExhausted Outcome = "attempts_exhausted"
	Cancelled         Outcome = "cancelled"
)

// State is the mutable state of one session. It is owned by the session loop.
type State struct {
	SessionID    string    `json:"session_id"`
	StartTime    time.Time `json:"start_time"`
	Deadline     time.Time `json:"deadline"`
	AttemptsMade int       `json:"attempts_made"`
	MaxAttempts  int       `json:"max_attempts"`
	Success      bool      `json:"success"`
	Bootstrapped bool      `json:"bootstrapped"`
}

// Status is a point-in-time copy of a running session, handed to observers.
type Status struct {
	State    State                           `json:"state"`
	Attempts int                             `json:"attempts_recorded"`
	Registry store.Snapshot                  `json:"registry"`
	Last     []model.ConnectionAttemptRecord `json:"recent_attempts"`
}

// Result is what a finished session hands to the report generator.
type Result struct {
	State    State
	Outcome  Outcome
	EndTime  time.Time
	Records  []model.ConnectionAttemptRecord
	Registry store.Snapshot
	Samples  []model.Metric
}
