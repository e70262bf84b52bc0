// Package report turns a finished session into a console summary, a
// plain-text report file and a JSON document.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"natprobe/internal/metrics"
	"natprobe/internal/model"
	"natprobe/internal/session"
)

// Exit codes returned by the run command.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitTimeout = 2
)

// Histogram counts error-outcome attempts by the cause found in their detail.
// The buckets are exclusive.
type Histogram struct {
	Timeout int `json:"timeout"`
	Refused int `json:"connection_refused"`
	Other   int `json:"other"`
}

// Total is the number of error-outcome attempts counted.
func (h Histogram) Total() int {
	return h.Timeout + h.Refused + h.Other
}

// Report is the summary of one session.
type Report struct {
	SessionID    string                          `json:"session_id"`
	Outcome      session.Outcome                 `json:"outcome"`
	Passed       bool                            `json:"passed"`
	ExitCode     int                             `json:"exit_code"`
	StartTime    time.Time                       `json:"start_time"`
	EndTime      time.Time                       `json:"end_time"`
	Duration     time.Duration                   `json:"-"`
	DurationSec  float64                         `json:"duration_seconds"`
	AttemptsMade int                             `json:"attempts_made"`
	MaxAttempts  int                             `json:"max_attempts"`
	Attempts     []model.ConnectionAttemptRecord `json:"attempts"`
	Failures     Histogram                       `json:"failures"`
	RTT          *metrics.Summary                `json:"rtt,omitempty"`
	Registry     []model.BootstrapPeerRecord     `json:"registry,omitempty"`
}

// Build summarises a session from its final state and attempt log.
func Build(state session.State, records []model.ConnectionAttemptRecord, outcome session.Outcome, now time.Time) Report {
	if records == nil {
		records = []model.ConnectionAttemptRecord{}
	}
	duration := now.Sub(state.StartTime)
	return Report{
		SessionID:    state.SessionID,
		Outcome:      outcome,
		Passed:       outcome == session.Succeeded,
		ExitCode:     ExitCode(outcome),
		StartTime:    state.StartTime,
		EndTime:      now,
		Duration:     duration,
		DurationSec:  duration.Seconds(),
		AttemptsMade: state.AttemptsMade,
		MaxAttempts:  state.MaxAttempts,
		Attempts:     records,
		Failures:     Failures(records),
	}
}

// FromResult builds a report and adds the RTT summary and final registry.
func FromResult(res *session.Result) Report {
	r := Build(res.State, res.Records, res.Outcome, res.EndTime)
	if len(res.Samples) > 0 {
		s := metrics.Summarize(res.Samples, time.Time{})
		r.RTT = &s
	}
	r.Registry = res.Registry.Nodes
	return r
}

// ExitCode maps a session outcome to the process exit code.
func ExitCode(outcome session.Outcome) int {
	switch outcome {
	case session.Succeeded:
		return ExitSuccess
	case session.TimedOut:
		return ExitTimeout
	default:
		return ExitFailure
	}
}

// Failures buckets the error-outcome records. Details are compared after
// lowercasing and dropping spaces and underscores, so "Connection refused"
// and "ConnectionRefused" land in the same bucket.
func Failures(records []model.ConnectionAttemptRecord) Histogram {
	var h Histogram
	for _, rec := range records {
		if rec.Outcome != model.OutcomeError {
			continue
		}
		detail := normalize(rec.ErrorDetail)
		switch {
		case strings.Contains(detail, "timeout"):
			h.Timeout++
		case strings.Contains(detail, "connectionrefused"):
			h.Refused++
		default:
			h.Other++
		}
	}
	return h
}

func normalize(s string) string {
	return strings.NewReplacer(" ", "", "_", "").Replace(strings.ToLower(s))
}

func (r Report) result() string {
	if r.Passed {
		return "PASS"
	}
	return "FAIL"
}

// WriteText writes the short console summary.
func (r Report) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "result=%s outcome=%s duration=%s attempts=%d/%d\n",
		r.result(), r.Outcome, r.Duration.Round(time.Millisecond), r.AttemptsMade, r.MaxAttempts)
	fmt.Fprintf(&b, "failures timeout=%d refused=%d other=%d\n", r.Failures.Timeout, r.Failures.Refused, r.Failures.Other)
	if r.RTT != nil {
		fmt.Fprintf(&b, "rtt samples=%d avg=%.2fms p95=%.2fms min=%.2fms max=%.2fms\n",
			r.RTT.Count, r.RTT.AvgRTTMs, r.RTT.P95RTTMs, r.RTT.MinRTTMs, r.RTT.MaxRTTMs)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteFile writes the full plain-text report layout.
func (r Report) WriteFile(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintln(&b, "NAT Traversal Test Report")
	fmt.Fprintln(&b, "=========================")
	fmt.Fprintf(&b, "Session:   %s\n", r.SessionID)
	fmt.Fprintf(&b, "Result:    %s (%s)\n", r.result(), r.Outcome)
	fmt.Fprintf(&b, "Started:   %s\n", r.StartTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished:  %s\n", r.EndTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration:  %.2fs\n", r.DurationSec)
	fmt.Fprintf(&b, "Attempts:  %d/%d\n", r.AttemptsMade, r.MaxAttempts)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Connection Attempts")
	fmt.Fprintln(&b, "-------------------")
	if len(r.Attempts) == 0 {
		fmt.Fprintln(&b, "none")
	} else {
		fmt.Fprintf(&b, "%-4s  %-20s  %-52s  %-8s  %s\n", "#", "TIMESTAMP", "PEER", "OUTCOME", "DETAIL")
		for i, rec := range r.Attempts {
			fmt.Fprintf(&b, "%-4d  %-20s  %-52s  %-8s  %s\n",
				i+1, rec.Timestamp.UTC().Format(time.RFC3339), rec.PeerID, rec.Outcome, rec.ErrorDetail)
		}
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Failure Causes")
	fmt.Fprintln(&b, "--------------")
	fmt.Fprintf(&b, "Timeout:            %d\n", r.Failures.Timeout)
	fmt.Fprintf(&b, "Connection refused: %d\n", r.Failures.Refused)
	fmt.Fprintf(&b, "Other:              %d\n", r.Failures.Other)

	if r.RTT != nil {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Ping RTT")
		fmt.Fprintln(&b, "--------")
		fmt.Fprintf(&b, "samples=%d peers=%d avg=%.2fms p95=%.2fms min=%.2fms max=%.2fms\n",
			r.RTT.Count, r.RTT.Peers, r.RTT.AvgRTTMs, r.RTT.P95RTTMs, r.RTT.MinRTTMs, r.RTT.MaxRTTMs)
	}

	if len(r.Registry) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Bootstrap Peers")
		fmt.Fprintln(&b, "---------------")
		fmt.Fprintf(&b, "%-8s  %-7s  %-7s  %s\n", "STATUS", "SUCCESS", "FAILURE", "ADDRESS")
		for _, rec := range r.Registry {
			fmt.Fprintf(&b, "%-8s  %-7d  %-7d  %s\n", rec.Status, rec.SuccessCount, rec.FailureCount, rec.Address)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Save overwrites path with the plain-text report.
func (r Report) Save(path string) error {
	var b strings.Builder
	if err := r.WriteFile(&b); err != nil {
		return err
	}
	return writeFile(path, []byte(b.String()))
}

// SaveJSON overwrites path with the report as indented JSON.
func (r Report) SaveJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
