package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"

	"natprobe/internal/model"
)

// Classify maps a transport error to an attempt outcome. Unknown errors,
// including nil, map to OutcomeError.
func Classify(err error) model.Outcome {
	if err == nil {
		return model.OutcomeError
	}

	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return model.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.OutcomeTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return model.OutcomeRefused
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return model.OutcomeTimeout
	case strings.Contains(msg, "connection refused"):
		return model.OutcomeRefused
	}
	return model.OutcomeError
}
