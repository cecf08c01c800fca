package llm

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds for extraction calls. The retry policy retries transient
// and malformed failures; fatal failures short-circuit.
var (
	// ErrTransient marks rate limits, network errors, and 5xx responses.
	ErrTransient = errors.New("transient extraction failure")
	// ErrMalformed marks non-JSON or schema-violating model output.
	ErrMalformed = errors.New("malformed extraction output")
	// ErrFatal marks unsupported or unreadable input and rejected requests.
	ErrFatal = errors.New("fatal extraction failure")
)

func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

func Malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func Fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFatal, fmt.Sprintf(format, args...))
}

// Retryable reports whether an extraction failure is worth another attempt.
// Context cancellation is never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrMalformed)
}

// Kind returns a short label for logging.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrFatal):
		return "fatal"
	default:
		return "unknown"
	}
}
