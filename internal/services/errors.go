package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	// ErrPrecondition rejects a start request before any job state is written.
	ErrPrecondition = errors.New("precondition failed")
	// ErrSpawnFailed marks a subprocess that could not be launched.
	ErrSpawnFailed = errors.New("subprocess spawn failed")
	// ErrNonZeroExit marks a subprocess that exited with a disallowed code.
	ErrNonZeroExit = errors.New("subprocess exited with error")
	// ErrMalformedOutput marks subprocess output that does not match its contract.
	ErrMalformedOutput = errors.New("malformed output")
	// ErrCancelled is a deliberate stop requested by the user. It is not a failure.
	ErrCancelled = errors.New("cancelled")
	// ErrPartialFailure marks per-item failures that were counted instead of aborting.
	ErrPartialFailure = errors.New("partial failure")
)

// FailureMode classifies how a failed stage affects its job.
type FailureMode string

const (
	FailureFatal     FailureMode = "fatal"
	FailureRetryable FailureMode = "retryable"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails is the user-facing breakdown of a wrapped error.
type ErrorDetails struct {
	Marker  error
	Message string
}

var markers = []error{
	ErrCancelled,
	ErrPrecondition,
	ErrMalformedOutput,
	ErrSpawnFailed,
	ErrNonZeroExit,
	ErrTimeout,
	ErrPartialFailure,
	ErrNotFound,
	ErrValidation,
	ErrConfiguration,
	ErrExternalTool,
	ErrTransient,
}

// Details returns the first known marker carried by err and the message with
// that marker prefix removed.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	message := strings.TrimSpace(err.Error())
	for _, marker := range markers {
		if errors.Is(err, marker) {
			message = strings.TrimPrefix(message, marker.Error()+": ")
			return ErrorDetails{Marker: marker, Message: message}
		}
	}
	return ErrorDetails{Message: message}
}

// Classify reports whether a stage failure is worth retrying by a caller. The
// workflow never retries on its own; the classification is surfaced in logs.
func Classify(err error) FailureMode {
	switch {
	case err == nil:
		return FailureFatal
	case errors.Is(err, ErrTransient), errors.Is(err, ErrTimeout):
		return FailureRetryable
	default:
		return FailureFatal
	}
}

// HTTPStatus maps an error returned by a control operation to a response code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPrecondition), errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
