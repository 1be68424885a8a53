package sandbox

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is a machine-readable classification of an engine failure.
type ErrorCode string

const (
	CodeEngineUnavailable ErrorCode = "engine_unavailable"
	CodeCreateFailed      ErrorCode = "create_failed"
	CodeStartFailed       ErrorCode = "start_failed"
	CodeExecFailed        ErrorCode = "exec_failed"
	CodeInspectFailed     ErrorCode = "inspect_failed"
	CodeStopFailed        ErrorCode = "stop_failed"
	CodeNotFound          ErrorCode = "not_found"
	CodePortNotMapped     ErrorCode = "port_not_mapped"
	CodeStatsFailed       ErrorCode = "stats_failed"
	CodeTransferFailed    ErrorCode = "transfer_failed"
)

var (
	// ErrUnknownBackend is returned when the configured runtime name has no
	// registered implementation.
	ErrUnknownBackend = errors.New("unknown sandbox runtime")

	ErrInvalidSessionID = errors.New("invalid session id")
)

// EngineError is an infrastructure failure reported by a container runtime.
type EngineError struct {
	Op          string
	Code        ErrorCode
	ContainerID string
	Err         error
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s failed (%s)", e.Op, e.Code)
	if e.ContainerID != "" {
		msg += " for container " + e.ContainerID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

// TimeoutError is returned when readiness or stream completion does not
// arrive within its bound. Callers may retry.
type TimeoutError struct {
	Op          string
	ContainerID string
	After       time.Duration
}

func (e *TimeoutError) Error() string {
	if e.ContainerID != "" {
		return fmt.Sprintf("%s timed out after %s for container %s", e.Op, e.After, e.ContainerID)
	}
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// IsTimeout reports whether err is or wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// CodeOf returns the ErrorCode of the first *EngineError in err's chain, or
// an empty code.
func CodeOf(err error) ErrorCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}
