package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for runtime failures. Use errors.Is against a *RuntimeError.
var (
	ErrNotAvailable    = errors.New("runtime not available")
	ErrExecutionFailed = errors.New("execution failed")
	ErrTimeout         = errors.New("execution timed out")
)

// ErrorKind classifies a RuntimeError.
type ErrorKind int

const (
	KindNotAvailable    ErrorKind = iota // Prerequisites unmet (binary, daemon, kernel, build).
	KindExecutionFailed                  // Spawn or wait failed at the OS level.
	KindTimeout                          // Killed after exceeding the request timeout.
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotAvailable:
		return "not_available"
	case KindExecutionFailed:
		return "execution_failed"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// RuntimeError is returned by Runtime.Execute and CreateRuntime.
// A non-zero exit status is never a RuntimeError.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Seconds uint64 // set for KindTimeout
	Err     error  // underlying cause, if any
}

func (e *RuntimeError) Error() string {
	switch e.Kind {
	case KindNotAvailable:
		return "runtime not available: " + e.Message
	case KindTimeout:
		return fmt.Sprintf("command timed out after %d seconds", e.Seconds)
	default:
		if e.Err != nil {
			return fmt.Sprintf("execution failed: %s: %v", e.Message, e.Err)
		}
		return "execution failed: " + e.Message
	}
}

// Is maps the error kind onto the package sentinels.
func (e *RuntimeError) Is(target error) bool {
	switch target {
	case ErrNotAvailable:
		return e.Kind == KindNotAvailable
	case ErrExecutionFailed:
		return e.Kind == KindExecutionFailed
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// NotAvailable reports that a backend cannot run in this environment.
func NotAvailable(msg string) *RuntimeError {
	return &RuntimeError{Kind: KindNotAvailable, Message: msg}
}

// ExecutionFailed reports an OS-level spawn or wait failure.
func ExecutionFailed(msg string, cause error) *RuntimeError {
	return &RuntimeError{Kind: KindExecutionFailed, Message: msg, Err: cause}
}

// Timeout reports that a command was killed after secs seconds.
func Timeout(secs uint64) *RuntimeError {
	return &RuntimeError{Kind: KindTimeout, Seconds: secs}
}
