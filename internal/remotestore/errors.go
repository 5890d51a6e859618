package remotestore

import (
	"errors"
	"fmt"
)

// Kind classifies a store failure. The set is closed on purpose: retry policy
// is decided by matching kinds, never by inspecting error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnavailable
	KindThrottled
	KindTimeout
	KindNetwork
	KindValidation
	KindAccessDenied
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindThrottled:
		return "throttled"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindAccessDenied:
		return "access-denied"
	case KindNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Error is the classified failure returned by store drivers.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from an error chain. Errors that did not
// come from a store driver report KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether a failed write is worth repeating. Unclassified
// errors are not: an unknown failure mode gets no second chance.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindThrottled, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}
