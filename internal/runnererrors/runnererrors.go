// Package runnererrors models the error kinds of spec.md §7 as distinct
// sentinel-wrapping types, so callers can errors.Is / errors.As instead of
// string-matching, the way the source's "Test cancelled" string convention
// did.
package runnererrors

import "errors"

// Kind identifies one of the error kinds from spec.md §7.
type Kind string

const (
	KindDiscovery          Kind = "discovery"
	KindNavigation         Kind = "navigation"
	KindContentReadyTimeout Kind = "content-ready-timeout"
	KindPageCrash          Kind = "page-crash"
	KindScreenshot         Kind = "screenshot"
	KindMissingBaseline    Kind = "missing-baseline"
	KindVisualDifference   Kind = "visual-difference"
	KindComparator         Kind = "comparator"
	KindCancelled          Kind = "cancelled"
)

// Error wraps an underlying cause with one of the Kind values above.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Reason + ": " + e.Cause.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, runnererrors.Cancelled) style checks work regardless of
// wrapping depth.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func New(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Retryable reports whether an error kind is retried under spec.md §7.
// MissingBaseline, VisualDifference, and Cancelled are terminal; everything
// else is retried up to RunConfig.Retries.
func Retryable(kind Kind) bool {
	switch kind {
	case KindMissingBaseline, KindVisualDifference, KindCancelled:
		return false
	default:
		return true
	}
}

// Sentinel instances usable with errors.Is when only the kind matters.
var (
	Cancelled       = &Error{Kind: KindCancelled, Reason: "test cancelled"}
	MissingBaseline = &Error{Kind: KindMissingBaseline, Reason: "missing baseline"}
)
