// Package naverrors defines the closed set of error kinds the navigation
// core can surface (spec §7) and helpers for propagating and classifying
// them. Transient kinds are recovered locally by callers; persistent kinds
// terminate a goal session.
package naverrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error kinds enumerated in spec §7.
type Kind string

// The closed set of error kinds.
const (
	InvalidGoal             Kind = "invalid_goal"
	TransformUnavailable     Kind = "transform_unavailable"
	OffMap                   Kind = "off_map"
	PlannerTimeout           Kind = "planner_timeout"
	PlannerExhaustedRetries  Kind = "planner_exhausted_retries"
	ControllerNoVelocity     Kind = "controller_no_velocity"
	ControllerTimeout        Kind = "controller_timeout"
	Oscillation              Kind = "oscillation"
	CostmapStale             Kind = "costmap_stale"
	RecoveryExhausted        Kind = "recovery_exhausted"
	Shutdown                 Kind = "shutdown"
)

// transientKinds are recovered within a single control cycle: zero velocity,
// defer, or step to the next recovery. Everything else is persistent and
// terminates the owning goal session.
var transientKinds = map[Kind]bool{
	ControllerNoVelocity: true,
	CostmapStale:         true,
	OffMap:               true,
}

// Error is a Kind-tagged error with an optional wrapped cause.
type Error struct {
	Kind  Kind
	cause error
}

// New constructs an Error of the given kind, wrapping cause (which may be
// nil) with a stack trace via github.com/pkg/errors.
func New(kind Kind, cause error) *Error {
	if cause == nil {
		return &Error{Kind: kind, cause: errors.New(string(kind))}
	}
	return &Error{Kind: kind, cause: errors.WithMessage(cause, string(kind))}
}

// Newf is New with a formatted message as the cause.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Errorf(format, args...))
}

func (e *Error) Error() string { return e.cause.Error() }

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var nerr *Error
	if errors.As(err, &nerr) {
		return nerr.Kind == kind
	}
	return false
}

// Transient reports whether err (if it is a *Error) is one of the kinds a
// control cycle recovers from locally rather than terminating the session.
func Transient(err error) bool {
	var nerr *Error
	if errors.As(err, &nerr) {
		return transientKinds[nerr.Kind]
	}
	return false
}

// ReasonFor renders the ABORTED/REJECTED reason string for a recovery
// trigger or terminal kind, matching the fixed vocabulary in spec §6.
func ReasonFor(kind Kind) string {
	switch kind {
	case InvalidGoal:
		return "invalid quaternion"
	case PlannerExhaustedRetries, PlannerTimeout:
		return "planning failed after recovery"
	case ControllerTimeout, ControllerNoVelocity:
		return "control failed after recovery"
	case Oscillation:
		return "oscillating after recovery"
	case Shutdown:
		return "node shutting down"
	case RecoveryExhausted:
		return "planning failed after recovery"
	default:
		return string(kind)
	}
}
