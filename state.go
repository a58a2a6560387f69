package lifecycle

import "fmt"

// NodeState is the tagged enumeration of global node states. Exactly one
// value is current at any time; transitions are driven only by the
// transition engine (see engine.go).
type NodeState int

const (
	NotSet NodeState = iota
	StartUp
	BaseRunning
	LucRunning
	FullyRunning
	FullyOperational
	ShuttingDown
	ShutdownDelay
	FastShutdown
	DegradedPower
	Shutdown
	Resume
)

func (s NodeState) String() string {
	switch s {
	case NotSet:
		return "NotSet"
	case StartUp:
		return "StartUp"
	case BaseRunning:
		return "BaseRunning"
	case LucRunning:
		return "LucRunning"
	case FullyRunning:
		return "FullyRunning"
	case FullyOperational:
		return "FullyOperational"
	case ShuttingDown:
		return "ShuttingDown"
	case ShutdownDelay:
		return "ShutdownDelay"
	case FastShutdown:
		return "FastShutdown"
	case DegradedPower:
		return "DegradedPower"
	case Shutdown:
		return "Shutdown"
	case Resume:
		return "Resume"
	default:
		return fmt.Sprintf("NodeState(%d)", int(s))
	}
}

// isValid reports whether s is one of the twelve defined node states.
func (s NodeState) isValid() bool {
	return s >= NotSet && s <= Resume
}

// isShutdownTarget reports whether s is one of the two states a shutdown
// transition can target.
func (s NodeState) isShutdownTarget() bool {
	return s == ShuttingDown || s == FastShutdown
}

// isRunning reports whether s is a "running" state for transition
// purposes: StartUp, BaseRunning, LucRunning, FullyRunning,
// FullyOperational, Resume or DegradedPower. NotSet, ShutdownDelay, the
// shutdown targets and Shutdown are not running states.
func (s NodeState) isRunning() bool {
	switch s {
	case StartUp, BaseRunning, LucRunning, FullyRunning, FullyOperational, Resume, DegradedPower:
		return true
	default:
		return false
	}
}

// transitionAllowed reports whether from->to is a legal state change. It
// does not account for the external-block flag or reset-in-progress
// refusal; those are layered on top by the engine, which has that
// context.
func transitionAllowed(from, to NodeState) bool {
	if !from.isValid() || !to.isValid() {
		return false
	}

	switch {
	case from.isRunning() && to.isShutdownTarget():
		return true
	case from.isRunning() && to.isRunning():
		// Progressing between running states (e.g. boot-time
		// StartUp -> BaseRunning) never crosses the shutdown
		// boundary, so it never triggers the two-phase algorithm —
		// it's a direct state change.
		return true
	case from.isShutdownTarget() && to == Shutdown:
		return true
	case from.isShutdownTarget() && to.isRunning():
		return true
	case from == Shutdown && to.isShutdownTarget():
		// Ignored: not an error, but not a state change either. The
		// caller (engine) is responsible for treating this as a no-op
		// Ok rather than calling transitionAllowed at all; this
		// function only reports legality for callers that do want to
		// distinguish it from a hard Parameter error.
		return false
	case from == Shutdown && to.isRunning():
		return true
	default:
		return from == to
	}
}

// crossesIntoShutdown reports whether from->to is a transition that must
// run the shutdown two-phase traversal.
func crossesIntoShutdown(from, to NodeState) bool {
	return from.isRunning() && to.isShutdownTarget()
}

// crossesIntoRunUp reports whether from->to is a transition that must
// run the run-up two-phase traversal.
func crossesIntoRunUp(from, to NodeState) bool {
	return (from.isShutdownTarget() || from == Shutdown) && to.isRunning()
}

// isIgnoredShutdownRepeat reports the "already shutting down / shut down"
// no-op case: a request to re-enter a shutdown state while already in
// Shutdown.
func isIgnoredShutdownRepeat(from, to NodeState) bool {
	return from == Shutdown && to.isShutdownTarget()
}
