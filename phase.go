package lifecycle

import "time"

// engineState is a condensed state machine layered on top of (not a
// replacement for) NodeState: it tracks which half of a two-phase
// transition is currently in flight.
type engineState int

const (
	stateIdle engineState = iota
	stateShutdownPhase1
	stateShutdownPhase2
	stateRunUpPhase1
	stateRunUpPhase2
	stateTerminal
)

func (s engineState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateShutdownPhase1:
		return "ShutdownPhase1"
	case stateShutdownPhase2:
		return "ShutdownPhase2"
	case stateRunUpPhase1:
		return "RunUpPhase1"
	case stateRunUpPhase2:
		return "RunUpPhase2"
	case stateTerminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// phaseKind names one of the six collective-timeout phases, used purely
// to look up the right duration in PhaseTimeouts.
type phaseKind int

const (
	phaseNone phaseKind = iota
	phaseFastShutdownParallel
	phaseFastShutdownSequential
	phaseNormalShutdownSequential
	phaseNormalShutdownParallel
	phaseRunUpSequential
	phaseRunUpParallel
)

// transitionDirection distinguishes a shutdown transition (parallel
// phase first, then sequential) from a run-up transition (sequential
// phase first, then parallel).
type transitionDirection int

const (
	directionShutdown transitionDirection = iota
	directionRunUp
)

// transitionContext is the engine's working state during a transition.
// It is created whenever the node state changes into a state that
// requires notifying clients, and destroyed when all phases complete or
// a new node-state change supersedes it.
type transitionContext struct {
	direction transitionDirection

	// shutdownTarget is the NodeState this transition is driving toward
	// when direction is directionShutdown (ShuttingDown or FastShutdown).
	// Unused for a run-up transition, which always finalizes to
	// FullyOperational regardless of which running state was requested.
	shutdownTarget NodeState

	// currentKind is the ShutdownKind bit set currently being
	// dispatched — what gets sent to clients in the phase now running.
	currentKind ShutdownKind

	// pendingParallel is the set of client ids whose parallel
	// notification in this phase is outstanding.
	pendingParallel map[ClientID]struct{}

	// sequentialQueue holds the not-yet-notified sequential clients for
	// the current phase, in the required traversal order: LIFOQueue for
	// shutdown, FIFOQueue for run-up.
	sequentialQueue Queue[ClientID]

	// currentSequential is the client id whose sequential notification
	// is outstanding, or 0 (no client id is ever 0 in practice since the
	// transport supplies real hashes, but the engine additionally tracks
	// validity with sequentialInFlight to avoid relying on a sentinel
	// value).
	currentSequential  ClientID
	sequentialInFlight bool

	engineState engineState
	phaseKind   phaseKind

	// phaseDeadline is the monotonic instant the collective timer for
	// the current phase was armed to fire at. Recorded for diagnostics
	// and tests; the actual firing is driven by the context deadline of
	// the worker goroutine armCollectiveLocked starts, not by polling
	// this field.
	phaseDeadline time.Time
	phaseTimer    TimerHandle

	// generation increments every time a transitionContext is replaced.
	// A timer or goroutine captures the generation it was armed under;
	// if the engine's current generation has moved on by the time the
	// callback runs, the callback is a no-op.
	generation uint64
}
