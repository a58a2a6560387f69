package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Engine owns the node state, the client registry, and the two-phase
// (parallel+sequential) traversal algorithm, and holds the single
// coarse lock that serializes every mutation of that state.
type Engine struct {
	mu sync.Mutex

	state           NodeState
	externalBlocked bool
	resetActive     bool
	resetKind       ShutdownKind

	registry   *registry
	dispatcher *dispatcher
	timers     *timerService
	platform   PlatformCollaborator

	log     logger
	metrics Metrics
	config  Config

	clientName func(ClientID) string

	// defaultClientID identifies the always-registered platform
	// bookkeeping client, if RegisterDefaultClient has been called.
	defaultClientID *ClientID

	// transition is the in-flight transitionContext, or nil when Idle.
	transition *transitionContext
	generation uint64

	// collectiveCancel cancels the current collective-timeout worker's
	// context; calling it is how a superseding SetNodeState discards
	// the remaining phase work.
	collectiveCancel context.CancelFunc

	lastTraversal []traversalStep
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithLogger(l logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithClientName overrides the default id->string formatting used for
// metrics labels and log lines.
func WithClientName(fn func(ClientID) string) Option {
	return func(e *Engine) { e.clientName = fn }
}

// WithInitialState overrides the engine's starting NodeState (default
// StartUp).
func WithInitialState(state NodeState) Option {
	return func(e *Engine) { e.state = state }
}

// NewEngine constructs a transition engine that dispatches notifications
// through transport and delegates reset/LUC decisions to platform.
func NewEngine(transport Transport, platform PlatformCollaborator, opts ...Option) *Engine {
	e := &Engine{
		state:      StartUp,
		registry:   newRegistry(),
		timers:     newTimerService(),
		platform:   platform,
		log:        noopLogger{},
		metrics:    noopMetrics{},
		config:     DefaultConfig(),
		clientName: func(id ClientID) string { return fmt.Sprintf("%016x", uint64(id)) },
	}
	e.externalBlocked = false
	for _, opt := range opts {
		opt(e)
	}
	e.externalBlocked = e.config.ExternalNodeStateBlockedDefault
	e.dispatcher = newDispatcher(transport, e.timers)
	return e
}

// Close stops every outstanding timer and collective-timeout worker.
// Called on process exit: the registry and timers are torn down, and
// nothing fires after this returns.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.collectiveCancel != nil {
		e.collectiveCancel()
	}
	e.mu.Unlock()
	e.timers.stopAll()
}

// ===== Request surface =====

// QueryNodeState returns the current node state.
func (e *Engine) QueryNodeState() NodeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetExternalNodeStateBlocked toggles the "external node-state block"
// flag that, when set, refuses every externally-originated SetNodeState
// call regardless of target.
func (e *Engine) SetExternalNodeStateBlocked(blocked bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.externalBlocked = blocked
}

// RegisterLifecycleClient upserts id into the registry. Returns
// StatusOk on create, StatusLast on update, StatusParameter on invalid
// input.
func (e *Engine) RegisterLifecycleClient(id ClientID, kinds ShutdownKind, timeoutMS uint32) ErrorStatus {
	if kinds == Not {
		return StatusParameter
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result := e.registry.upsert(id, kinds, timeoutMS)
	if result == Created {
		e.log.Infof("client %s registered kinds=%s timeout=%dms", e.clientName(id), kinds, timeoutMS)
		return StatusOk
	}
	e.log.Infof("client %s updated kinds=%s timeout=%dms", e.clientName(id), kinds, timeoutMS)
	return StatusLast
}

// UnregisterLifecycleClient clears kinds bits from id's registration.
func (e *Engine) UnregisterLifecycleClient(id ClientID, kinds ShutdownKind) ErrorStatus {
	if kinds == Not {
		return StatusParameter
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry.removeKinds(id, kinds) == RemoveNotFound {
		return StatusParameter
	}
	e.log.Infof("client %s unregistered kinds=%s", e.clientName(id), kinds)
	return StatusOk
}

// SetNodeState requests a node-state change, enforcing the external
// block and reset-in-progress rules before validating the transition
// itself.
func (e *Engine) SetNodeState(newState NodeState, external bool) ErrorStatus {
	if !newState.isValid() {
		return StatusParameter
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setNodeStateLocked(newState, external, 0)
}

// setNodeStateLocked is the core of SetNodeState; it additionally
// accepts a reset reason code (0 when this isn't a reset-triggered
// transition) so RequestReset can reuse the exact same path to enter
// ShuttingDown or FastShutdown.
func (e *Engine) setNodeStateLocked(newState NodeState, external bool, resetReason int) ErrorStatus {
	from := e.state

	if external && e.externalBlocked {
		return StatusError
	}

	if e.resetActive && external && !newState.isShutdownTarget() && resetReason == 0 {
		// Any external attempt to enter a non-shutdown node state is
		// refused while a reset is in progress.
		return StatusError
	}

	if isIgnoredShutdownRepeat(from, newState) {
		// Already shut down / shutting down: ignored, not an error.
		return StatusOk
	}

	if !transitionAllowed(from, newState) {
		return StatusParameter
	}

	if from == newState {
		// Idempotent no-op transition (also covers two consecutive
		// identical SetNodeState(ShuttingDown) calls once the first
		// has already landed on ShuttingDown).
		return StatusOk
	}

	e.beginTransitionLocked(from, newState)
	return StatusOk
}

// RequestReset forwards a reset request to the platform collaborator
// and drives the node into the requested shutdown kind through the
// normal SetNodeState path.
func (e *Engine) RequestReset(reason int, kind ShutdownKind) ErrorStatus {
	target := ShuttingDown
	if kind.any(Fast) {
		target = FastShutdown
	}

	e.mu.Lock()
	e.resetActive = true
	e.resetKind = kind
	e.mu.Unlock()

	e.platform.RequestReset(reason, kind)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setNodeStateLocked(target, false, reason)
}

// AcknowledgeLifecycleRequest records a client's reply to its
// outstanding notification, advancing the phase if it was the last one
// pending.
func (e *Engine) AcknowledgeLifecycleRequest(id ClientID, status ErrorStatus) ErrorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	tc := e.transition
	client := e.registry.findByID(id)
	if client == nil {
		return StatusError
	}

	if tc != nil && tc.sequentialInFlight && tc.currentSequential == id {
		e.registry.cancelAndClear(id)
		tc.sequentialInFlight = false
		client.hasPendingCall = false
		e.recordAck(client, tc)
		e.notifyNextSequentialLocked(tc)
		return StatusOk
	}

	if tc != nil {
		if _, pending := tc.pendingParallel[id]; pending {
			e.registry.cancelAndClear(id)
			delete(tc.pendingParallel, id)
			client.hasPendingCall = false
			e.recordAck(client, tc)
			if len(tc.pendingParallel) == 0 {
				e.advancePhaseLocked(tc)
			}
			return StatusOk
		}
	}

	// Known client, but not expected right now: a late reply.
	e.metrics.LateReply(e.clientName(id))
	e.log.Infof("late reply from client %s", e.clientName(id))
	e.reconcileLateClientLocked(client)
	return StatusWrongClient
}

// recordAck is the bookkeeping shared by the sequential and parallel ack
// paths: update is_shut_down and emit the metric. The engine does not
// record when a notification was sent, so the latency it passes to
// ClientAcked is always zero.
func (e *Engine) recordAck(client *LifecycleClient, tc *transitionContext) {
	e.markDirectionLocked(client, tc.direction)
	e.metrics.ClientAcked(e.clientName(client.ID), 0)
}

// markDirectionLocked updates is_shut_down to reflect the direction of
// the transition a client was just notified for. This runs both for a
// client that actually acked and for one the engine gave up waiting on:
// a timed-out client is still presumed to have carried out the
// shutdown/run-up it was told about — its is_shut_down flag moves
// accordingly, and only a later out-of-band reply can correct a wrong
// presumption.
func (e *Engine) markDirectionLocked(client *LifecycleClient, direction transitionDirection) {
	client.isShutDown = direction == directionShutdown
}

// ===== Default platform client =====

// RegisterDefaultClient registers the always-present platform
// bookkeeping client: one that is never absent from the registry even
// before any application has registered. It is registered for every kind
// including the Parallel modifier, so it takes part in the parallel
// phase of every transition, never in a sequential one. Its zero timeout
// means its own per-client timer fires immediately, treating it as
// acknowledged without blocking real clients. NewEngine does not call
// this; the embedding process calls it once after construction.
func (e *Engine) RegisterDefaultClient(id ClientID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry.upsert(id, Normal|Fast|RunUp|Parallel, 0)
	e.defaultClientID = &id
}

// ===== Transition machinery =====

// beginTransitionLocked discards any in-flight transition, then either
// applies a direct state change (running-to-running, or a shutdown
// target straight to Shutdown) or starts the two-phase traversal for a
// shutdown/run-up crossing.
func (e *Engine) beginTransitionLocked(from, to NodeState) {
	e.cancelOutstandingLocked()
	e.generation++
	e.lastTraversal = nil

	if !crossesIntoShutdown(from, to) && !crossesIntoRunUp(from, to) {
		e.state = to
		e.transition = nil
		return
	}

	direction := directionShutdown
	if crossesIntoRunUp(from, to) {
		direction = directionRunUp
	}

	if direction == directionRunUp && e.resetActive {
		// A run-up supersedes a reset-triggered shutdown before it
		// reached Shutdown: the reset no longer applies. See DESIGN.md.
		e.resetActive = false
	}

	if e.defaultClientID != nil && e.registry.findByID(*e.defaultClientID) == nil {
		e.log.Errorf("internal: default platform session missing from registry")
	}

	tc := &transitionContext{
		direction:   direction,
		engineState: stateIdle,
		generation:  e.generation,
	}
	if direction == directionShutdown {
		tc.shutdownTarget = to
		e.state = to
	} else {
		e.state = Resume
	}

	e.transition = tc
	e.advancePhaseLocked(tc)
}

// cancelOutstandingLocked cancels the collective timer and every
// per-client timer still outstanding in the current transition, per the
// tie-break rule: "In-flight notifications are left to complete (their
// eventual ack is reconciled as a late reply)" — so hasPendingCall is
// left set; only the timer itself (which would otherwise mark the
// client "timed out" against a transition that no longer exists) is
// stopped.
func (e *Engine) cancelOutstandingLocked() {
	if e.collectiveCancel != nil {
		e.collectiveCancel()
		e.collectiveCancel = nil
	}

	tc := e.transition
	if tc == nil {
		return
	}
	if tc.sequentialInFlight {
		e.registry.cancelAndClear(tc.currentSequential)
	}
	for id := range tc.pendingParallel {
		e.registry.cancelAndClear(id)
	}
}

// advancePhaseLocked moves tc to its next engineState and either starts
// notifying that phase's clients or, if the transition has no more
// phases, finalizes it. Stale calls (tc superseded by a later
// transition) are no-ops — the authoritative-event check every entry
// point into the transition makes before touching shared state.
func (e *Engine) advancePhaseLocked(tc *transitionContext) {
	if e.transition != tc || tc.generation != e.generation {
		return
	}

	switch tc.engineState {
	case stateIdle:
		if tc.direction == directionShutdown {
			tc.engineState = stateShutdownPhase1
		} else {
			tc.engineState = stateRunUpPhase1
		}
		e.startPhaseLocked(tc)
	case stateShutdownPhase1:
		tc.engineState = stateShutdownPhase2
		e.startPhaseLocked(tc)
	case stateShutdownPhase2:
		e.finishTransitionLocked(tc, Shutdown)
	case stateRunUpPhase1:
		tc.engineState = stateRunUpPhase2
		e.startPhaseLocked(tc)
	case stateRunUpPhase2:
		e.finishTransitionLocked(tc, FullyOperational)
	}
}

// phaseLabel names an engineState for logging/metrics/graph purposes.
func phaseLabel(state engineState) string {
	switch state {
	case stateShutdownPhase1:
		return "shutdown-parallel"
	case stateShutdownPhase2:
		return "shutdown-sequential"
	case stateRunUpPhase1:
		return "runup-sequential"
	case stateRunUpPhase2:
		return "runup-parallel"
	default:
		return "idle"
	}
}

// startPhaseLocked computes tc's current dispatch kind and the set of
// qualifying clients for tc.engineState, then either dispatches them
// (arming the collective timer) or, if none qualify, advances
// immediately past the now-empty phase.
func (e *Engine) startPhaseLocked(tc *transitionContext) {
	var parallel bool
	var base ShutdownKind
	var pk phaseKind

	switch tc.engineState {
	case stateShutdownPhase1:
		parallel = true
		base = e.shutdownBaseKind(tc)
		pk = fastOrNormal(tc, phaseFastShutdownParallel, phaseNormalShutdownParallel)
	case stateShutdownPhase2:
		parallel = false
		base = e.shutdownBaseKind(tc)
		pk = fastOrNormal(tc, phaseFastShutdownSequential, phaseNormalShutdownSequential)
	case stateRunUpPhase1:
		parallel = false
		base = RunUp
		pk = phaseRunUpSequential
	case stateRunUpPhase2:
		parallel = true
		base = RunUp
		pk = phaseRunUpParallel
	}

	kind := base
	if parallel {
		kind |= Parallel
	}
	tc.currentKind = kind
	tc.phaseKind = pk

	clients := e.qualifyingClients(kind, parallel)
	label := phaseLabel(tc.engineState)
	e.metrics.PhaseStarted(label, kind)
	e.log.Infof("phase %s starting kind=%s clients=%d", label, kind, len(clients))
	e.checkAggregateCeilingLocked(label, clients, parallel)

	if len(clients) == 0 {
		e.advancePhaseLocked(tc)
		return
	}

	if parallel {
		e.startParallelLocked(tc, clients, label)
	} else {
		e.startSequentialLocked(tc, clients)
	}

	e.armCollectiveLocked(tc, pk)
}

// shutdownBaseKind returns Fast or Normal depending on which shutdown
// target this transition is driving toward.
func (e *Engine) shutdownBaseKind(tc *transitionContext) ShutdownKind {
	if tc.shutdownTarget == FastShutdown {
		return Fast
	}
	return Normal
}

func fastOrNormal(tc *transitionContext, fast, normal phaseKind) phaseKind {
	if tc.shutdownTarget == FastShutdown {
		return fast
	}
	return normal
}

// qualifyingClients returns every registered client whose mask matches
// kind's base bits and whose Parallel registration matches parallel.
func (e *Engine) qualifyingClients(kind ShutdownKind, parallel bool) []*LifecycleClient {
	var out []*LifecycleClient
	e.registry.iterateForward(func(c *LifecycleClient) {
		if matchesKind(c.registeredMask, kind) && c.registeredMask.isParallel() == parallel {
			out = append(out, c)
		}
	})
	return out
}

// startParallelLocked fans kind out to every client in clients
// simultaneously and arms each one's per-client timer.
func (e *Engine) startParallelLocked(tc *transitionContext, clients []*LifecycleClient, label string) {
	tc.pendingParallel = make(map[ClientID]struct{}, len(clients))
	for _, c := range clients {
		tc.pendingParallel[c.ID] = struct{}{}
		c.hasPendingCall = true
		e.recordTraversalStep(c.ID, tc.currentKind, label)
	}

	handles := e.dispatcher.notifyParallel(clients, tc.currentKind, func(id ClientID) {
		e.onParallelTimeout(tc, id)
	})
	for id, handle := range handles {
		h := handle
		e.registry.setCancel(id, func() { e.timers.cancel(h) })
	}
}

// startSequentialLocked builds the phase's traversal order — a
// LIFOQueue for shutdown (reverse-insertion order) or a FIFOQueue for
// run-up (forward-insertion order) — and dispatches the first client.
func (e *Engine) startSequentialLocked(tc *transitionContext, clients []*LifecycleClient) {
	if tc.direction == directionShutdown {
		q := &LIFOQueue[ClientID]{}
		for _, c := range clients {
			q.Push(c.ID)
		}
		tc.sequentialQueue = q
	} else {
		q := &FIFOQueue[ClientID]{}
		for _, c := range clients {
			q.Push(c.ID)
		}
		tc.sequentialQueue = q
	}
	e.notifyNextSequentialLocked(tc)
}

// notifyNextSequentialLocked pops the next candidate off tc's
// traversal queue and dispatches it, skipping ids that were evicted or
// no longer qualify since the queue was built. When the queue is empty,
// the phase is complete.
func (e *Engine) notifyNextSequentialLocked(tc *transitionContext) {
	for {
		id, ok := tc.sequentialQueue.Pop()
		if !ok {
			e.advancePhaseLocked(tc)
			return
		}

		client := e.registry.findByID(id)
		if client == nil || !matchesKind(client.registeredMask, tc.currentKind) {
			continue
		}

		tc.currentSequential = id
		tc.sequentialInFlight = true
		client.hasPendingCall = true
		e.recordTraversalStep(id, tc.currentKind, phaseLabel(tc.engineState))

		handle := e.dispatcher.notifySequential(client, tc.currentKind, func() {
			e.onSequentialTimeout(tc, id)
		})
		e.registry.setCancel(id, func() { e.timers.cancel(handle) })
		return
	}
}

// onSequentialTimeout is the per-client timer callback for a sequential
// notification. Its first action is to check whether it is still the
// authoritative event for this client/phase before touching anything,
// guarding against a race with a timer cancellation that crossed it.
func (e *Engine) onSequentialTimeout(tc *transitionContext, id ClientID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transition != tc || tc.generation != e.generation {
		return
	}
	if !tc.sequentialInFlight || tc.currentSequential != id {
		return
	}

	client := e.registry.findByID(id)
	tc.sequentialInFlight = false
	e.registry.clearCancel(id)
	if client != nil {
		// hasPendingCall stays true: the client may still reply late
		// and be reconciled.
		e.markDirectionLocked(client, tc.direction)
		e.metrics.ClientTimedOut(e.clientName(id))
		e.log.Infof("client %s timed out (sequential)", e.clientName(id))
	}
	e.notifyNextSequentialLocked(tc)
}

// onParallelTimeout is the per-client timer callback for a parallel
// notification, with the same authoritative-event guard.
func (e *Engine) onParallelTimeout(tc *transitionContext, id ClientID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transition != tc || tc.generation != e.generation {
		return
	}
	if _, pending := tc.pendingParallel[id]; !pending {
		return
	}

	delete(tc.pendingParallel, id)
	e.registry.clearCancel(id)
	if client := e.registry.findByID(id); client != nil {
		e.markDirectionLocked(client, tc.direction)
	}
	e.metrics.ClientTimedOut(e.clientName(id))
	e.log.Infof("client %s timed out (parallel)", e.clientName(id))

	if len(tc.pendingParallel) == 0 {
		e.advancePhaseLocked(tc)
	}
}

// armCollectiveLocked arms the collective (phase) timer: a dedicated
// goroutine parked on a deadline-aware context, woken either by the
// deadline or by cancelOutstandingLocked's call to e.collectiveCancel
// when a superseding transition arrives.
func (e *Engine) armCollectiveLocked(tc *transitionContext, pk phaseKind) {
	if e.collectiveCancel != nil {
		e.collectiveCancel()
	}

	duration := e.config.Phases.durationFor(pk)
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	e.collectiveCancel = cancel
	tc.phaseDeadline = time.Now().Add(duration)
	tc.phaseTimer = TimerHandle{}

	gen := tc.generation
	go func() {
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			e.onCollectiveTimeout(tc, gen)
		}
	}()
}

// onCollectiveTimeout forces progress past tc's current phase once its
// collective deadline expires. Every client still outstanding in this
// phase keeps hasPendingCall set so a subsequent late ack is still
// reconcilable.
func (e *Engine) onCollectiveTimeout(tc *transitionContext, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transition != tc || tc.generation != gen {
		return
	}

	label := phaseLabel(tc.engineState)
	e.metrics.CollectiveTimeoutFired(label)
	e.log.Warnf("collective timeout fired for phase %s; forcing transition past it", label)

	if tc.sequentialInFlight {
		e.registry.cancelAndClear(tc.currentSequential)
		if client := e.registry.findByID(tc.currentSequential); client != nil {
			e.markDirectionLocked(client, tc.direction)
		}
		tc.sequentialInFlight = false
	}
	for id := range tc.pendingParallel {
		e.registry.cancelAndClear(id)
		if client := e.registry.findByID(id); client != nil {
			e.markDirectionLocked(client, tc.direction)
		}
	}
	tc.pendingParallel = nil

	e.advancePhaseLocked(tc)
}

// finishTransitionLocked lands the node on its terminal state and
// retires tc.
func (e *Engine) finishTransitionLocked(tc *transitionContext, terminal NodeState) {
	e.state = terminal
	if e.collectiveCancel != nil {
		e.collectiveCancel()
		e.collectiveCancel = nil
	}
	e.transition = nil

	if terminal == Shutdown {
		// The reset flag clears the instant the reset-triggered
		// transition reaches its terminal state.
		e.resetActive = false
	}

	e.log.Infof("transition complete -> %s", terminal)
}

// checkAggregateCeilingLocked implements a diagnostic-only aggregate
// timeout warning, checked once per phase: the sum of the phase's client
// timeouts for a sequential phase, or their maximum for a parallel
// phase, compared against the configured ceiling. The two phases of a
// transition are checked separately; their figures are not added
// together. Never enforced — logged only.
func (e *Engine) checkAggregateCeilingLocked(label string, clients []*LifecycleClient, parallel bool) {
	var total, max uint32
	for _, c := range clients {
		total += c.timeoutMS
		if c.timeoutMS > max {
			max = c.timeoutMS
		}
	}
	aggregate := total
	if parallel {
		aggregate = max
	}
	if aggregate > e.config.AggregateTimeoutCeilingMS {
		e.log.Warnf("phase %s aggregate timeout %dms exceeds ceiling %dms", label, aggregate, e.config.AggregateTimeoutCeilingMS)
	}
}

// reconcileLateClientLocked handles a late reply: if the current node
// state and the client's is_shut_down flag disagree, send a single
// out-of-band notification to bring it back in sync. No timer is armed
// for it.
func (e *Engine) reconcileLateClientLocked(client *LifecycleClient) {
	currentlyRunning := e.state != Shutdown && !e.state.isShutdownTarget()
	mismatch := currentlyRunning == client.isShutDown

	if !mismatch {
		client.hasPendingCall = false
		return
	}

	var kind ShutdownKind
	if currentlyRunning {
		kind = RunUp
		client.isShutDown = false
	} else {
		kind = Normal
		if e.state == FastShutdown {
			kind = Fast
		}
		client.isShutDown = true
	}

	e.dispatcher.notifyOutOfBand(client, kind)
	client.hasPendingCall = false
	e.log.Infof("out-of-band reconciliation sent to client %s kind=%s", e.clientName(client.ID), kind)
}

// recordTraversalStep appends a dispatched notification to the
// in-progress transition's traversal log, which BuildTraversalGraph
// (graph.go) renders for debugging.
func (e *Engine) recordTraversalStep(id ClientID, kind ShutdownKind, phase string) {
	e.lastTraversal = append(e.lastTraversal, traversalStep{id: id, kind: kind, phase: phase})
}
