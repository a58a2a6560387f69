package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport is a Transport that appends every notified id to an
// order slice, safe for concurrent use by the dispatcher's parallel fan-out.
type recordingTransport struct {
	mu    sync.Mutex
	order []ClientID
	kinds map[ClientID]ShutdownKind
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{kinds: make(map[ClientID]ShutdownKind)}
}

func (r *recordingTransport) Notify(id ClientID, kind ShutdownKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, id)
	r.kinds[id] = kind
}

func (r *recordingTransport) snapshot() []ClientID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientID, len(r.order))
	copy(out, r.order)
	return out
}

func (r *recordingTransport) kindOf(id ClientID) ShutdownKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kinds[id]
}

const (
	clientA ClientID = 1
	clientB ClientID = 2
	clientC ClientID = 3
)

// TestEngine_S1_CleanShutdown mirrors the documented scenario: A and B
// register sequentially, C registers for the parallel phase. Shutdown
// notifies {C} first, then B, then A, reaching Shutdown once all three ack.
func TestEngine_S1_CleanShutdown(t *testing.T) {
	transport := newRecordingTransport()
	engine := NewEngine(transport, NoopPlatform{}, WithInitialState(FullyOperational))

	engine.RegisterLifecycleClient(clientA, Normal, 500)
	engine.RegisterLifecycleClient(clientB, Normal, 500)
	engine.RegisterLifecycleClient(clientC, Normal|Parallel, 500)

	status := engine.SetNodeState(ShuttingDown, false)
	require.Equal(t, StatusOk, status)
	assert.Equal(t, []ClientID{clientC}, transport.snapshot())

	require.Equal(t, StatusOk, engine.AcknowledgeLifecycleRequest(clientC, StatusOk))
	assert.Equal(t, []ClientID{clientC, clientB}, transport.snapshot())

	require.Equal(t, StatusOk, engine.AcknowledgeLifecycleRequest(clientB, StatusOk))
	assert.Equal(t, []ClientID{clientC, clientB, clientA}, transport.snapshot())

	require.Equal(t, StatusOk, engine.AcknowledgeLifecycleRequest(clientA, StatusOk))
	assert.Equal(t, Shutdown, engine.QueryNodeState())
}

// TestEngine_S2_SequentialTimeout mirrors the documented scenario: B(seq,
// t=5000) is notified first by traversal order, acks quickly; A(seq,
// t=100) is notified next and never acks, so its per-client timer forces
// the transition through to Shutdown, and A's late ack is rejected.
func TestEngine_S2_SequentialTimeout(t *testing.T) {
	transport := newRecordingTransport()
	engine := NewEngine(transport, NoopPlatform{}, WithInitialState(FullyOperational))

	engine.RegisterLifecycleClient(clientA, Normal, 100)
	engine.RegisterLifecycleClient(clientB, Normal, 5000)

	require.Equal(t, StatusOk, engine.SetNodeState(ShuttingDown, false))
	assert.Equal(t, []ClientID{clientB}, transport.snapshot())

	require.Equal(t, StatusOk, engine.AcknowledgeLifecycleRequest(clientB, StatusOk))
	assert.Equal(t, []ClientID{clientB, clientA}, transport.snapshot())

	assert.Eventually(t, func() bool {
		return engine.QueryNodeState() == Shutdown
	}, time.Second, 2*time.Millisecond)

	assert.Equal(t, StatusWrongClient, engine.AcknowledgeLifecycleRequest(clientA, StatusOk))
}

// TestEngine_S3_RunUpSupersedesShutdown mirrors the documented scenario:
// a run-up request arrives before the in-flight shutdown reaches
// Shutdown. The engine cancels the outstanding parallel notification and
// drives run-up phase-1 (sequential A, then B) then phase-2 (parallel C),
// finishing in FullyOperational.
func TestEngine_S3_RunUpSupersedesShutdown(t *testing.T) {
	transport := newRecordingTransport()
	engine := NewEngine(transport, NoopPlatform{}, WithInitialState(FullyOperational))

	engine.RegisterLifecycleClient(clientA, Normal|RunUp, 500)
	engine.RegisterLifecycleClient(clientB, Normal|RunUp, 500)
	engine.RegisterLifecycleClient(clientC, Normal|RunUp|Parallel, 500)

	require.Equal(t, StatusOk, engine.SetNodeState(ShuttingDown, false))
	assert.Equal(t, []ClientID{clientC}, transport.snapshot(), "shutdown phase-1 notifies C first")

	require.Equal(t, StatusOk, engine.SetNodeState(BaseRunning, false))
	assert.Equal(t, []ClientID{clientC, clientA}, transport.snapshot(), "run-up phase-1 notifies A first")
	assert.Equal(t, RunUp, transport.kindOf(clientA).base())

	require.Equal(t, StatusOk, engine.AcknowledgeLifecycleRequest(clientA, StatusOk))
	assert.Equal(t, []ClientID{clientC, clientA, clientB}, transport.snapshot())

	require.Equal(t, StatusOk, engine.AcknowledgeLifecycleRequest(clientB, StatusOk))
	assert.Equal(t, []ClientID{clientC, clientA, clientB, clientC}, transport.snapshot(), "run-up phase-2 notifies C again")

	require.Equal(t, StatusOk, engine.AcknowledgeLifecycleRequest(clientC, StatusOk))
	assert.Equal(t, FullyOperational, engine.QueryNodeState())

	// The superseded parallel ack from the original shutdown phase no
	// longer matches any live transition slot, so it is a late reply.
	assert.Equal(t, StatusWrongClient, engine.AcknowledgeLifecycleRequest(clientC, StatusOk))
}

// TestEngine_S4_ResetInProgressBlocksNonShutdown mirrors the documented
// scenario: once a reset is in progress, an external attempt to enter a
// non-shutdown state is refused, but a shutdown-target request is not.
func TestEngine_S4_ResetInProgressBlocksNonShutdown(t *testing.T) {
	transport := newRecordingTransport()
	engine := NewEngine(transport, NoopPlatform{}, WithInitialState(FullyOperational))

	// A registered client keeps the reset-triggered shutdown in flight;
	// with no clients every phase is empty and the node would reach
	// Shutdown (clearing the reset flag) before RequestReset returns.
	engine.RegisterLifecycleClient(clientA, Normal, 5000)

	require.Equal(t, StatusOk, engine.RequestReset(1, Normal))
	assert.Equal(t, ShuttingDown, engine.QueryNodeState())

	assert.Equal(t, StatusError, engine.SetNodeState(FullyRunning, true))
	assert.Equal(t, StatusOk, engine.SetNodeState(ShuttingDown, true))
}

// TestEngine_S5_LateReconciliation mirrors the documented scenario: a
// client that timed out on its shutdown notification acks later, after
// the node has returned to a running state. The late ack is rejected and
// an out-of-band RunUp notification brings the client back in sync.
func TestEngine_S5_LateReconciliation(t *testing.T) {
	transport := newRecordingTransport()
	engine := NewEngine(transport, NoopPlatform{}, WithInitialState(FullyOperational))

	// X is only registered for the shutdown direction: the subsequent
	// run-up has no clients to notify and completes immediately, leaving
	// X's is_shut_down flag exactly as the shutdown timeout left it.
	const clientX ClientID = 42
	engine.RegisterLifecycleClient(clientX, Normal, 30)

	require.Equal(t, StatusOk, engine.SetNodeState(ShuttingDown, false))
	assert.Eventually(t, func() bool {
		return engine.QueryNodeState() == Shutdown
	}, time.Second, 2*time.Millisecond)

	require.Equal(t, StatusOk, engine.SetNodeState(FullyOperational, false))
	assert.Eventually(t, func() bool {
		return engine.QueryNodeState() == FullyOperational
	}, time.Second, 2*time.Millisecond)

	// X now replies to the long-expired shutdown notification.
	before := len(transport.snapshot())
	status := engine.AcknowledgeLifecycleRequest(clientX, StatusOk)
	assert.Equal(t, StatusWrongClient, status)

	after := transport.snapshot()
	assert.Greater(t, len(after), before, "an out-of-band reconciliation notification should have been sent")
	assert.Equal(t, RunUp, transport.kindOf(after[len(after)-1]))
}

// TestEngine_S6_CollectiveExpiryForcesShutdown mirrors the documented
// scenario: a client registered for Fast shutdown with a very long
// per-client timeout never acks; the phase's own collective timer fires
// first and forces the transition through to Shutdown regardless.
func TestEngine_S6_CollectiveExpiryForcesShutdown(t *testing.T) {
	transport := newRecordingTransport()
	cfg := DefaultConfig()
	cfg.Phases.FastShutdownSequential = 20 * time.Millisecond

	engine := NewEngine(transport, NoopPlatform{}, WithInitialState(FullyOperational), WithConfig(cfg))

	const clientY ClientID = 7
	engine.RegisterLifecycleClient(clientY, Fast, 60_000)

	require.Equal(t, StatusOk, engine.SetNodeState(FastShutdown, false))
	assert.Equal(t, []ClientID{clientY}, transport.snapshot())

	assert.Eventually(t, func() bool {
		return engine.QueryNodeState() == Shutdown
	}, time.Second, 2*time.Millisecond)
}

func TestEngine_RegisterLifecycleClient_CreateThenUpdate(t *testing.T) {
	engine := NewEngine(TransportFunc(func(ClientID, ShutdownKind) {}), NoopPlatform{})

	assert.Equal(t, StatusOk, engine.RegisterLifecycleClient(clientA, Normal, 100))
	assert.Equal(t, StatusLast, engine.RegisterLifecycleClient(clientA, Fast, 200))
}

func TestEngine_RegisterLifecycleClient_RejectsEmptyKind(t *testing.T) {
	engine := NewEngine(TransportFunc(func(ClientID, ShutdownKind) {}), NoopPlatform{})
	assert.Equal(t, StatusParameter, engine.RegisterLifecycleClient(clientA, Not, 100))
}

func TestEngine_UnregisterLifecycleClient_UnknownIsParameter(t *testing.T) {
	engine := NewEngine(TransportFunc(func(ClientID, ShutdownKind) {}), NoopPlatform{})
	assert.Equal(t, StatusParameter, engine.UnregisterLifecycleClient(clientA, Normal))
}

func TestEngine_SetNodeState_InvalidStateIsParameter(t *testing.T) {
	engine := NewEngine(TransportFunc(func(ClientID, ShutdownKind) {}), NoopPlatform{})
	assert.Equal(t, StatusParameter, engine.SetNodeState(NodeState(99), false))
}

func TestEngine_SetNodeState_ExternalBlockRefusesExternalRequests(t *testing.T) {
	engine := NewEngine(TransportFunc(func(ClientID, ShutdownKind) {}), NoopPlatform{}, WithInitialState(FullyOperational))
	engine.SetExternalNodeStateBlocked(true)

	assert.Equal(t, StatusError, engine.SetNodeState(ShuttingDown, true))
	assert.Equal(t, StatusOk, engine.SetNodeState(ShuttingDown, false))
}

func TestEngine_SetNodeState_IgnoredShutdownRepeatIsOk(t *testing.T) {
	engine := NewEngine(TransportFunc(func(ClientID, ShutdownKind) {}), NoopPlatform{}, WithInitialState(Shutdown))
	assert.Equal(t, StatusOk, engine.SetNodeState(ShuttingDown, false))
	assert.Equal(t, Shutdown, engine.QueryNodeState())
}

func TestEngine_AcknowledgeLifecycleRequest_UnknownClientIsError(t *testing.T) {
	engine := NewEngine(TransportFunc(func(ClientID, ShutdownKind) {}), NoopPlatform{})
	assert.Equal(t, StatusError, engine.AcknowledgeLifecycleRequest(999, StatusOk))
}

func TestEngine_Close_StopsOutstandingTimers(t *testing.T) {
	engine := NewEngine(TransportFunc(func(ClientID, ShutdownKind) {}), NoopPlatform{}, WithInitialState(FullyOperational))
	engine.RegisterLifecycleClient(clientA, Normal, 50_000)
	engine.SetNodeState(ShuttingDown, false)

	engine.Close()
	// Closing twice, or racing a timer that was already stopped, must not panic.
	assert.NotPanics(t, func() { engine.Close() })
}

func TestEngine_RegisterDefaultClient(t *testing.T) {
	engine := NewEngine(TransportFunc(func(ClientID, ShutdownKind) {}), NoopPlatform{})
	engine.RegisterDefaultClient(ClientID(1))

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.NotNil(t, engine.registry.findByID(1))
}
