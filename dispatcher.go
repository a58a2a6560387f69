package lifecycle

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Transport delivers a lifecycle notification to a client. It is the
// IPC/RPC boundary: the core depends only on this interface, never on a
// concrete wire format. A 32-bit kind value is what crosses it.
type Transport interface {
	Notify(id ClientID, kind ShutdownKind)
}

// TransportFunc adapts a plain function to the Transport interface, for
// wrapping an arbitrary delegate without requiring it to implement an
// interface directly.
type TransportFunc func(id ClientID, kind ShutdownKind)

func (f TransportFunc) Notify(id ClientID, kind ShutdownKind) {
	f(id, kind)
}

// dispatcher emits notifications and arms the per-client timers that
// track the outstanding acknowledgement each one expects. It never
// blocks on a client's reply; every ack arrives later, through the
// request surface's AcknowledgeLifecycleRequest.
type dispatcher struct {
	transport Transport
	timers    *timerService
}

func newDispatcher(transport Transport, timers *timerService) *dispatcher {
	return &dispatcher{transport: transport, timers: timers}
}

// notifySequential sends kind to client and arms a per-client timer with
// client.timeoutMS. Caller (engine) is responsible for setting
// currentSequential/hasPendingCall under the engine lock before any
// ack or timeout callback could possibly observe the new state.
func (d *dispatcher) notifySequential(client *LifecycleClient, kind ShutdownKind, onTimeout func()) TimerHandle {
	d.transport.Notify(client.ID, kind)
	return d.timers.arm(time.Duration(client.timeoutMS)*time.Millisecond, onTimeout)
}

// notifyParallel sends kind to every client in clients simultaneously
// and arms a per-client timer for each. Dispatch fans out through an
// errgroup rather than a sequential loop: "simultaneous" is only true if
// the sends themselves don't serialize behind a slow transport. Returns
// the handle for each id so the caller can track/cancel them
// individually.
func (d *dispatcher) notifyParallel(clients []*LifecycleClient, kind ShutdownKind, onTimeout func(ClientID)) map[ClientID]TimerHandle {
	handles := make(map[ClientID]TimerHandle, len(clients))
	var mu sync.Mutex

	var g errgroup.Group
	for _, client := range clients {
		client := client
		g.Go(func() error {
			d.transport.Notify(client.ID, kind)
			return nil
		})
		mu.Lock()
		handles[client.ID] = d.timers.arm(time.Duration(client.timeoutMS)*time.Millisecond, func() {
			onTimeout(client.ID)
		})
		mu.Unlock()
	}
	_ = g.Wait()

	return handles
}

// notifyOutOfBand sends kind to client without arming any timer. Used
// only to reconcile a late client whose is_shut_down flag disagrees with
// the current node state.
func (d *dispatcher) notifyOutOfBand(client *LifecycleClient, kind ShutdownKind) {
	d.transport.Notify(client.ID, kind)
}
