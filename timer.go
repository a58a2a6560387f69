package lifecycle

import (
	"sync"
	"time"
)

// TimerHandle identifies an armed timer so it can be cancelled later.
// Handles are never reused: each call to arm produces a fresh one.
type TimerHandle struct {
	id uint64
}

// timerService schedules one-shot, cancellable callbacks at a future
// instant. It is built directly on time.AfterFunc: arm/cancel,
// fire-once, runs-on-another-goroutine is exactly time.AfterFunc's
// contract, so no separate scheduler is needed.
//
// Callbacks always run on a goroutine distinct from the caller of arm,
// including for a zero duration — time.AfterFunc(0, f) still schedules f
// onto the Go runtime's timer goroutine rather than calling it inline.
type timerService struct {
	mu     sync.Mutex
	nextID uint64
	timers map[uint64]*time.Timer
}

func newTimerService() *timerService {
	return &timerService{timers: make(map[uint64]*time.Timer)}
}

// arm schedules callback to run once after duration elapses, unless
// cancelled first.
func (t *timerService) arm(duration time.Duration, callback func()) TimerHandle {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.mu.Unlock()

	timer := time.AfterFunc(duration, func() {
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
		callback()
	})

	t.mu.Lock()
	t.timers[id] = timer
	t.mu.Unlock()

	return TimerHandle{id: id}
}

// cancel is idempotent. If the callback has already begun executing,
// cancel does not abort it, but any subsequent observation of the handle
// (a second cancel, or a lookup) reports it absent — there is nothing
// left to cancel.
func (t *timerService) cancel(handle TimerHandle) {
	t.mu.Lock()
	timer, ok := t.timers[handle.id]
	if ok {
		delete(t.timers, handle.id)
	}
	t.mu.Unlock()

	if ok {
		timer.Stop()
	}
}

// stopAll cancels every currently-armed timer. Used on engine shutdown
// to guarantee no stray callback fires after the process has begun
// tearing down.
func (t *timerService) stopAll() {
	t.mu.Lock()
	timers := make([]*time.Timer, 0, len(t.timers))
	for id, timer := range t.timers {
		timers = append(timers, timer)
		delete(t.timers, id)
	}
	t.mu.Unlock()

	for _, timer := range timers {
		timer.Stop()
	}
}
