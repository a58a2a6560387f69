package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeState_String(t *testing.T) {
	assert.Equal(t, "StartUp", StartUp.String())
	assert.Equal(t, "Shutdown", Shutdown.String())
	assert.Contains(t, NodeState(99).String(), "NodeState")
}

func TestNodeState_IsValid(t *testing.T) {
	assert.True(t, FullyOperational.isValid())
	assert.False(t, NodeState(-1).isValid())
	assert.False(t, NodeState(100).isValid())
}

func TestNodeState_IsShutdownTarget(t *testing.T) {
	assert.True(t, ShuttingDown.isShutdownTarget())
	assert.True(t, FastShutdown.isShutdownTarget())
	assert.False(t, Shutdown.isShutdownTarget())
	assert.False(t, BaseRunning.isShutdownTarget())
}

func TestNodeState_IsRunning(t *testing.T) {
	for _, s := range []NodeState{StartUp, BaseRunning, LucRunning, FullyRunning, FullyOperational, Resume, DegradedPower} {
		assert.True(t, s.isRunning(), "%s should be running", s)
	}
	for _, s := range []NodeState{ShuttingDown, ShutdownDelay, FastShutdown, Shutdown} {
		assert.False(t, s.isRunning(), "%s should not be running", s)
	}
}

func TestTransitionAllowed_RunningToShutdownTarget(t *testing.T) {
	assert.True(t, transitionAllowed(FullyOperational, ShuttingDown))
	assert.True(t, transitionAllowed(BaseRunning, FastShutdown))
}

func TestTransitionAllowed_RunningToRunning(t *testing.T) {
	// Ordinary boot-time progression never crosses the shutdown boundary
	// and must be a direct, allowed transition.
	assert.True(t, transitionAllowed(StartUp, BaseRunning))
	assert.True(t, transitionAllowed(BaseRunning, LucRunning))
	assert.True(t, transitionAllowed(LucRunning, FullyOperational))
}

func TestTransitionAllowed_ShutdownTargetToShutdown(t *testing.T) {
	assert.True(t, transitionAllowed(ShuttingDown, Shutdown))
	assert.True(t, transitionAllowed(FastShutdown, Shutdown))
}

func TestTransitionAllowed_ShutdownTargetToRunning(t *testing.T) {
	assert.True(t, transitionAllowed(ShuttingDown, FullyOperational))
}

func TestTransitionAllowed_ShutdownToShutdownTarget_Ignored(t *testing.T) {
	assert.False(t, transitionAllowed(Shutdown, ShuttingDown))
	assert.True(t, isIgnoredShutdownRepeat(Shutdown, ShuttingDown))
}

func TestTransitionAllowed_ShutdownToRunning(t *testing.T) {
	assert.True(t, transitionAllowed(Shutdown, FullyOperational))
}

func TestTransitionAllowed_InvalidStates(t *testing.T) {
	assert.False(t, transitionAllowed(NodeState(-1), FullyOperational))
	assert.False(t, transitionAllowed(FullyOperational, NodeState(99)))
}

func TestCrossesIntoShutdown(t *testing.T) {
	assert.True(t, crossesIntoShutdown(FullyOperational, ShuttingDown))
	assert.False(t, crossesIntoShutdown(StartUp, BaseRunning))
	assert.False(t, crossesIntoShutdown(ShuttingDown, Shutdown))
}

func TestCrossesIntoRunUp(t *testing.T) {
	assert.True(t, crossesIntoRunUp(ShuttingDown, FullyOperational))
	assert.True(t, crossesIntoRunUp(Shutdown, BaseRunning))
	assert.False(t, crossesIntoRunUp(StartUp, BaseRunning))
}
