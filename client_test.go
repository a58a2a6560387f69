package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampTimeoutMS(t *testing.T) {
	assert.Equal(t, uint32(0), clampTimeoutMS(0))
	assert.Equal(t, uint32(1000), clampTimeoutMS(1000))
	assert.Equal(t, maxClientTimeoutMS, clampTimeoutMS(maxClientTimeoutMS))
	assert.Equal(t, maxClientTimeoutMS, clampTimeoutMS(maxClientTimeoutMS+1))
	assert.Equal(t, maxClientTimeoutMS, clampTimeoutMS(1_000_000))
}

func TestLifecycleClient_Accessors(t *testing.T) {
	c := &LifecycleClient{
		ID:             ClientID(42),
		registeredMask: Normal | Parallel,
		timeoutMS:      500,
	}

	assert.True(t, c.Registered())
	assert.Equal(t, Normal|Parallel, c.RegisteredMask())
	assert.Equal(t, uint32(500), c.TimeoutMS())
	assert.False(t, c.IsShutDown())
	assert.False(t, c.HasPendingCall())

	c.isShutDown = true
	c.hasPendingCall = true
	assert.True(t, c.IsShutDown())
	assert.True(t, c.HasPendingCall())
}

func TestLifecycleClient_RegisteredFalseWhenMaskCleared(t *testing.T) {
	c := &LifecycleClient{ID: ClientID(1), registeredMask: Not}
	assert.False(t, c.Registered())
}
