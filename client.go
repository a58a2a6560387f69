package lifecycle

// ClientID is the opaque, transport-supplied identifier for a lifecycle
// client: an opaque 64-bit hash provided by the transport. The core does
// not interpret it beyond equality. Once evicted from the registry, an
// id is never reused by the engine until the transport reissues it: a
// numeric value that reappears after eviction is treated as a
// brand-new client.
type ClientID uint64

const maxClientTimeoutMS uint32 = 60_000

// clampTimeoutMS enforces the [0, 60_000] clamp required of every
// registered timeout.
func clampTimeoutMS(ms uint32) uint32 {
	if ms > maxClientTimeoutMS {
		return maxClientTimeoutMS
	}
	return ms
}

// LifecycleClient is a single registered application.
//
// A LifecycleClient is created on first registration and destroyed when
// registeredMask becomes Not, whether via an explicit unregister or a
// remove_kinds call that clears the last bit.
type LifecycleClient struct {
	ID ClientID

	// registeredMask is Not if and only if the client is considered
	// absent from the registry; registry.go never stores a record with
	// registeredMask == Not.
	registeredMask ShutdownKind

	// timeoutMS is clamped to [0, 60_000] on every upsert. 0 is only
	// meaningful for out-of-band late notifications, which never arm a
	// timer regardless of this value.
	timeoutMS uint32

	// isShutDown is true once this client has been notified of and has
	// acknowledged (or timed out on) a shutdown notification in the
	// current lifecycle, and has not yet been run back up.
	isShutDown bool

	// hasPendingCall is true iff a timer is armed for this client, or
	// the client has timed out but may still reply late.
	hasPendingCall bool
}

// Registered reports whether the client currently holds any kind bits.
func (c *LifecycleClient) Registered() bool {
	return c.registeredMask != Not
}

// RegisteredMask returns the client's current registered ShutdownKind
// bit set.
func (c *LifecycleClient) RegisteredMask() ShutdownKind {
	return c.registeredMask
}

// TimeoutMS returns the client's negotiated per-notification timeout.
func (c *LifecycleClient) TimeoutMS() uint32 {
	return c.timeoutMS
}

// IsShutDown reports whether the client is currently considered shut
// down for the purposes of late-reply reconciliation.
func (c *LifecycleClient) IsShutDown() bool {
	return c.isShutDown
}

// HasPendingCall reports whether a notification to this client is
// currently outstanding (timer armed, or timed out but still
// reconcilable).
func (c *LifecycleClient) HasPendingCall() bool {
	return c.hasPendingCall
}
