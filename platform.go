package lifecycle

// PlatformCollaborator is a pluggable state-machine extension point: it
// owns last-user-context (LUC) and restart decisions on the core's
// behalf. The core only ever calls it; it never inspects or stores the
// collaborator's internal state.
type PlatformCollaborator interface {
	// QueryLUC reports whether the platform wants the next run-up to
	// restore last-user-context (LucRunning) rather than a bare
	// BaseRunning.
	QueryLUC() bool

	// RequestReset forwards a reset/restart request with a reason code
	// and the shutdown kind (Fast or Normal) the reset should perform.
	// The collaborator is responsible for whatever happens after the
	// node reaches Shutdown; the core's only obligation is to drive the
	// requested shutdown kind through the normal path and to refuse
	// non-shutdown external transitions while the reset is in progress.
	RequestReset(reason int, kind ShutdownKind)
}

// NoopPlatform is a PlatformCollaborator that never requests LUC restore
// and treats a reset request as already handled. Suitable for tests and
// for nodes that don't wire a real platform state machine.
type NoopPlatform struct{}

func (NoopPlatform) QueryLUC() bool                             { return false }
func (NoopPlatform) RequestReset(reason int, kind ShutdownKind) {}
