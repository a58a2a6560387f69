package lifecycle

// MustRegister is a convenience wrapper around Engine.RegisterLifecycleClient
// for callers that already know registration cannot fail (fixed ids and
// in-domain kind/timeout constants, e.g. wiring a node's own built-in
// components at startup). It panics on Parameter errors rather than
// threading an ErrorStatus through call sites that have no sensible
// recovery path.
//
//	diag := lifecycle.MustRegister(engine, diagClientID, lifecycle.Normal|lifecycle.Parallel, 500)
func MustRegister(engine *Engine, id ClientID, kinds ShutdownKind, timeoutMS uint32) ClientID {
	status := engine.RegisterLifecycleClient(id, kinds, timeoutMS)
	if status != StatusOk && status != StatusLast {
		panic("lifecycle: MustRegister: " + status.String())
	}
	return id
}
