// Package bridge implements the integrator side of the host/integrator
// protocol.
//
// A Bridge owns a [statestore.Store] and one [step.Step]. The host reaches it
// through the [Integrator] capability handle; the bridge reaches the host
// through a [Host] handle, which is released exactly once by StopScript.
//
// Lifecycle:
//
//	b, err := bridge.New(ctx, host, step.Increment{Delta: 0.1}) // integratorReady sent here
//	// host: AddState / GetState / RunIntegration (resultsReady sent per pass)
//	b.StopScript(ctx)                                            // terminal
//
// Phases move Uninitialized → Ready → Running → Completed → Stopped. Running
// and Completed bracket a single RunIntegration; a bridge may run any number of
// passes before it is stopped.
//
// Construction does not return until the host acknowledged integratorReady.
// Calls that reach the bridge before that wait for construction to finish,
// bounded by their context, so the host never observes a half-built bridge.
// A host must therefore acknowledge integratorReady before calling back.
//
// RunIntegration and StopScript are serialized. AddState, GetState and
// GetStates are not, which lets a host read results from inside resultsReady.
package bridge
