package bridge

import "context"

// InterfaceName is the capability tag a bridge advertises at registration.
const InterfaceName = "simbridge.Integrator"

// Integrator is the method set the host may invoke on a registered bridge.
// Remote proxies implement it too, so host code is the same in-process and
// over the wire.
type Integrator interface {
	// ID identifies the integrator instance.
	ID() string

	// Implements lists the capability tags the integrator fulfils.
	Implements() []string

	AddState(ctx context.Context, name string, value any) error
	GetState(ctx context.Context, name string) (any, error)
	GetStates(ctx context.Context) (map[string]any, error)

	// RunIntegration runs one pass of the registered step. Completion is
	// reported to the host through resultsReady before this call returns.
	RunIntegration(ctx context.Context) error

	// StopScript releases the host handle. It is terminal.
	StopScript(ctx context.Context) error
}

// Host is the bridge's handle on the host endpoint.
type Host interface {
	// IntegratorReady registers ref with the host. Called exactly once.
	IntegratorReady(ctx context.Context, ref Integrator) error

	// ResultsReady reports a successful integration pass.
	ResultsReady(ctx context.Context) error

	// Close releases the endpoint.
	Close() error
}

// Phase is a lifecycle state of a Bridge.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseReady
	PhaseRunning
	PhaseCompleted
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseReady:
		return "ready"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
