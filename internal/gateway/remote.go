package gateway

import (
	"context"
	"sync/atomic"

	"github.com/san-kum/simbridge/internal/bridge"
	"github.com/san-kum/simbridge/internal/errs"
)

// RemoteIntegrator is the host's capability handle on a registered
// integrator. Every call is marshaled over the connection.
type RemoteIntegrator struct {
	peer       *Peer
	id         string
	implements []string

	// The integrator drops the connection after stopScript, so later calls
	// are answered here instead of failing as transport errors.
	stopped atomic.Bool
}

var _ bridge.Integrator = (*RemoteIntegrator)(nil)

func (r *RemoteIntegrator) ID() string { return r.id }

func (r *RemoteIntegrator) Implements() []string {
	return append([]string(nil), r.implements...)
}

func (r *RemoteIntegrator) call(ctx context.Context, method string, params, result any) error {
	if r.stopped.Load() {
		return errs.AlreadyStopped(method)
	}
	return r.peer.Call(ctx, method, params, result)
}

func (r *RemoteIntegrator) AddState(ctx context.Context, name string, value any) error {
	return r.call(ctx, MethodAddState, stateParams{Name: name, Value: value}, nil)
}

func (r *RemoteIntegrator) GetState(ctx context.Context, name string) (any, error) {
	var out valueResult
	if err := r.call(ctx, MethodGetState, stateParams{Name: name}, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (r *RemoteIntegrator) GetStates(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	if err := r.call(ctx, MethodGetStates, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RemoteIntegrator) RunIntegration(ctx context.Context) error {
	return r.call(ctx, MethodRunIntegration, nil, nil)
}

func (r *RemoteIntegrator) StopScript(ctx context.Context) error {
	err := r.call(ctx, MethodStopScript, nil, nil)
	if err == nil || errs.Is(err, errs.ErrAlreadyStopped) {
		r.stopped.Store(true)
	}
	return err
}
