// Package step defines the pluggable integration step run by the bridge on
// every runIntegration call, along with the reference implementations.
//
// A step transforms the shared state store and may signal completion itself.
// The bridge owns the notification and sends it once the step succeeded, so
// both styles work:
//
//	// transform only; the bridge signals after Integrate returns
//	step.Increment{Delta: 0.1}
//
//	// transform, then delegate to the base step which signals
//	step.Chain(step.Increment{Delta: 0.1}, step.Base{})
package step

import (
	"context"

	"github.com/san-kum/simbridge/internal/statestore"
)

// Completion requests the resultsReady notification for the current pass. The
// bridge delivers it after Integrate returns without error, once per pass no
// matter how often Signal is called.
type Completion interface {
	Signal(ctx context.Context) error
}

// Step performs one integration pass over states.
type Step interface {
	Integrate(ctx context.Context, states *statestore.Store, done Completion) error
}

// Func adapts a plain function to Step.
type Func func(ctx context.Context, states *statestore.Store, done Completion) error

func (f Func) Integrate(ctx context.Context, states *statestore.Store, done Completion) error {
	return f(ctx, states, done)
}

// Base is the default step body: it leaves state untouched and signals
// completion.
type Base struct{}

func (Base) Integrate(ctx context.Context, _ *statestore.Store, done Completion) error {
	return done.Signal(ctx)
}

// Noop leaves state untouched and lets the bridge signal.
type Noop struct{}

func (Noop) Integrate(context.Context, *statestore.Store, Completion) error { return nil }

type chain []Step

// Chain runs steps in order and stops at the first error. Put Base last to
// reproduce an override that delegates to its parent after its own work.
func Chain(steps ...Step) Step {
	return chain(steps)
}

func (c chain) Integrate(ctx context.Context, states *statestore.Store, done Completion) error {
	for _, s := range c {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Integrate(ctx, states, done); err != nil {
			return err
		}
	}
	return nil
}
