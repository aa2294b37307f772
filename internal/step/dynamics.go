package step

import (
	"context"
	"fmt"

	"github.com/san-kum/simbridge/internal/integrators"
	"github.com/san-kum/simbridge/internal/statestore"
)

// Dynamics advances every numeric state through an ODE system. The states are
// packed into a vector in lexical name order, stepped Substeps times by Dt, and
// written back.
//
// The whole pass holds the store, so a concurrent addState lands either before
// or after it.
//
// When TimeKey is set, simulation time is read from and written to that state
// so the step itself stays stateless between passes; the time entry is not
// integrated.
type Dynamics struct {
	System     integrators.System
	Integrator integrators.Integrator
	Dt         float64
	Substeps   int
	TimeKey    string
}

func (d *Dynamics) Integrate(ctx context.Context, states *statestore.Store, _ Completion) error {
	if d.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f", d.Dt)
	}
	substeps := d.Substeps
	if substeps <= 0 {
		substeps = 1
	}

	return states.Do(func(tx *statestore.Tx) error {
		t := 0.0
		if d.TimeKey != "" {
			if v, ok := tx.Get(d.TimeKey); ok {
				if f, ok := statestore.ToFloat(v); ok {
					t = f
				}
			}
		}

		names := make([]string, 0)
		x := make(integrators.Vector, 0)
		for _, name := range tx.Names() {
			if name == d.TimeKey && d.TimeKey != "" {
				continue
			}
			v, _ := tx.Get(name)
			if f, ok := statestore.ToFloat(v); ok {
				names = append(names, name)
				x = append(x, f)
			}
		}

		for i := 0; i < substeps; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			x = d.Integrator.Step(d.System, x, t, d.Dt)
			t += d.Dt
			if !x.IsValid() {
				return fmt.Errorf("invalid state (NaN/Inf) at t=%.4f", t)
			}
		}

		for i, name := range names {
			tx.Set(name, x[i])
		}
		if d.TimeKey != "" {
			tx.Set(d.TimeKey, t)
		}
		return nil
	})
}
