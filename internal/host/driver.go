// Package host provides a reference host: it waits for one integrator to
// register, seeds its states, drives a fixed number of integration passes and
// collects results on every resultsReady before stopping the integrator.
//
// A Driver works against an in-process *bridge.Bridge as well as behind a
// gateway.Server, since both deliver a bridge.Integrator.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/simbridge/internal/bridge"
	"github.com/san-kum/simbridge/internal/logging"
	"github.com/san-kum/simbridge/internal/statestore"
)

// Seed is an initial state pushed to the integrator with addState.
type Seed struct {
	Name  string
	Value any
}

// Snapshot holds the seeded states as read back after a pass. Pass 0 is the
// seeded input.
type Snapshot struct {
	Pass   int
	States map[string]any
}

type Trajectory struct {
	IntegratorID string
	Names        []string
	Snapshots    []Snapshot
}

// Series returns the numeric values of name across snapshots; missing or
// non-numeric entries read as 0.
func (t *Trajectory) Series(name string) []float64 {
	out := make([]float64, len(t.Snapshots))
	for i, s := range t.Snapshots {
		out[i], _ = statestore.ToFloat(s.States[name])
	}
	return out
}

// Final returns the last snapshot's states.
func (t *Trajectory) Final() map[string]any {
	if len(t.Snapshots) == 0 {
		return nil
	}
	return t.Snapshots[len(t.Snapshots)-1].States
}

type Option func(*Driver)

func WithLogger(logger *logging.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithInterval pauses between passes.
func WithInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.interval = interval
	}
}

// Driver is the reference host. It implements gateway.HostHandler, and
// bridge.Host for an integrator in the same process.
type Driver struct {
	seeds    []Seed
	passes   int
	interval time.Duration
	logger   *logging.Logger

	ready chan bridge.Integrator

	mu        sync.Mutex
	ref       bridge.Integrator
	pass      int
	snapshots []Snapshot
}

func NewDriver(seeds []Seed, passes int, opts ...Option) *Driver {
	d := &Driver{
		seeds:  append([]Seed(nil), seeds...),
		passes: passes,
		logger: logging.NopLogger(),
		ready:  make(chan bridge.Integrator, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.NopLogger()
	}
	d.logger = d.logger.WithComponent("host")
	return d
}

// IntegratorReady captures ref. It acknowledges immediately; Run does the
// driving, so the integrator's constructor is never blocked by host work.
func (d *Driver) IntegratorReady(_ context.Context, ref bridge.Integrator) error {
	d.mu.Lock()
	if d.ref != nil {
		d.mu.Unlock()
		return errors.New("an integrator is already registered")
	}
	d.ref = ref
	d.mu.Unlock()

	d.logger.Info("integrator registered", "integrator_id", ref.ID())
	d.ready <- ref
	return nil
}

// Close is called by an in-process integrator on stopScript.
func (d *Driver) Close() error {
	d.logger.Debug("integrator released host")
	return nil
}

// ResultsReady reads every seeded state back from the integrator.
func (d *Driver) ResultsReady(ctx context.Context) error {
	d.mu.Lock()
	ref, pass := d.ref, d.pass
	d.mu.Unlock()
	if ref == nil {
		return errors.New("resultsReady before integratorReady")
	}

	snap := Snapshot{Pass: pass, States: make(map[string]any, len(d.seeds))}
	for _, s := range d.seeds {
		v, err := ref.GetState(ctx, s.Name)
		if err != nil {
			return fmt.Errorf("read %q after pass %d: %w", s.Name, pass, err)
		}
		snap.States[s.Name] = v
		d.logger.Debug("state", "name", s.Name, "pass", pass, "value", v)
	}

	d.mu.Lock()
	d.snapshots = append(d.snapshots, snap)
	d.mu.Unlock()

	d.logger.Info("results ready", "pass", pass)
	return nil
}

// Run waits for registration, seeds states, drives the passes and stops the
// integrator. The trajectory collected so far is returned even on error.
func (d *Driver) Run(ctx context.Context) (*Trajectory, error) {
	var ref bridge.Integrator
	select {
	case ref = <-d.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for integrator: %w", ctx.Err())
	}

	seeded := Snapshot{Pass: 0, States: make(map[string]any, len(d.seeds))}
	for _, s := range d.seeds {
		if err := ref.AddState(ctx, s.Name, s.Value); err != nil {
			return d.abort(ctx, ref, fmt.Errorf("seed %q: %w", s.Name, err))
		}
		seeded.States[s.Name] = s.Value
	}
	d.mu.Lock()
	d.snapshots = append(d.snapshots, seeded)
	d.mu.Unlock()

	for i := 1; i <= d.passes; i++ {
		d.mu.Lock()
		d.pass = i
		before := len(d.snapshots)
		d.mu.Unlock()

		if err := ref.RunIntegration(ctx); err != nil {
			return d.abort(ctx, ref, fmt.Errorf("pass %d: %w", i, err))
		}

		d.mu.Lock()
		delivered := len(d.snapshots) > before
		d.mu.Unlock()
		if !delivered {
			return d.abort(ctx, ref, fmt.Errorf("pass %d returned without resultsReady", i))
		}

		if d.interval > 0 && i < d.passes {
			select {
			case <-time.After(d.interval):
			case <-ctx.Done():
				return d.abort(ctx, ref, ctx.Err())
			}
		}
	}

	if err := ref.StopScript(ctx); err != nil {
		return d.trajectory(ref), fmt.Errorf("stop integrator: %w", err)
	}
	d.logger.Info("integrator stopped", "passes", d.passes)
	return d.trajectory(ref), nil
}

func (d *Driver) abort(ctx context.Context, ref bridge.Integrator, cause error) (*Trajectory, error) {
	d.logger.Error("run aborted", "error", cause)
	if err := ref.StopScript(context.WithoutCancel(ctx)); err != nil {
		cause = errors.Join(cause, fmt.Errorf("stop integrator: %w", err))
	}
	return d.trajectory(ref), cause
}

func (d *Driver) trajectory(ref bridge.Integrator) *Trajectory {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, len(d.seeds))
	for i, s := range d.seeds {
		names[i] = s.Name
	}
	return &Trajectory{
		IntegratorID: ref.ID(),
		Names:        names,
		Snapshots:    append([]Snapshot(nil), d.snapshots...),
	}
}
