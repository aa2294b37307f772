package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/simbridge/internal/errs"
	"github.com/san-kum/simbridge/internal/logging"
	"github.com/san-kum/simbridge/internal/statestore"
	"github.com/san-kum/simbridge/internal/step"
)

// Bridge exposes one integration step and its state store to a host.
type Bridge struct {
	id     string
	host   Host
	step   step.Step
	store  *statestore.Store
	logger *logging.Logger

	handshakeTimeout  time.Duration
	completionTimeout time.Duration
	bestEffort        bool

	ready chan struct{}

	// runMu serializes RunIntegration and StopScript.
	runMu sync.Mutex

	mu     sync.RWMutex
	phase  Phase
	passes int
}

var _ Integrator = (*Bridge)(nil)

// New constructs a bridge and announces it to host. It returns only after the
// host acknowledged integratorReady; on failure the host handle is closed and
// the error is a handshake or timeout error.
//
// host and s must be non-nil.
func New(ctx context.Context, host Host, s step.Step, opts ...Option) (*Bridge, error) {
	if host == nil {
		panic("bridge: Host must not be nil")
	}
	if s == nil {
		panic("bridge: Step must not be nil")
	}

	cfg := &config{
		handshakeTimeout:  defaultHandshakeTimeout,
		completionTimeout: defaultCompletionTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}

	b := &Bridge{
		id:                cfg.id,
		host:              host,
		step:              s,
		store:             statestore.New(),
		logger:            cfg.logger.WithComponent("bridge").With("integrator_id", cfg.id),
		handshakeTimeout:  cfg.handshakeTimeout,
		completionTimeout: cfg.completionTimeout,
		bestEffort:        cfg.bestEffort,
		ready:             make(chan struct{}),
		phase:             PhaseUninitialized,
	}

	if err := b.handshake(ctx); err != nil {
		close(b.ready)
		if cerr := host.Close(); cerr != nil {
			b.logger.Warn("failed to release host after handshake failure", "error", cerr)
		}
		return nil, err
	}

	b.mu.Lock()
	b.phase = PhaseReady
	b.mu.Unlock()
	close(b.ready)

	b.logger.Info("integrator ready")
	return b, nil
}

func (b *Bridge) handshake(ctx context.Context) error {
	hctx, cancel := withBound(ctx, b.handshakeTimeout)
	defer cancel()

	b.logger.Debug("sending integratorReady")
	err := b.host.IntegratorReady(hctx, b)
	if err == nil {
		return nil
	}

	b.logger.Error("readiness handshake failed", "error", err)
	if isBoundExpired(ctx, hctx, err) {
		return errs.Timeout("integratorReady", b.handshakeTimeout, err)
	}
	if errors.Is(err, errs.ErrHandshake) {
		return err
	}
	return errs.Handshake(err)
}

func (b *Bridge) ID() string { return b.id }

func (b *Bridge) Implements() []string { return []string{InterfaceName} }

// Phase returns the current lifecycle phase.
func (b *Bridge) Phase() Phase {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.phase
}

// Passes returns the number of RunIntegration calls that reached the step.
func (b *Bridge) Passes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.passes
}

// enter blocks until construction finished and rejects calls on a bridge that
// never became ready or was stopped.
func (b *Bridge) enter(ctx context.Context, op string) error {
	select {
	case <-b.ready:
	default:
		select {
		case <-b.ready:
		case <-ctx.Done():
			return errs.New(errs.CodeNotReady, errs.WithOp(op), errs.WithCause(ctx.Err()))
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	switch b.phase {
	case PhaseUninitialized:
		return errs.NotReady(op)
	case PhaseStopped:
		return errs.AlreadyStopped(op)
	}
	return nil
}

func (b *Bridge) AddState(ctx context.Context, name string, value any) error {
	if err := b.enter(ctx, "addState"); err != nil {
		return err
	}
	b.store.Add(name, value)
	b.logger.Debug("state added", "name", name)
	return nil
}

func (b *Bridge) GetState(ctx context.Context, name string) (any, error) {
	if err := b.enter(ctx, "getState"); err != nil {
		return nil, err
	}
	return b.store.Get(name)
}

// GetStates returns a snapshot of every state.
func (b *Bridge) GetStates(ctx context.Context) (map[string]any, error) {
	if err := b.enter(ctx, "getStates"); err != nil {
		return nil, err
	}
	return b.store.All(), nil
}

// RunIntegration runs the step once and then signals resultsReady. A failing
// step yields an integration error and, unless best-effort results are
// enabled, no resultsReady, even if the step requested it before failing.
func (b *Bridge) RunIntegration(ctx context.Context) error {
	if err := b.enter(ctx, "runIntegration"); err != nil {
		return err
	}

	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.mu.Lock()
	if b.phase == PhaseStopped {
		b.mu.Unlock()
		return errs.AlreadyStopped("runIntegration")
	}
	b.phase = PhaseRunning
	b.passes++
	pass := b.passes
	b.mu.Unlock()

	logger := b.logger.With("pass", pass)
	logger.Debug("integration pass started")

	done := &completion{}
	if err := b.step.Integrate(ctx, b.store, done); err != nil {
		logger.Error("integration step failed", "error", err, "signal_requested", done.requested.Load())
		if b.bestEffort {
			if serr := b.notifyResults(ctx, pass); serr != nil {
				logger.Warn("best-effort resultsReady failed", "error", serr)
			}
		}
		b.setPhase(PhaseReady)
		return errs.Integration(pass, err)
	}

	if err := b.notifyResults(ctx, pass); err != nil {
		b.setPhase(PhaseReady)
		return err
	}

	b.setPhase(PhaseCompleted)
	logger.Info("integration pass completed")
	return nil
}

// StopScript releases the host handle. Every later call fails with an
// already-stopped error. An in-flight RunIntegration finishes first.
func (b *Bridge) StopScript(ctx context.Context) error {
	if err := b.enter(ctx, "stopScript"); err != nil {
		return err
	}

	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.mu.Lock()
	if b.phase == PhaseStopped {
		b.mu.Unlock()
		return errs.AlreadyStopped("stopScript")
	}
	b.phase = PhaseStopped
	b.mu.Unlock()

	b.logger.Info("stopping integrator", "passes", b.Passes())
	if err := b.host.Close(); err != nil {
		return fmt.Errorf("release host endpoint: %w", err)
	}
	return nil
}

func (b *Bridge) setPhase(p Phase) {
	b.mu.Lock()
	if b.phase != PhaseStopped {
		b.phase = p
	}
	b.mu.Unlock()
}

func (b *Bridge) notifyResults(ctx context.Context, pass int) error {
	cctx, cancel := withBound(ctx, b.completionTimeout)
	defer cancel()

	err := b.host.ResultsReady(cctx)
	if err == nil {
		b.logger.Debug("resultsReady delivered", "pass", pass)
		return nil
	}
	if isBoundExpired(ctx, cctx, err) {
		return fmt.Errorf("resultsReady for pass %d: %w", pass, errs.Timeout("resultsReady", b.completionTimeout, err))
	}
	return fmt.Errorf("resultsReady for pass %d: %w", pass, err)
}

// completion records a step's request for resultsReady. The bridge delivers
// the notification itself once the step has returned, so a pass notifies at
// most once and a failed pass never advertises results.
type completion struct {
	requested atomic.Bool
}

func (c *completion) Signal(context.Context) error {
	c.requested.Store(true)
	return nil
}

func withBound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// isBoundExpired reports whether err came from the bridge's own deadline
// rather than the caller's context.
func isBoundExpired(parent, bounded context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(bounded.Err(), context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, errs.ErrTimeout)
}
