package bridge_test

import (
	"context"
	"sync"

	"github.com/san-kum/simbridge/internal/bridge"
	"github.com/san-kum/simbridge/internal/integrators"
)

type fakeHost struct {
	mu      sync.Mutex
	ready   int
	results int
	closed  int
	ref     bridge.Integrator

	onReady   func(ctx context.Context, ref bridge.Integrator) error
	onResults func(ctx context.Context) error
}

func (h *fakeHost) IntegratorReady(ctx context.Context, ref bridge.Integrator) error {
	h.mu.Lock()
	h.ready++
	h.ref = ref
	fn := h.onReady
	h.mu.Unlock()
	if fn != nil {
		return fn(ctx, ref)
	}
	return nil
}

func (h *fakeHost) ResultsReady(ctx context.Context) error {
	h.mu.Lock()
	h.results++
	fn := h.onResults
	h.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (h *fakeHost) Close() error {
	h.mu.Lock()
	h.closed++
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) counts() (ready, results, closed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready, h.results, h.closed
}

// gatedSystem blocks its first Derive until release is closed. The
// derivative is zero, so a pass leaves every state unchanged.
type gatedSystem struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSystem) Derive(x integrators.Vector, _ float64) integrators.Vector {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return make(integrators.Vector, len(x))
}
