package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/simbridge/internal/bridge"
	"github.com/san-kum/simbridge/internal/errs"
	"github.com/san-kum/simbridge/internal/logging"
	"github.com/san-kum/simbridge/internal/statestore"
	"github.com/san-kum/simbridge/internal/step"
)

type recordingHost struct {
	mu       sync.Mutex
	ref      bridge.Integrator
	observed []any
	results  int

	registered chan bridge.Integrator
	readState  string
}

func newRecordingHost(readState string) *recordingHost {
	return &recordingHost{registered: make(chan bridge.Integrator, 1), readState: readState}
}

func (h *recordingHost) IntegratorReady(_ context.Context, ref bridge.Integrator) error {
	h.mu.Lock()
	h.ref = ref
	h.mu.Unlock()
	h.registered <- ref
	return nil
}

func (h *recordingHost) ResultsReady(ctx context.Context) error {
	h.mu.Lock()
	ref := h.ref
	h.results++
	h.mu.Unlock()

	if h.readState == "" {
		return nil
	}
	v, err := ref.GetState(ctx, h.readState)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.observed = append(h.observed, v)
	h.mu.Unlock()
	return nil
}

func (h *recordingHost) snapshot() (int, []any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results, append([]any(nil), h.observed...)
}

type harness struct {
	host   *recordingHost
	server *Server
	url    string
}

func newHarness(t *testing.T, host *recordingHost, opts ...Option) *harness {
	t.Helper()
	srv := NewServer(host, opts...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	wsURL, err := toWebsocketURL(ts.URL)
	require.NoError(t, err)
	return &harness{host: host, server: srv, url: wsURL}
}

// connect dials the harness and constructs a bridge around s.
func (h *harness) connect(t *testing.T, ctx context.Context, s step.Step) (*bridge.Bridge, *HostClient, bridge.Integrator) {
	t.Helper()
	client, err := Dial(ctx, h.url)
	require.NoError(t, err)

	b, err := bridge.New(ctx, client, s)
	require.NoError(t, err)

	var ref bridge.Integrator
	select {
	case ref = <-h.host.registered:
	case <-ctx.Done():
		t.Fatal("integrator never registered")
	}
	select {
	case <-h.server.Registered():
	case <-ctx.Done():
		t.Fatal("server never reported the registration")
	}
	require.Equal(t, b.ID(), h.server.Integrator().ID())
	return b, client, ref
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRemoteIntegrationPasses(t *testing.T) {
	ctx := testContext(t)
	h := newHarness(t, newRecordingHost("v1"))
	_, _, ref := h.connect(t, ctx, step.Increment{Delta: 0.5})

	require.Equal(t, bridge.InterfaceName, ref.Implements()[0])

	seeds := []struct {
		name  string
		value float64
	}{{"v1", 0.1}, {"v2", 0.2}, {"v3", 0.3}, {"v4", 0.4}}
	for _, s := range seeds {
		require.NoError(t, ref.AddState(ctx, s.name, s.value))
	}

	require.NoError(t, ref.RunIntegration(ctx))
	require.NoError(t, ref.RunIntegration(ctx))

	for _, s := range seeds {
		v, err := ref.GetState(ctx, s.name)
		require.NoError(t, err)
		require.InDelta(t, s.value+1.0, v, 1e-9)
	}

	results, observed := h.host.snapshot()
	require.Equal(t, 2, results)
	require.Len(t, observed, 2)
	require.InDelta(t, 0.6, observed[0], 1e-9)
	require.InDelta(t, 1.1, observed[1], 1e-9)
}

func TestRemoteGetStates(t *testing.T) {
	ctx := testContext(t)
	h := newHarness(t, newRecordingHost(""))
	_, _, ref := h.connect(t, ctx, step.Noop{})

	require.NoError(t, ref.AddState(ctx, "mass", 2.5))
	require.NoError(t, ref.AddState(ctx, "label", "probe"))

	all, err := ref.GetStates(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"mass": 2.5, "label": "probe"}, all)
}

func TestRemoteNotFoundKeepsCode(t *testing.T) {
	ctx := testContext(t)
	h := newHarness(t, newRecordingHost(""))
	_, _, ref := h.connect(t, ctx, step.Noop{})

	_, err := ref.GetState(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	var e *errs.E
	require.True(t, errors.As(err, &e))
	require.Equal(t, "missing", e.Name)
}

func TestRemoteIntegrationFailure(t *testing.T) {
	ctx := testContext(t)
	h := newHarness(t, newRecordingHost(""))
	failing := step.Func(func(context.Context, *statestore.Store, step.Completion) error {
		return errors.New("diverged")
	})
	_, _, ref := h.connect(t, ctx, failing)

	err := ref.RunIntegration(ctx)
	require.ErrorIs(t, err, errs.ErrIntegration)
	require.Contains(t, err.Error(), "diverged")

	results, _ := h.host.snapshot()
	require.Zero(t, results)
}

func TestStopScriptClosesConnection(t *testing.T) {
	ctx := testContext(t)
	h := newHarness(t, newRecordingHost(""))
	b, client, ref := h.connect(t, ctx, step.Noop{})

	require.NoError(t, ref.StopScript(ctx))
	require.Equal(t, bridge.PhaseStopped, b.Phase())

	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("integrator connection still open after stopScript")
	}
	require.NoError(t, client.Err())

	select {
	case <-h.server.Disconnected():
	case <-ctx.Done():
		t.Fatal("server never saw the disconnect")
	}

	_, err := ref.GetState(ctx, "x")
	require.ErrorIs(t, err, errs.ErrAlreadyStopped)
	require.ErrorIs(t, ref.StopScript(ctx), errs.ErrAlreadyStopped)
}

func TestCapabilityMismatchFailsHandshake(t *testing.T) {
	ctx := testContext(t)
	h := newHarness(t, newRecordingHost(""), WithRequiredCapability("other.Interface"))

	client, err := Dial(ctx, h.url)
	require.NoError(t, err)

	_, err = bridge.New(ctx, client, step.Noop{})
	require.ErrorIs(t, err, errs.ErrHandshake)
	require.Nil(t, h.server.Integrator())

	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("rejected integrator did not release its connection")
	}
}

func TestUnreachableHostFailsHandshake(t *testing.T) {
	ctx := testContext(t)
	ts := httptest.NewServer(http.NotFoundHandler())
	wsURL, err := toWebsocketURL(ts.URL)
	require.NoError(t, err)
	ts.Close()

	_, err = Dial(ctx, wsURL, WithDialAttempts(2), WithDialBackoff(10*time.Millisecond, 20*time.Millisecond))
	require.ErrorIs(t, err, errs.ErrHandshake)
	require.Contains(t, err.Error(), "after 2 attempts")
}

func TestSecondConnectionRefused(t *testing.T) {
	ctx := testContext(t)
	h := newHarness(t, newRecordingHost(""))
	h.connect(t, ctx, step.Noop{})

	_, resp, err := websocket.Dial(ctx, h.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestIntegratorHandlerRejectsBadRequests(t *testing.T) {
	handler := integratorHandler(nil)

	_, err := handler(context.Background(), "teleport", nil)
	require.Equal(t, errs.CodeUnknownMethod, errs.CodeOf(err))

	_, err = handler(context.Background(), MethodGetState, nil)
	require.ErrorIs(t, err, errs.ErrInvalid)

	_, err = handler(context.Background(), MethodAddState, []byte(`{"name":`))
	require.ErrorIs(t, err, errs.ErrInvalid)
}

func TestResultsReadyBeforeRegistration(t *testing.T) {
	srv := NewServer(newRecordingHost(""))
	_, err := srv.handle(context.Background(), MethodResultsReady, []byte(`{"integrator_id":"x"}`))
	require.ErrorIs(t, err, errs.ErrNotReady)
}

func TestNewServerPanicsOnNilHandler(t *testing.T) {
	require.Panics(t, func() { NewServer(nil) })
}

func toWebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		if !strings.HasPrefix(u.Scheme, "ws") {
			return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
	}
	return u.String(), nil
}

func TestDuplicateResponseDoesNotStallReader(t *testing.T) {
	p := &Peer{
		logger:  logging.NopLogger(),
		pending: map[uint64]chan frame{7: make(chan frame, 1)},
	}

	done := make(chan struct{})
	go func() {
		p.resolve(frame{ID: 7, Kind: kindResponse})
		p.resolve(frame{ID: 7, Kind: kindResponse})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second response for the same call blocked")
	}
	require.Len(t, p.pending[7], 1)
}
