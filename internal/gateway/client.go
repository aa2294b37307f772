package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/san-kum/simbridge/internal/bridge"
	"github.com/san-kum/simbridge/internal/errs"
)

// HostClient is the integrator's handle on a remote host. It implements
// bridge.Host.
type HostClient struct {
	peer *Peer
	id   string
}

var _ bridge.Host = (*HostClient)(nil)

// Dial connects to the host's gateway endpoint, retrying with exponential
// backoff. A host that stays unreachable yields a handshake error.
func Dial(ctx context.Context, url string, opts ...Option) (*HostClient, error) {
	cfg := newOptions(opts)
	logger := cfg.logger.WithComponent("gateway").With("url", url)

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = cfg.dialInitial
	backoffCfg.MaxInterval = cfg.dialMaxInterval

	var conn *websocket.Conn
	for attempt := 1; ; attempt++ {
		c, _, err := websocket.Dial(ctx, url, nil)
		if err == nil {
			conn = c
			break
		}
		logger.Warn("dial failed", "attempt", attempt, "error", err)
		if attempt >= cfg.dialAttempts {
			return nil, errs.Handshake(fmt.Errorf("dial %s after %d attempts: %w", url, attempt, err))
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = cfg.dialMaxInterval
		}
		select {
		case <-ctx.Done():
			return nil, errs.Handshake(fmt.Errorf("dial %s: %w", url, ctx.Err()))
		case <-time.After(sleep):
		}
	}

	logger.Debug("connected to host")
	peer := newPeer(conn, nil, cfg)
	peer.start()
	return &HostClient{peer: peer}, nil
}

// IntegratorReady starts serving host calls on ref and registers it.
func (c *HostClient) IntegratorReady(ctx context.Context, ref bridge.Integrator) error {
	c.id = ref.ID()
	c.peer.SetHandler(integratorHandler(ref))
	return c.peer.Call(ctx, MethodIntegratorReady, readyParams{
		IntegratorID: ref.ID(),
		Implements:   ref.Implements(),
	}, nil)
}

func (c *HostClient) ResultsReady(ctx context.Context) error {
	return c.peer.Call(ctx, MethodResultsReady, resultsParams{IntegratorID: c.id}, nil)
}

// Close releases the connection after any in-flight host call is answered.
func (c *HostClient) Close() error {
	return c.peer.Close()
}

// Done is closed when the connection to the host has ended.
func (c *HostClient) Done() <-chan struct{} {
	return c.peer.Done()
}

// Err reports why the connection ended, nil for a clean shutdown. It blocks
// until Done is closed.
func (c *HostClient) Err() error {
	return c.peer.Err()
}

func integratorHandler(ref bridge.Integrator) Handler {
	return func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		switch method {
		case MethodAddState:
			var p stateParams
			if err := decodeParams(method, params, &p); err != nil {
				return nil, err
			}
			return nil, ref.AddState(ctx, p.Name, p.Value)
		case MethodGetState:
			var p stateParams
			if err := decodeParams(method, params, &p); err != nil {
				return nil, err
			}
			v, err := ref.GetState(ctx, p.Name)
			if err != nil {
				return nil, err
			}
			return valueResult{Value: v}, nil
		case MethodGetStates:
			return ref.GetStates(ctx)
		case MethodRunIntegration:
			return nil, ref.RunIntegration(ctx)
		case MethodStopScript:
			return nil, ref.StopScript(ctx)
		default:
			return nil, errs.New(errs.CodeUnknownMethod, errs.WithOp(method))
		}
	}
}

func decodeParams(method string, raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errs.New(errs.CodeInvalid, errs.WithOp(method), errs.WithMessage("missing params"))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.New(errs.CodeInvalid, errs.WithOp(method), errs.WithCause(err))
	}
	return nil
}
