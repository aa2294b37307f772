package gateway

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/san-kum/simbridge/internal/bridge"
	"github.com/san-kum/simbridge/internal/errs"
	"github.com/san-kum/simbridge/internal/logging"
)

// HostHandler receives the integrator's callbacks.
type HostHandler interface {
	IntegratorReady(ctx context.Context, ref bridge.Integrator) error
	ResultsReady(ctx context.Context) error
}

// Server is the host's gateway endpoint. It accepts exactly one integrator
// connection; later connections are refused with 409 Conflict.
type Server struct {
	handler HostHandler
	cfg     *options
	logger  *logging.Logger

	mu       sync.Mutex
	accepted bool
	closed   bool
	peer     *Peer
	remote   *RemoteIntegrator

	registered     chan struct{}
	registeredOnce sync.Once
	disconnected   chan struct{}
	disconnectOnce sync.Once
}

// NewServer creates a gateway endpoint dispatching callbacks to handler.
// handler must be non-nil.
func NewServer(handler HostHandler, opts ...Option) *Server {
	if handler == nil {
		panic("gateway: HostHandler must not be nil")
	}
	cfg := newOptions(opts)
	return &Server{
		handler:      handler,
		cfg:          cfg,
		logger:       cfg.logger.WithComponent("gateway"),
		registered:   make(chan struct{}),
		disconnected: make(chan struct{}),
	}
}

// Registered is closed once an integrator completed integratorReady.
func (s *Server) Registered() <-chan struct{} {
	return s.registered
}

// Disconnected is closed when the integrator connection has ended.
func (s *Server) Disconnected() <-chan struct{} {
	return s.disconnected
}

// Integrator returns the registered integrator, or nil before registration.
func (s *Server) Integrator() bridge.Integrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return nil
	}
	return s.remote
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.accepted || s.closed {
		s.mu.Unlock()
		http.Error(w, "integrator already connected", http.StatusConflict)
		return
	}
	s.accepted = true
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		s.mu.Lock()
		s.accepted = false
		s.mu.Unlock()
		return
	}

	peer := newPeer(conn, s.handle, s.cfg)
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()

	s.logger.Info("integrator connected", "remote", r.RemoteAddr)
	peer.start()
	<-peer.Done()

	s.disconnectOnce.Do(func() { close(s.disconnected) })
	if err := peer.Err(); err != nil {
		s.logger.Warn("integrator connection ended", "error", err)
		return
	}
	s.logger.Info("integrator disconnected")
}

// Close refuses new connections and closes the current one.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	peer := s.peer
	s.mu.Unlock()

	if peer != nil {
		return peer.Close()
	}
	return nil
}

func (s *Server) handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodIntegratorReady:
		var p readyParams
		if err := decodeParams(method, params, &p); err != nil {
			return nil, err
		}
		return nil, s.register(ctx, p)
	case MethodResultsReady:
		if s.Integrator() == nil {
			return nil, errs.NotReady(method)
		}
		return nil, s.handler.ResultsReady(ctx)
	default:
		return nil, errs.New(errs.CodeUnknownMethod, errs.WithOp(method))
	}
}

func (s *Server) register(ctx context.Context, p readyParams) error {
	if s.cfg.capability != "" && !slices.Contains(p.Implements, s.cfg.capability) {
		s.logger.Error("integrator rejected", "integrator_id", p.IntegratorID, "implements", p.Implements)
		return errs.New(errs.CodeHandshake,
			errs.WithOp(MethodIntegratorReady),
			errs.WithMessage(fmt.Sprintf("integrator does not implement %s", s.cfg.capability)),
		)
	}

	s.mu.Lock()
	if s.remote != nil {
		s.mu.Unlock()
		return errs.New(errs.CodeInvalid, errs.WithOp(MethodIntegratorReady),
			errs.WithMessage("integrator already registered"))
	}
	remote := &RemoteIntegrator{peer: s.peer, id: p.IntegratorID, implements: p.Implements}
	s.remote = remote
	s.mu.Unlock()

	if err := s.handler.IntegratorReady(ctx, remote); err != nil {
		s.mu.Lock()
		s.remote = nil
		s.mu.Unlock()
		return err
	}

	s.logger.Info("integrator registered", "integrator_id", p.IntegratorID)
	s.registeredOnce.Do(func() { close(s.registered) })
	return nil
}
