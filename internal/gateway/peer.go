package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/san-kum/simbridge/internal/errs"
	"github.com/san-kum/simbridge/internal/logging"
)

// Handler serves one inbound request. The returned value is encoded as the
// response result.
type Handler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Peer multiplexes outbound calls and inbound requests over one connection.
// Inbound requests run concurrently, each on its own goroutine.
type Peer struct {
	conn         *websocket.Conn
	logger       *logging.Logger
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	handlerMu sync.RWMutex
	handler   Handler

	nextID    atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan frame

	writeMu sync.Mutex

	handlers conc.WaitGroup

	// Close is deferred until inbound replies are written, so a handler may
	// close its own connection (stopScript) and still answer.
	inflightMu     sync.Mutex
	inflight       int
	closeRequested bool
	closeOnce      sync.Once

	finishOnce sync.Once
	closing    chan struct{}
	done       chan struct{}
	err        error
}

func newPeer(conn *websocket.Conn, handler Handler, cfg *options) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	conn.SetReadLimit(cfg.readLimit)
	return &Peer{
		conn:         conn,
		logger:       cfg.logger.WithComponent("gateway"),
		writeTimeout: cfg.writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		handler:      handler,
		pending:      make(map[uint64]chan frame),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (p *Peer) start() {
	go p.readLoop()
}

// SetHandler replaces the inbound request handler.
func (p *Peer) SetHandler(h Handler) {
	p.handlerMu.Lock()
	p.handler = h
	p.handlerMu.Unlock()
}

// Done is closed once the connection is gone and every inbound handler returned.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err reports why the connection ended. It is valid after Done is closed.
func (p *Peer) Err() error {
	<-p.done
	return p.err
}

// Call sends a request and waits for its response.
func (p *Peer) Call(ctx context.Context, method string, params, result any) error {
	req := frame{ID: p.nextID.Add(1), Kind: kindRequest, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return errs.New(errs.CodeInvalid, errs.WithOp(method), errs.WithCause(err))
		}
		req.Params = raw
	}

	ch := make(chan frame, 1)
	p.pendingMu.Lock()
	select {
	case <-p.closing:
		p.pendingMu.Unlock()
		return p.closedError(method)
	default:
	}
	p.pending[req.ID] = ch
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, req.ID)
		p.pendingMu.Unlock()
	}()

	if err := p.write(ctx, req); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.New(errs.CodeTransport, errs.WithOp(method), errs.WithCause(err))
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error.err()
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return errs.New(errs.CodeInvalid, errs.WithOp(method),
					errs.WithMessage("malformed result"), errs.WithCause(err))
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closing:
		return p.closedError(method)
	}
}

// Close shuts the connection down once in-flight inbound requests have been
// answered. It does not wait for that to happen; use Done.
func (p *Peer) Close() error {
	p.inflightMu.Lock()
	p.closeRequested = true
	idle := p.inflight == 0
	p.inflightMu.Unlock()

	if idle {
		p.closeNow()
	}
	return nil
}

func (p *Peer) closeNow() {
	p.closeOnce.Do(func() {
		if err := p.conn.Close(websocket.StatusNormalClosure, "shutdown"); err != nil {
			p.logger.Debug("close handshake incomplete", "error", err)
			_ = p.conn.CloseNow()
		}
	})
}

func (p *Peer) closedError(method string) error {
	return errs.New(errs.CodeTransport, errs.WithOp(method),
		errs.WithMessage("connection closed"), errs.WithCause(p.err))
}

func (p *Peer) readLoop() {
	for {
		typ, data, err := p.conn.Read(p.ctx)
		if err != nil {
			p.finish(err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			p.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch f.Kind {
		case kindResponse:
			p.resolve(f)
		case kindRequest:
			p.inflightMu.Lock()
			p.inflight++
			p.inflightMu.Unlock()
			p.handlers.Go(func() { p.dispatch(f) })
		default:
			p.logger.Warn("dropping frame of unknown kind", "kind", f.Kind)
		}
	}
}

func (p *Peer) resolve(f frame) {
	p.pendingMu.Lock()
	ch, ok := p.pending[f.ID]
	p.pendingMu.Unlock()
	if !ok {
		p.logger.Debug("response for unknown call", "id", f.ID)
		return
	}
	select {
	case ch <- f:
	default:
		p.logger.Warn("dropping duplicate response", "id", f.ID)
	}
}

func (p *Peer) dispatch(req frame) {
	defer p.endInbound()

	p.handlerMu.RLock()
	h := p.handler
	p.handlerMu.RUnlock()

	var (
		result any
		err    error
	)
	if h == nil {
		err = errs.NotReady(req.Method)
	} else {
		result, err = h(p.ctx, req.Method, req.Params)
	}

	resp := frame{ID: req.ID, Kind: kindResponse}
	if err != nil {
		resp.Error = toWire(req.Method, err)
	} else if result != nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = toWire(req.Method, errs.New(errs.CodeInternal, errs.WithCause(merr)))
		} else {
			resp.Result = raw
		}
	}

	if werr := p.write(context.Background(), resp); werr != nil {
		p.logger.Debug("failed to write response", "method", req.Method, "error", werr)
	}
}

func (p *Peer) endInbound() {
	p.inflightMu.Lock()
	p.inflight--
	shouldClose := p.closeRequested && p.inflight == 0
	p.inflightMu.Unlock()

	if shouldClose {
		p.closeNow()
	}
}

func (p *Peer) write(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.Write(wctx, websocket.MessageText, data)
}

// finish runs once when the read side ends: outstanding calls fail, inbound
// handlers see a canceled context, and Done closes after they return.
func (p *Peer) finish(err error) {
	p.finishOnce.Do(func() {
		p.inflightMu.Lock()
		requested := p.closeRequested
		p.inflightMu.Unlock()
		if requested || websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
			err = nil
		}
		p.err = err
		p.cancel()

		p.pendingMu.Lock()
		close(p.closing)
		p.pendingMu.Unlock()

		p.handlers.Wait()
		close(p.done)
		p.logger.Debug("connection finished", "error", err)
	})
}
