package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/reconcile"
	"github.com/matheus3301/pulse/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned by a session sink that cannot take more events.
var ErrQueueFull = errors.New("send queue full")

var errQueueClosed = errors.New("send queue closed")

// queue is the outbound sink of one websocket session.
type queue struct {
	mu     sync.RWMutex
	ch     chan protocol.Outbound
	closed bool
}

func newQueue(size int) *queue {
	return &queue{ch: make(chan protocol.Outbound, size)}
}

func (q *queue) Send(evt protocol.Outbound) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errQueueClosed
	}
	select {
	case q.ch <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Options configures the websocket transport.
type Options struct {
	SendQueue      int
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	OriginPatterns []string
}

// Server accepts websocket connections and runs one session per connection.
type Server struct {
	registry   *registry.Registry
	dispatcher *Dispatcher
	recon      *reconcile.Reconciler
	bus        *bus.Bus
	logger     *zap.Logger
	opts       Options
	wg         sync.WaitGroup

	base     context.Context
	shutdown context.CancelFunc
}

func NewServer(reg *registry.Registry, d *Dispatcher, recon *reconcile.Reconciler, b *bus.Bus, logger *zap.Logger, opts Options) *Server {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 << 10
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	base, shutdown := context.WithCancel(context.Background())
	return &Server{
		base:       base,
		shutdown:   shutdown,
		registry:   reg,
		dispatcher: d,
		recon:      recon,
		bus:        b,
		logger:     logger.Named("gateway"),
		opts:       opts,
	}
}

// Serve upgrades the request and blocks until the connection ends.
// authenticated is the identity proven by the HTTP layer, if any.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, authenticated string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.ReadLimit)

	s.wg.Add(1)
	defer s.wg.Done()

	handle := uuid.NewString()
	q := newQueue(s.opts.SendQueue)
	if err := s.registry.Open(handle, q); err != nil {
		s.logger.Error("failed to open session", zap.Error(err))
		_ = ws.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	s.bus.Emit(bus.KindSessionOpened, handle)
	log := s.logger.With(zap.String("session", handle))
	log.Debug("session opened", zap.String("remote", r.RemoteAddr), zap.String("user", authenticated))

	defer func() {
		s.recon.Disconnect(handle)
		q.close()
		log.Debug("session closed")
	}()

	connCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	peer := Peer{Handle: handle, Authenticated: authenticated}
	eg, ctx := errgroup.WithContext(connCtx)
	eg.Go(func() error { return s.writeLoop(ctx, ws, q) })
	eg.Go(func() error { return s.readLoop(ctx, ws, peer, q) })

	err = eg.Wait()
	switch {
	case err == nil:
		_ = ws.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) != -1:
		log.Debug("client closed connection", zap.Int("status", int(websocket.CloseStatus(err))))
	default:
		log.Debug("connection ended", zap.Error(err))
		_ = ws.CloseNow()
	}
}

// readLoop dispatches inbound frames one at a time, in arrival order.
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, peer Peer, q *queue) error {
	for {
		typ, raw, err := ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			_ = q.Send(protocol.Failure("", fault.New(fault.Validation, "", "binary frames are not supported")))
			continue
		}
		req, err := protocol.Decode(raw)
		var reply protocol.Outbound
		if err != nil {
			reply = protocol.Failure(req.ID, err)
		} else {
			reply = s.dispatcher.Dispatch(ctx, peer, req)
		}
		if err := q.Send(reply); err != nil {
			s.logger.Warn("reply dropped", zap.String("session", peer.Handle), zap.String("type", reply.Type), zap.Error(err))
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, ws *websocket.Conn, q *queue) error {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-q.ch:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := wsjson.Write(wctx, ws, evt)
			cancel()
			if err != nil {
				return err
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// Shutdown ends every open connection and waits for their cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

