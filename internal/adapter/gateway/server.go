package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"conclave/internal/domain"
	"conclave/internal/infra/middleware"
	"conclave/internal/usecase/multiagent"
)

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, peer *Peer, payload json.RawMessage) (json.RawMessage, error)

// Options configures a Server.
type Options struct {
	Addr string
	// RequestsPerSecond bounds RPC requests per connection and upgrade
	// attempts per client IP. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

// Peer is one connected WebSocket client.
type Peer struct {
	id        uint64
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter // nil when throttling is disabled
	sessions  sync.Map      // session ID -> struct{}, sessions whose events are forwarded
	logger    *slog.Logger
}

// Info returns the authenticated client's metadata.
func (p *Peer) Info() *ClientInfo { return p.info }

// Watch subscribes the peer to bus events for session.
func (p *Peer) Watch(session string) {
	p.sessions.Store(session, struct{}{})
}

func (p *Peer) watching(session string) bool {
	_, ok := p.sessions.Load(session)
	return ok
}

// Notify queues an event frame for the peer. It never blocks; frames for a
// slow client are dropped.
func (p *Peer) Notify(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("gateway: marshal event", "event", event, "error", err)
		return
	}
	p.send(Frame{Type: FrameTypeEvent, Event: event, Payload: raw})
}

func (p *Peer) send(frame Frame) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.sendCh <- frame:
		return true
	default:
		p.logger.Warn("gateway: dropped frame for slow client", "conn_id", p.id, "type", frame.Type)
		return false
	}
}

func (p *Peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Server is the WebSocket gateway that exposes RPC methods and forwards events.
type Server struct {
	bus        domain.EventBus
	auth       Authenticator
	opts       Options
	logger     *slog.Logger
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	peers      sync.Map // connID (uint64) -> *Peer
	nextID     atomic.Uint64
	ipLimiter  *middleware.ClientLimiter

	mu       sync.Mutex
	httpSrv  *http.Server
	bound    string
	ready    chan struct{}
	unsubAll func()
}

// NewServer creates a gateway server.
func NewServer(bus domain.EventBus, auth Authenticator, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		bus:      bus,
		auth:     auth,
		opts:     opts,
		logger:   opts.Logger,
		handlers: make(map[string]RPCHandler),
		ready:    make(chan struct{}),
	}
	if opts.RequestsPerSecond > 0 {
		s.ipLimiter = middleware.NewClientLimiter(opts.RequestsPerSecond, opts.Burst, 0)
	}
	return s
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// Handler returns the HTTP handler serving /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mws := []middleware.Middleware{middleware.SecurityHeaders, middleware.RequestLog(s.logger)}
	if s.ipLimiter != nil {
		mws = append(mws, middleware.RateLimit(s.ipLimiter))
	}
	return middleware.Chain(mux, mws...)
}

// Start begins accepting WebSocket connections. Blocks until ctx is cancelled
// or the server is stopped.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.httpSrv = srv
	s.bound = listener.Addr().String()
	s.unsubAll = s.bus.SubscribeAll(s.forward)
	s.mu.Unlock()
	close(s.ready)

	if s.ipLimiter != nil {
		go s.ipLimiter.Run(ctx)
	}

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the actual address the server bound to. Empty before Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	unsub, srv := s.unsubAll, s.httpSrv
	s.unsubAll = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	s.peers.Range(func(key, value any) bool {
		p := value.(*Peer)
		p.close()
		p.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.peers.Delete(key)
		return true
	})

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

// forward relays bus events to peers watching the event's session. Stream
// deltas are excluded; chat.send streams them to its caller directly.
func (s *Server) forward(_ context.Context, event domain.Event) {
	if event.SessionID == "" || event.Type == domain.EventStreamDelta {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Event: string(event.Type), Payload: payload}
	session := multiagent.SessionOf(event.SessionID)
	s.peers.Range(func(_, value any) bool {
		p := value.(*Peer)
		if p.watching(session) {
			p.send(frame)
		}
		return true
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	info, err := s.auth.Authenticate(requestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	p := &Peer{
		id:     s.nextID.Add(1),
		info:   info,
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	if s.opts.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(s.opts.RequestsPerSecond), s.opts.Burst)
	}
	s.peers.Store(p.id, p)
	s.logger.Info("gateway client connected", "conn_id", p.id, "client", info.Name)

	ctx, cancel := context.WithCancel(r.Context())
	go s.writeLoop(p)
	s.readLoop(ctx, p)

	// In-flight RPCs for this peer are cancelled on disconnect.
	cancel()
	p.close()
	s.peers.Delete(p.id)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", p.id)
}

func (s *Server) readLoop(ctx context.Context, p *Peer) {
	for {
		select {
		case <-p.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, p.ws, &frame); err != nil {
			return // connection closed or error
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		if p.limiter != nil && !p.limiter.Allow() {
			s.respond(p, frame.ID, nil, domain.ErrRateLimit)
			continue
		}
		go s.dispatchRPC(ctx, p, frame)
	}
}

func (s *Server) writeLoop(p *Peer) {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, p.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, p *Peer, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.respond(p, req.ID, nil, domain.ErrRPCMethodNotFound)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("gateway: rpc handler panic", "method", req.Method, "panic", r)
			s.respond(p, req.ID, nil, fmt.Errorf("internal error in %s", req.Method))
		}
	}()

	result, err := handler(ctx, p, req.Payload)
	if err != nil {
		s.logger.Debug("gateway: rpc failed", "method", req.Method, "error", err)
	}
	s.respond(p, req.ID, result, err)
}

func (s *Server) respond(p *Peer, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = domain.ErrorCodeOf(err)
	}
	p.send(resp)
}
