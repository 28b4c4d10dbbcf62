package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/registry"
)

var heartbeatFrame = []byte(protocol.Heartbeat)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	// Hub holds one registry per namespace. If nil, a private Hub is created.
	Hub     *registry.Hub
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// NamespaceFor maps a request Host to its namespace. If nil, every
	// request shares one namespace.
	NamespaceFor func(host string) string

	// AllowedOrigins restricts browser origins allowed to open a WebSocket.
	// Empty allows any origin.
	AllowedOrigins []string

	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingSendQueueLength      int
}

// Server implements the PeerJS signaling surface.
//
// Endpoints:
//   - GET /peerjs?id=&token= : WebSocket registration and message routing
//   - GET /peerjs/peers      : identifiers seated in the caller's namespace
//   - GET /peerjs/id         : a random identifier suggestion (not reserved)
type Server struct {
	hub          *registry.Hub
	metrics      *metrics.Metrics
	log          *slog.Logger
	namespaceFor func(string) string

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int
	sendQueueLength      int

	upgrader websocket.Upgrader
	public   *cors.Cors

	mu    sync.Mutex
	peers map[*peer]struct{}
}

func NewServer(cfg Config) *Server {
	s := &Server{
		hub:                  cfg.Hub,
		metrics:              cfg.Metrics,
		log:                  cfg.Logger,
		namespaceFor:         cfg.NamespaceFor,
		idleTimeout:          cfg.SignalingWSIdleTimeout,
		pingInterval:         cfg.SignalingWSPingInterval,
		maxMessageBytes:      cfg.MaxSignalingMessageBytes,
		maxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		sendQueueLength:      cfg.SignalingSendQueueLength,
		public:               cors.AllowAll(),
		peers:                make(map[*peer]struct{}),
	}
	if s.hub == nil {
		s.hub = registry.NewHub()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.namespaceFor == nil {
		s.namespaceFor = func(string) string { return config.DefaultNamespace }
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if s.pingInterval <= 0 || s.pingInterval >= s.idleTimeout {
		s.pingInterval = s.idleTimeout / 3
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if s.sendQueueLength <= 0 {
		s.sendQueueLength = config.DefaultSignalingSendQueueLength
	}

	origins := cors.New(cors.Options{AllowedOrigins: cfg.AllowedOrigins})
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Non-browser clients send no Origin.
			if r.Header.Get("Origin") == "" || origins.OriginAllowed(r) {
				return true
			}
			s.metrics.Inc(metrics.OriginDenied)
			return false
		},
	}
	return s
}

func (s *Server) Hub() *registry.Hub { return s.hub }

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /peerjs", s.handleWebSocket)
	mux.Handle("/peerjs/peers", s.public.Handler(http.HandlerFunc(s.handlePeers)))
	mux.Handle("/peerjs/id", s.public.Handler(http.HandlerFunc(s.handleNewID)))
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close ends every open connection with 1001 (going away).
func (s *Server) Close() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.Close(websocket.CloseGoingAway, "server shutting down")
	}
	for _, p := range peers {
		<-p.Done()
	}
}

func (s *Server) track(p *peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(p *peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	ids := s.hub.ListIdentifiers(s.namespaceFor(r.Host))

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ids)
}

func (s *Server) handleNewID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(uuid.NewString()))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, token := q.Get("id"), q.Get("token")
	if id == "" || token == "" {
		s.metrics.Inc(metrics.BadRequest)
		http.Error(w, "id and token are required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.metrics.Inc(metrics.WSConnections)

	namespace := s.namespaceFor(r.Host)
	log := s.log.With(
		"conn_id", uuid.NewString(),
		"peer_id", id,
		"namespace", namespace,
		"remote_addr", r.RemoteAddr,
	)

	p := newPeer(conn, s.sendQueueLength, s.pingInterval, log)
	s.track(p)
	defer s.untrack(p)
	go p.writeLoop()

	reg := s.hub.Acquire(namespace)
	defer s.hub.Release(namespace)

	outcome, err := reg.Register(id, token, p)
	if err != nil {
		if errors.Is(err, registry.ErrIDTaken) {
			s.metrics.Inc(metrics.IDTaken)
			log.Info("peer id taken")
		}
		p.Close(protocol.CloseIDTaken, protocol.CloseIDTakenReason)
		<-p.Done()
		return
	}
	defer reg.Deregister(id, p)

	switch outcome {
	case registry.OutcomeReplaced:
		s.metrics.Inc(metrics.Replaced)
		log.Info("peer reconnected, previous connection replaced")
	default:
		s.metrics.Inc(metrics.Seated)
		log.Debug("peer seated")
	}

	s.readLoop(reg, id, p, log)
	log.Debug("peer disconnected")
}

// readLoop runs until the connection fails or is closed by either side. It
// always leaves p closed.
func (s *Server) readLoop(reg *registry.Registry, id string, p *peer, log *slog.Logger) {
	defer func() {
		p.Close(websocket.CloseNormalClosure, "")
		<-p.Done()
	}()

	conn := p.conn
	conn.SetReadLimit(s.maxMessageBytes)
	extend := func() error { return conn.SetReadDeadline(time.Now().Add(s.idleTimeout)) }
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })

	var limiter *rate.Limiter
	if s.maxMessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.maxMessagesPerSecond), s.maxMessagesPerSecond)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				s.metrics.Inc(metrics.DropReasonMessageTooLarge)
				p.Close(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				log.Debug("signaling websocket idle timeout")
				p.Close(websocket.CloseNormalClosure, "idle timeout")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Debug("signaling websocket closed unexpectedly", "err", err)
			}
			return
		}
		_ = extend()

		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.DropReasonUnsupportedFrame)
			p.Close(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		// Liveness is answered before anything else touches the frame.
		if protocol.IsHeartbeat(data) {
			s.metrics.Inc(metrics.Heartbeats)
			_ = p.Send(heartbeatFrame)
			continue
		}

		if limiter != nil && !limiter.Allow() {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			p.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		s.route(reg, id, data, log)
	}
}

func (s *Server) route(reg *registry.Registry, id string, data []byte, log *slog.Logger) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		s.metrics.Inc(metrics.DropReasonMalformed)
		log.Debug("dropping malformed message", "err", err)
		return
	}

	sum := protocol.Inspect(env)
	if sum.Err != nil {
		s.metrics.Inc(metrics.InvalidSDP)
		log.Debug("negotiation payload does not match its type", "type", env.Type, "err", sum.Err)
	}

	err = reg.Route(id, env)
	switch {
	case err == nil:
		s.metrics.Inc(metrics.Routed)
		s.metrics.Inc(metrics.RoutedPrefix + sum.Label())
	case errors.Is(err, registry.ErrDestinationNotFound):
		s.metrics.Inc(metrics.DropReasonNoDestination)
		log.Debug("dropping message for unknown destination", "dst", env.Dst, "type", env.Type)
	case errors.Is(err, ErrSendQueueFull):
		s.metrics.Inc(metrics.DropReasonSendQueueFull)
		log.Warn("dropping message, destination send queue full", "dst", env.Dst)
	default:
		log.Debug("dropping message", "dst", env.Dst, "err", err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
