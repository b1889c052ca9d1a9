package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"arena-host/internal/arena"
	"arena-host/internal/config"
	"arena-host/internal/host"
)

// disconnectTimeout bounds reporting a dropped socket to its arena.
const disconnectTimeout = 2 * time.Second

// Server is the public HTTP API plus the websocket gateway.
type Server struct {
	host        Host
	gateway     *Gateway
	tokens      *Tokens
	limits      config.RateLimitConfig
	cfg         config.ServerConfig
	log         *zap.Logger
	router      *chi.Mux
	rateLimiter *IPRateLimiter
	http        *http.Server
}

// ServerConfig wires a Server.
type ServerConfig struct {
	Host      Host
	Gateway   *Gateway
	Tokens    *Tokens
	Server    config.ServerConfig
	RateLimit config.RateLimitConfig
	Log       *zap.Logger
}

// NewServer builds the router and websocket routes. Nothing listens until
// Start is called; the rate limiter's cleanup goroutine is the only
// background work.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		host:        cfg.Host,
		gateway:     cfg.Gateway,
		tokens:      cfg.Tokens,
		limits:      cfg.RateLimit,
		cfg:         cfg.Server,
		log:         cfg.Log,
		rateLimiter: NewIPRateLimiter(cfg.RateLimit),
	}
	s.router = NewRouter(RouterConfig{
		Host:        cfg.Host,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.Server.AllowedOrigins,
		AdminToken:  cfg.Server.AdminToken,
		Connections: cfg.Gateway.Count,
		Log:         cfg.Log,
	})
	s.setupWebSocketRoutes()
	s.http = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupWebSocketRoutes() {
	s.router.Get("/ws", s.handleWS)
	s.router.Get("/ws/{arenaID}", s.handleWS)
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info("api server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes the websockets still open.
// Arenas should be drained first so clients get their final snapshot.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.gateway.CloseAll(arena.ReasonShutdown)
	s.rateLimiter.Stop()
	return err
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleWS admits the connection before upgrading so that admission errors
// are plain HTTP statuses. Query: kind, codec, token (reconnect).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	codec, err := CodecByName(r.URL.Query().Get("codec"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, status := s.gateway.open(GetClientIP(r), codec)
	if c == nil {
		writeError(w, "too many connections", status)
		return
	}

	a, res, err := s.admit(r, c.id)
	if err != nil {
		s.gateway.forget(c)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	ws, err := s.gateway.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.gateway.forget(c)
		_ = a.Leave(context.Background(), res.Player)
		return
	}
	c.ws = ws

	joined, err := codec.Encode(Envelope{
		Type:    TypeJoined,
		Arena:   string(res.Arena),
		Player:  uint32(res.Player),
		Version: uint64(res.Version),
		Token:   s.tokens.Issue(res.Arena, res.Player),
		Data:    res.Init,
	})
	if err == nil {
		err = c.write(joined, s.cfg.WriteTimeout)
	}
	if err != nil {
		s.log.Debug("joined notice failed", zap.Error(err))
		s.gateway.forget(c)
		ws.Close()
		_ = a.Leave(context.Background(), res.Player)
		return
	}

	go s.gateway.writeLoop(c)
	s.readLoop(r.Context(), c, a, res.Player)
}

// admit joins, joins a named arena, or reconnects with a token.
func (s *Server) admit(r *http.Request, conn arena.ConnID) (*arena.Arena, arena.JoinResult, error) {
	ctx := r.Context()
	if token := r.URL.Query().Get("token"); token != "" {
		id, player, err := s.tokens.Verify(token)
		if err != nil {
			return nil, arena.JoinResult{}, err
		}
		a, ok := s.host.Get(id)
		if !ok {
			return nil, arena.JoinResult{}, host.ErrUnknownArena
		}
		res, err := a.Reconnect(ctx, player, conn)
		return a, res, err
	}
	if id := chi.URLParam(r, "arenaID"); id != "" {
		return s.host.JoinArena(ctx, arena.ID(id), conn)
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kinds := s.host.Kinds()
		if len(kinds) != 1 {
			return nil, arena.JoinResult{}, errKindRequired
		}
		kind = kinds[0]
	}
	return s.host.Join(ctx, kind, conn)
}

// readLoop turns client frames into arena calls until the socket closes.
func (s *Server) readLoop(ctx context.Context, c *wsConn, a *arena.Arena, player arena.PlayerID) {
	pongWait := 2 * s.cfg.PingInterval
	c.ws.SetReadLimit(s.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.limits.InputsPerSecond), s.limits.InputBurst)
	log := s.log.With(zap.String("arena", a.ID().String()), zap.Stringer("player", player))
	left := false

	for !left {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			break
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		env, err := c.codec.Decode(data)
		if err != nil {
			c.enqueue(Envelope{Type: TypeError, Reason: "malformed message"})
			continue
		}
		switch env.Type {
		case TypeInput:
			if !limiter.Allow() {
				wsInputsThrottled.Inc()
				continue
			}
			a.Deliver(ctx, player, env.Data)
		case TypeAck:
			a.Ack(ctx, player, arena.TickVersion(env.Version))
		case TypeLeave:
			if err := a.Leave(ctx, player); err != nil {
				log.Debug("leave failed", zap.Error(err))
			}
			c.shutdown(Envelope{Type: TypeClosed, Arena: a.ID().String(), Player: uint32(player), Reason: "left"})
			left = true
		default:
			c.enqueue(Envelope{Type: TypeError, Reason: "unknown message type " + strconv.Quote(env.Type)})
		}
	}

	s.gateway.forget(c)
	c.shutdown(Envelope{})
	if left {
		return
	}
	dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := a.Disconnect(dctx, c.id); err != nil {
		log.Debug("disconnect not delivered", zap.Error(err))
	}
}

var errKindRequired = errors.New("kind is required")

// statusFor maps admission and routing errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, arena.ErrArenaFull),
		errors.Is(err, arena.ErrArenaDraining),
		errors.Is(err, host.ErrHostFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, host.ErrUnknownKind),
		errors.Is(err, host.ErrUnknownArena):
		return http.StatusNotFound
	case errors.Is(err, arena.ErrNotInLimbo),
		errors.Is(err, arena.ErrUnknownPlayer):
		return http.StatusConflict
	case errors.Is(err, errBadToken):
		return http.StatusUnauthorized
	case errors.Is(err, errKindRequired):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
