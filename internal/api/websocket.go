package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arena-host/internal/arena"
	"arena-host/internal/config"
)

// Gateway owns the websocket connections and implements arena.Pusher for
// them. Every connection has a bounded send queue drained by its own write
// goroutine, so arenas never wait on a slow client.
type Gateway struct {
	cfg      config.ServerConfig
	log      *zap.Logger
	perIP    *ConnLimiter
	origins  OriginChecker
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[arena.ConnID]*wsConn
}

// NewGateway creates a gateway with no connections.
func NewGateway(cfg config.ServerConfig, log *zap.Logger) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		log:     log,
		perIP:   NewConnLimiter(cfg.MaxPerIP),
		origins: NewOriginChecker(cfg.AllowedOrigins),
		conns:   make(map[arena.ConnID]*wsConn),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if g.origins.Allowed(origin) {
				return true
			}
			g.log.Warn("websocket origin rejected", zap.String("origin", origin))
			RecordConnectionRejected("origin")
			return false
		},
	}
	return g
}

// wsConn is one client connection. ws is nil until the upgrade succeeds;
// pushes that arrive earlier wait in send.
type wsConn struct {
	id    arena.ConnID
	ip    string
	codec Codec
	send  chan []byte
	ws    *websocket.Conn

	closing   chan struct{}
	closeOnce sync.Once
	final     []byte // closed envelope written after the queue is flushed
	reason    string
}

// open reserves capacity for a new connection and registers it.
func (g *Gateway) open(ip string, codec Codec) (*wsConn, int) {
	if g.Count() >= g.cfg.MaxConnections {
		RecordConnectionRejected("ws_total_limit")
		return nil, http.StatusServiceUnavailable
	}
	if !g.perIP.Acquire(ip) {
		RecordConnectionRejected("ws_ip_limit")
		return nil, http.StatusTooManyRequests
	}

	c := &wsConn{
		id:      arena.NewConnID(),
		ip:      ip,
		codec:   codec,
		send:    make(chan []byte, g.cfg.SendQueue),
		closing: make(chan struct{}),
	}
	g.mu.Lock()
	g.conns[c.id] = c
	count := len(g.conns)
	g.mu.Unlock()
	wsConnectionsActive.Set(float64(count))
	return c, 0
}

// forget unregisters c and frees its IP slot. Safe to call twice.
func (g *Gateway) forget(c *wsConn) {
	g.mu.Lock()
	_, ok := g.conns[c.id]
	delete(g.conns, c.id)
	count := len(g.conns)
	g.mu.Unlock()
	if ok {
		g.perIP.Release(c.ip)
		wsConnectionsActive.Set(float64(count))
	}
}

func (g *Gateway) lookup(id arena.ConnID) *wsConn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conns[id]
}

// Count returns the number of registered connections.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Push queues a diff for the connection. It reports false when the
// connection is gone or its queue is full.
func (g *Gateway) Push(d arena.Delivery) bool {
	c := g.lookup(d.Conn)
	if c == nil {
		return false
	}
	return c.enqueue(Envelope{
		Type:    TypeDiff,
		Arena:   string(d.Arena),
		Player:  uint32(d.Player),
		Version: uint64(d.Version),
		Final:   d.Final,
		Data:    d.Payload,
	})
}

// Close sends the closure notice after anything already queued and then
// closes the socket.
func (g *Gateway) Close(cl arena.Closure) {
	c := g.lookup(cl.Conn)
	if c == nil {
		return
	}
	c.shutdown(Envelope{
		Type:   TypeClosed,
		Arena:  string(cl.Arena),
		Player: uint32(cl.Player),
		Reason: cl.Reason,
	})
}

// CloseAll closes every connection still open, e.g. after shutdown.
func (g *Gateway) CloseAll(reason string) {
	g.mu.RLock()
	conns := make([]*wsConn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.RUnlock()
	for _, c := range conns {
		c.shutdown(Envelope{Type: TypeClosed, Reason: reason})
	}
}

func (c *wsConn) enqueue(env Envelope) bool {
	data, err := c.codec.Encode(env)
	if err != nil {
		wsFramesDropped.WithLabelValues("encode").Inc()
		return false
	}
	select {
	case <-c.closing:
		wsFramesDropped.WithLabelValues("closing").Inc()
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		wsFramesDropped.WithLabelValues("queue_full").Inc()
		return false
	}
}

// shutdown stops the writer once the queue is flushed. A zero envelope
// closes without a closed notice.
func (c *wsConn) shutdown(env Envelope) {
	c.closeOnce.Do(func() {
		if env.Type != "" {
			c.final, _ = c.codec.Encode(env)
			c.reason = env.Reason
		}
		close(c.closing)
	})
}

func (c *wsConn) write(data []byte, timeout time.Duration) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
	if err := c.ws.WriteMessage(c.codec.MessageType(), data); err != nil {
		return err
	}
	wsMessagesTotal.Inc()
	return nil
}

// writeLoop is the only writer once started. It exits after a shutdown or
// a write error, closing the socket so the read side ends too.
func (g *Gateway) writeLoop(c *wsConn) {
	ping := time.NewTicker(g.cfg.PingInterval)
	defer func() {
		ping.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(data, g.cfg.WriteTimeout); err != nil {
				g.log.Debug("websocket write failed", zap.String("conn", string(c.id)), zap.Error(err))
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(g.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.closing:
			g.flush(c)
			return
		}
	}
}

// flush writes what is queued, then the closed notice and a close frame.
func (g *Gateway) flush(c *wsConn) {
	for drained := false; !drained; {
		select {
		case data := <-c.send:
			if err := c.write(data, g.cfg.WriteTimeout); err != nil {
				return
			}
		default:
			drained = true
		}
	}
	if c.final != nil {
		if err := c.write(c.final, g.cfg.WriteTimeout); err != nil {
			return
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.cfg.WriteTimeout))
}
