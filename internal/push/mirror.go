// Package push mirrors arena output onto a NATS bus so that spectators,
// replays and other processes can follow a game without holding a
// websocket.
package push

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"arena-host/internal/arena"
)

var publishFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "push_mirror_publish_failures_total",
	Help: "Mirror messages that could not be handed to NATS",
})

// Publisher is the part of *nats.Conn the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the msgpack body published for every delivery and closure.
type Message struct {
	Arena   string `msgpack:"arena"`
	Player  uint32 `msgpack:"player"`
	Version uint64 `msgpack:"version,omitempty"`
	Final   bool   `msgpack:"final,omitempty"`
	Closed  string `msgpack:"closed,omitempty"` // closure reason
	Payload []byte `msgpack:"payload,omitempty"`
}

// Mirror implements arena.Pusher by publishing to
//
//	<prefix>.<arena>.player.<player>   deliveries
//	<prefix>.<arena>.closed            closures
//
// It never rejects a delivery: the bus is a copy, not the player's link.
type Mirror struct {
	pub    Publisher
	prefix string
	log    *zap.Logger
}

func NewMirror(pub Publisher, prefix string, log *zap.Logger) *Mirror {
	if prefix == "" {
		prefix = "arena"
	}
	return &Mirror{pub: pub, prefix: prefix, log: log}
}

// Connect dials NATS and returns a mirror plus a func that drains the
// connection.
func Connect(url, prefix string, log *zap.Logger) (*Mirror, func(), error) {
	nc, err := nats.Connect(url,
		nats.Name("arena-host"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("push: connect %s: %w", url, err)
	}
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			log.Warn("nats drain", zap.Error(err))
		}
	}
	return NewMirror(nc, prefix, log), closeFn, nil
}

// PlayerSubject is where deliveries for one player are published.
func (m *Mirror) PlayerSubject(id arena.ID, player arena.PlayerID) string {
	return fmt.Sprintf("%s.%s.player.%d", m.prefix, id, player)
}

// ClosedSubject is where closures of an arena are published.
func (m *Mirror) ClosedSubject(id arena.ID) string {
	return fmt.Sprintf("%s.%s.closed", m.prefix, id)
}

func (m *Mirror) Push(d arena.Delivery) bool {
	m.publish(m.PlayerSubject(d.Arena, d.Player), Message{
		Arena:   string(d.Arena),
		Player:  uint32(d.Player),
		Version: uint64(d.Version),
		Final:   d.Final,
		Payload: d.Payload,
	})
	return true
}

func (m *Mirror) Close(c arena.Closure) {
	m.publish(m.ClosedSubject(c.Arena), Message{
		Arena:  string(c.Arena),
		Player: uint32(c.Player),
		Closed: c.Reason,
	})
}

func (m *Mirror) publish(subject string, msg Message) {
	data, err := msgpack.Marshal(&msg)
	if err == nil {
		err = m.pub.Publish(subject, data)
	}
	if err != nil {
		publishFailures.Inc()
		m.log.Debug("mirror publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
