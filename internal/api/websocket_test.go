package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"arena-host/internal/api"
	"arena-host/internal/arena"
)

func TestWebSocketJoinInputAndDiff(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := env.dial(t, "/ws?kind=duel")

	joined := readEnvelope(t, conn)
	assert.Equal(t, api.TypeJoined, joined.Type)
	assert.Equal(t, uint32(1), joined.Player)
	assert.NotEmpty(t, joined.Token)
	assert.JSONEq(t, `{"hello":1}`, string(joined.Data))

	a := env.onlyArena(t)
	writeEnvelope(t, conn, api.Envelope{Type: api.TypeInput, Data: []byte(`{"add":2}`)})
	require.Eventually(t, func() bool {
		st, err := a.Stats(context.Background())
		return err == nil && st.PendingInputs == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, env.ticker.Fire())
	diff := readEnvelope(t, conn)
	assert.Equal(t, api.TypeDiff, diff.Type)
	assert.Equal(t, uint64(1), diff.Version)
	assert.JSONEq(t, `{"from":0,"to":1}`, string(diff.Data))

	got := env.sim.received()
	require.Len(t, got, 1)
	assert.Equal(t, arena.PlayerID(1), got[0].Player)
	assert.JSONEq(t, `{"add":2}`, string(got[0].Payload))
}

func TestWebSocketMsgpackCodec(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := env.dial(t, "/ws?kind=duel&codec=msgpack")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)

	var joined api.Envelope
	require.NoError(t, msgpack.Unmarshal(data, &joined))
	assert.Equal(t, api.TypeJoined, joined.Type)
}

func TestWebSocketAdmissionErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{maxArenas: 1})
	env.dial(t, "/ws?kind=duel")
	env.dial(t, "/ws?kind=duel")

	tests := []struct {
		name string
		path string
		want int
	}{
		{"host full", "/ws?kind=duel", http.StatusServiceUnavailable},
		{"unknown kind", "/ws?kind=chess", http.StatusNotFound},
		{"unknown arena", "/ws/nope", http.StatusNotFound},
		{"bad codec", "/ws?codec=xml", http.StatusBadRequest},
		{"bad token", "/ws?token=abc", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(tt.path), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Equal(t, 2, env.gateway.Count(), "rejected dials hold no slot")
}

func TestWebSocketReconnectFromLimbo(t *testing.T) {
	env := newTestEnv(t, envOptions{limbo: time.Minute})
	conn := env.dial(t, "/ws?kind=duel")
	joined := readEnvelope(t, conn)
	a := env.onlyArena(t)

	// A second client cannot steal a connected session.
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/ws?token="+joined.Token), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	conn.Close()
	require.Eventually(t, func() bool { return a.Load().Limbo == 1 }, 2*time.Second, 5*time.Millisecond)

	again := env.dial(t, "/ws?token="+joined.Token)
	rejoined := readEnvelope(t, again)
	assert.Equal(t, api.TypeJoined, rejoined.Type)
	assert.Equal(t, joined.Player, rejoined.Player)
	assert.Equal(t, 0, a.Load().Limbo)

	require.True(t, env.ticker.Fire())
	diff := readEnvelope(t, again)
	assert.JSONEq(t, `{"from":0,"to":1}`, string(diff.Data), "a reconnected client gets a full diff")
}

func TestWebSocketLeave(t *testing.T) {
	env := newTestEnv(t, envOptions{limbo: time.Minute})
	conn := env.dial(t, "/ws?kind=duel")
	readEnvelope(t, conn)
	a := env.onlyArena(t)

	writeEnvelope(t, conn, api.Envelope{Type: api.TypeLeave})
	closed := readEnvelope(t, conn)
	assert.Equal(t, api.TypeClosed, closed.Type)
	assert.Equal(t, "left", closed.Reason)

	require.Eventually(t, func() bool {
		l := a.Load()
		return l.Real == 0 && l.Limbo == 0
	}, 2*time.Second, 5*time.Millisecond, "leaving skips limbo")
}

func TestWebSocketUnknownMessage(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := env.dial(t, "/ws?kind=duel")
	readEnvelope(t, conn)

	writeEnvelope(t, conn, api.Envelope{Type: "teleport"})
	msg := readEnvelope(t, conn)
	assert.Equal(t, api.TypeError, msg.Type)
	assert.Contains(t, msg.Reason, "teleport")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = readEnvelope(t, conn)
	assert.Equal(t, "malformed message", msg.Reason)
}

// Draining an arena sends every client a final diff, then a closed notice,
// then closes the socket.
func TestWebSocketDrainNotifiesClients(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := env.dial(t, "/ws?kind=duel")
	readEnvelope(t, conn)
	a := env.onlyArena(t)

	rep, err := a.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Notified)

	final := readEnvelope(t, conn)
	assert.Equal(t, api.TypeDiff, final.Type)
	assert.True(t, final.Final)

	closed := readEnvelope(t, conn)
	assert.Equal(t, api.TypeClosed, closed.Type)
	assert.Equal(t, arena.ReasonShutdown, closed.Reason)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
