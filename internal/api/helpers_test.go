package api_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arena-host/internal/api"
	"arena-host/internal/arena"
	"arena-host/internal/config"
	"arena-host/internal/host"
	"arena-host/internal/shutdown"
)

// echoSim greets joiners and answers every diff with the version range.
type echoSim struct {
	mu     sync.Mutex
	inputs []arena.Input
}

func (s *echoSim) OnJoin(p arena.PlayerID, bot bool) arena.Payload {
	return arena.Payload(fmt.Sprintf(`{"hello":%d}`, p))
}

func (s *echoSim) OnLeave(arena.PlayerID) {}

func (s *echoSim) Advance(_ context.Context, inputs []arena.Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, inputs...)
	return nil
}

func (s *echoSim) SnapshotDiff(from, to arena.TickVersion, _ arena.PlayerID) arena.Payload {
	return arena.Payload(fmt.Sprintf(`{"from":%d,"to":%d}`, from, to))
}

func (s *echoSim) received() []arena.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]arena.Input(nil), s.inputs...)
}

type testEnv struct {
	ts      *httptest.Server
	host    *host.Host
	state   *shutdown.State
	gateway *api.Gateway
	ticker  *arena.ManualTicker
	sim     *echoSim
	tokens  *api.Tokens
}

type envOptions struct {
	limbo      time.Duration
	maxArenas  int
	adminToken string
}

// newTestEnv serves a host with one "duel" kind (two players, no bots)
// whose arenas tick only when the test fires the shared manual ticker.
func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	log := zap.NewNop()

	srvCfg := config.DefaultServer()
	srvCfg.AdminToken = opts.adminToken
	limits := config.DefaultRateLimit()
	limits.RequestsPerSecond = 1000
	limits.Burst = 1000

	env := &testEnv{
		state:   shutdown.NewState(),
		gateway: api.NewGateway(srvCfg, log),
		ticker:  arena.NewManualTicker(),
		sim:     &echoSim{},
	}
	env.host = host.New(env.state, log, host.Options{
		MaxArenas: opts.maxArenas,
		ArenaOptions: []arena.Option{
			arena.WithPusher(env.gateway),
			arena.WithTickSource(env.ticker),
		},
	})
	env.host.RegisterPlugin("echo", func(arena.Config) (arena.Simulation, error) { return env.sim, nil })
	require.NoError(t, env.host.AddKind(arena.Config{
		Kind:          "duel",
		Plugin:        "echo",
		TickInterval:  time.Hour,
		MaxPopulation: 2,
		Limbo:         opts.limbo,
	}))

	var err error
	env.tokens, err = api.NewTokens([]byte("test-key"))
	require.NoError(t, err)

	srv := api.NewServer(api.ServerConfig{
		Host:      env.host,
		Gateway:   env.gateway,
		Tokens:    env.tokens,
		Server:    srvCfg,
		RateLimit: limits,
		Log:       log,
	})
	env.ts = httptest.NewServer(srv.Router())

	t.Cleanup(func() {
		for _, a := range env.host.List() {
			a.ForceStop()
			<-a.Done()
		}
		env.gateway.CloseAll(arena.ReasonShutdown)
		env.ts.Close()
	})
	return env
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + path
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(path), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s failed (status %d): %v", path, status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) onlyArena(t *testing.T) *arena.Arena {
	t.Helper()
	arenas := e.host.List()
	require.Len(t, arenas, 1)
	return arenas[0]
}

func readEnvelope(t *testing.T, conn *websocket.Conn) api.Envelope {
	t.Helper()
	codec, _ := api.CodecByName("json")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := codec.Decode(data)
	require.NoError(t, err)
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env api.Envelope) {
	t.Helper()
	codec, _ := api.CodecByName("json")
	data, err := codec.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}
