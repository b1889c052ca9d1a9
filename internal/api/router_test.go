package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena-host/internal/api"
	"arena-host/internal/arena"
	"arena-host/internal/shutdown"
)

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthReportsShutdownPhase(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/healthz", &body))
	assert.Equal(t, "running", body["phase"])

	env.state.Advance(shutdown.Draining)
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, env.ts.URL+"/healthz", &body))
	assert.Equal(t, "draining", body["phase"])
}

func TestCreateAndListArenas(t *testing.T) {
	env := newTestEnv(t, envOptions{adminToken: "s3cret"})

	resp := post(t, env.ts.URL+"/api/arenas", "", `{"kind":"duel"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, env.ts.URL+"/api/arenas", "s3cret", `{"kind":"duel"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created api.ArenaSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "duel", created.Kind)
	assert.Equal(t, 2, created.Free)

	var list []api.ArenaSummary
	assert.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/api/arenas?kind=duel", &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	var stats arena.Stats
	assert.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/api/arenas/"+string(created.ID), &stats))
	assert.Equal(t, "running", stats.State)
	assert.Equal(t, 2, stats.MaxPopulation)
}

func TestCreateArenaErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing kind", `{}`, http.StatusBadRequest},
		{"invalid json", `{kind`, http.StatusBadRequest},
		{"unknown kind", `{"kind":"chess"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, env.ts.URL+"/api/arenas", "", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestUnknownArena(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	assert.Equal(t, http.StatusNotFound, getJSON(t, env.ts.URL+"/api/arenas/nope", nil))
	assert.Equal(t, http.StatusNotFound, post(t, env.ts.URL+"/api/arenas/nope/drain", "", "").StatusCode)
}

func TestDrainArenaEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	a, err := env.host.Create("duel")
	require.NoError(t, err)

	resp := post(t, env.ts.URL+"/api/arenas/"+a.ID().String()+"/drain", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep api.DrainResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, a.ID(), rep.Arena)
	assert.Empty(t, rep.Error)

	<-a.Done()
	assert.Equal(t, arena.StateStopped, a.State())
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := env.dial(t, "/ws?kind=duel")
	readEnvelope(t, conn)

	var stats struct {
		Arenas      int `json:"arenas"`
		Real        int `json:"real"`
		Connections int `json:"connections"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, env.ts.URL+"/api/stats", &stats))
	assert.Equal(t, 1, stats.Arenas)
	assert.Equal(t, 1, stats.Real)
	assert.Equal(t, 1, stats.Connections)
}
