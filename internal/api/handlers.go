package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"arena-host/internal/arena"
	"arena-host/internal/host"
)

// drainTimeout bounds an admin-triggered drain.
const drainTimeout = 10 * time.Second

// ArenaSummary is one entry of GET /api/arenas, read from the arena's
// lock-free load summary.
type ArenaSummary struct {
	ID      arena.ID          `json:"id"`
	Kind    string            `json:"kind"`
	State   string            `json:"state"`
	Version arena.TickVersion `json:"version"`
	Real    int               `json:"real"`
	Bots    int               `json:"bots"`
	Limbo   int               `json:"limbo"`
	Free    int               `json:"free"`
}

func summarize(a *arena.Arena) ArenaSummary {
	l := a.Load()
	return ArenaSummary{
		ID:      a.ID(),
		Kind:    a.Config().Kind,
		State:   l.State.String(),
		Version: l.Version,
		Real:    l.Real,
		Bots:    l.Bots,
		Limbo:   l.Limbo,
		Free:    l.Free(),
	}
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	sum := h.host.Summary()
	status := http.StatusOK
	if sum.Phase != "running" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"phase": sum.Phase})
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		host.Summary
		Connections int            `json:"connections"`
		RateLimit   RateLimitStats `json:"rateLimit"`
	}{
		Summary:     h.host.Summary(),
		Connections: h.connections(),
		RateLimit:   h.rateLimiter.Stats(),
	})
}

func (h *routerHandlers) handleGetKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.host.Kinds())
}

func (h *routerHandlers) handleListArenas(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	out := make([]ArenaSummary, 0)
	for _, a := range h.host.List() {
		if kind != "" && a.Config().Kind != kind {
			continue
		}
		out = append(out, summarize(a))
	}
	writeJSON(w, out)
}

// handleGetArena returns stats taken on the arena goroutine, so they are
// consistent with one tick boundary.
func (h *routerHandlers) handleGetArena(w http.ResponseWriter, r *http.Request) {
	a, ok := h.host.Get(arena.ID(chi.URLParam(r, "arenaID")))
	if !ok {
		writeError(w, host.ErrUnknownArena.Error(), http.StatusNotFound)
		return
	}
	st, err := a.Stats(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, st)
}

func (h *routerHandlers) handleCreateArena(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Kind == "" {
		writeError(w, "kind is required", http.StatusBadRequest)
		return
	}

	a, err := h.host.Create(req.Kind)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	h.log.Info("arena created via api", zap.String("arena", a.ID().String()), zap.String("kind", req.Kind))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(summarize(a))
}

// DrainResponse reports a completed drain.
type DrainResponse struct {
	Arena    arena.ID          `json:"arena"`
	Version  arena.TickVersion `json:"version"`
	Notified int               `json:"notified"`
	Error    string            `json:"error,omitempty"`
}

func (h *routerHandlers) handleDrainArena(w http.ResponseWriter, r *http.Request) {
	a, ok := h.host.Get(arena.ID(chi.URLParam(r, "arenaID")))
	if !ok {
		writeError(w, host.ErrUnknownArena.Error(), http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), drainTimeout)
	defer cancel()
	rep, err := a.Drain(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.ForceStop()
		}
		writeError(w, err.Error(), http.StatusGatewayTimeout)
		return
	}

	resp := DrainResponse{Arena: rep.Arena, Version: rep.Version, Notified: rep.Notified}
	if rep.Err != nil {
		resp.Error = rep.Err.Error()
	}
	h.log.Info("arena drained via api", zap.String("arena", rep.Arena.String()), zap.Int("notified", rep.Notified))
	writeJSON(w, resp)
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
