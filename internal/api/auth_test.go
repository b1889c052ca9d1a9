package api

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena-host/internal/arena"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens([]byte("secret"))
	require.NoError(t, err)

	tok := tokens.Issue("0b5c6c3e-0d6f-4d8e-9a51-2f1f3f8d2a10", 12)
	id, player, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, arena.ID("0b5c6c3e-0d6f-4d8e-9a51-2f1f3f8d2a10"), id)
	assert.Equal(t, arena.PlayerID(12), player)
}

func TestTokensRejectForgery(t *testing.T) {
	tokens, _ := NewTokens([]byte("secret"))
	other, _ := NewTokens(nil)
	valid := tokens.Issue("a1", 1)

	forged := base64.RawURLEncoding.EncodeToString([]byte("a1/2.deadbeef"))
	tests := []struct {
		name  string
		token string
		with  *Tokens
	}{
		{"not base64", "%%%", tokens},
		{"no signature", base64.RawURLEncoding.EncodeToString([]byte("a1/1")), tokens},
		{"bad signature", forged, tokens},
		{"other key", valid, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.with.Verify(tt.token)
			assert.ErrorIs(t, err, errBadToken)
		})
	}
}

func TestAdminAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"open when unset", "", "", http.StatusNoContent},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"wrong token", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"right token", "s3cret", "Bearer s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/arenas", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			AdminAuth(tt.token)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
