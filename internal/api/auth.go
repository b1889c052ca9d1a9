package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"arena-host/internal/arena"
)

var errBadToken = errors.New("invalid reconnect token")

// Tokens signs reconnect tokens. A token names one arena and one player and
// lets a client reclaim that player while it is in limbo.
type Tokens struct {
	secret []byte
}

// NewTokens uses secret, or a random key when secret is empty. Tokens from a
// random key do not survive a restart, which is fine: neither do arenas.
func NewTokens(secret []byte) (*Tokens, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate token key: %w", err)
		}
	}
	return &Tokens{secret: secret}, nil
}

// Issue returns the token for player in arena id.
func (t *Tokens) Issue(id arena.ID, player arena.PlayerID) string {
	body := string(id) + "/" + player.String()
	return base64.RawURLEncoding.EncodeToString([]byte(body + "." + t.sign(body)))
}

// Verify checks the signature and returns what the token names.
func (t *Tokens) Verify(token string) (arena.ID, arena.PlayerID, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, errBadToken
	}
	raw := string(decoded)
	dot := strings.LastIndexByte(raw, '.')
	if dot < 0 {
		return "", 0, errBadToken
	}
	body, sig := raw[:dot], raw[dot+1:]
	if !hmac.Equal([]byte(sig), []byte(t.sign(body))) {
		return "", 0, errBadToken
	}

	slash := strings.LastIndexByte(body, '/')
	if slash <= 0 {
		return "", 0, errBadToken
	}
	player, err := strconv.ParseUint(body[slash+1:], 10, 32)
	if err != nil {
		return "", 0, errBadToken
	}
	return arena.ID(body[:slash]), arena.PlayerID(player), nil
}

func (t *Tokens) sign(body string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// AdminAuth guards arena administration with a bearer token. An empty token
// disables the check.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, "admin authentication required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
