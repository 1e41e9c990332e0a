package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// TokenGuard protects routes with a shared bearer token checked against a
// bcrypt hash. A guard without a hash lets every request through.
type TokenGuard struct {
	hash []byte
}

// NewTokenGuard creates a guard for the given bcrypt hash (may be empty)
func NewTokenGuard(hash string) *TokenGuard {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		log.Warn().Msg("RELAY_TOKEN_HASH not set, relay is open")
		return &TokenGuard{}
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		log.Error().Err(err).Msg("RELAY_TOKEN_HASH is not a bcrypt hash, all guarded requests will be rejected")
	}
	return &TokenGuard{hash: []byte(hash)}
}

// Enabled reports whether a token is required
func (g *TokenGuard) Enabled() bool {
	return len(g.hash) > 0
}

// Middleware creates an authentication middleware. CORS preflight requests
// pass through unchecked.
func (g *TokenGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			writeJSONError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "empty token")
			return
		}

		if err := bcrypt.CompareHashAndPassword(g.hash, []byte(token)); err != nil {
			log.Debug().Str("path", r.URL.Path).Msg("Relay token rejected")
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
