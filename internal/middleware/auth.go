package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/coramini/relay-server-go/internal/audit"
	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/httputil"
	"github.com/coramini/relay-server-go/internal/util"
)

// maxVerifiedKeys bounds the bcrypt memo. Only successful verifications are
// remembered, so the set can only grow with real credentials.
const maxVerifiedKeys = 64

// AuthMiddleware accepts the shared relay credential as a Bearer token. It
// is compared in constant time against the plain key, or checked against a
// bcrypt hash with successful results memoised per token hash.
type AuthMiddleware struct {
	key      string
	keyHash  string
	failures *AuthFailureLimiter

	mu       sync.RWMutex
	verified map[string]struct{}
}

// NewAuthMiddleware takes an optional failure limiter; nil disables lockout.
func NewAuthMiddleware(key, keyHash string, failures *AuthFailureLimiter) *AuthMiddleware {
	return &AuthMiddleware{
		key:      key,
		keyHash:  keyHash,
		failures: failures,
		verified: make(map[string]struct{}),
	}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)
		if m.failures != nil && m.failures.Blocked(ip) {
			w.Header().Set("Retry-After", "60")
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		if !m.authenticate(token) {
			log.Warn().Str("path", r.URL.Path).Msg("auth middleware: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			if m.failures != nil {
				m.failures.RecordFailure(ip)
			}
			httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) authenticate(token string) bool {
	if m.key != "" && util.ConstantTimeEqual(token, m.key) {
		return true
	}
	if m.keyHash == "" {
		return false
	}

	tokenHash := util.HashToken(token)
	m.mu.RLock()
	_, ok := m.verified[tokenHash]
	m.mu.RUnlock()
	if ok {
		return true
	}

	if !util.CheckPasswordHash(token, m.keyHash) {
		return false
	}

	m.mu.Lock()
	if len(m.verified) < maxVerifiedKeys {
		m.verified[tokenHash] = struct{}{}
	}
	m.mu.Unlock()
	return true
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
