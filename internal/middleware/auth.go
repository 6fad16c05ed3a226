package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/audit"
	"github.com/counselhub/room-server-go/internal/util"
)

type contextKey string

const BearerTokenContextKey contextKey = "bearerToken"

// GetBearerToken returns the caller's booking-service token.
func GetBearerToken(ctx context.Context) string {
	if token, ok := ctx.Value(BearerTokenContextKey).(string); ok {
		return token
	}
	return ""
}

// BearerAuthMiddleware requires a bearer token and passes it through to the
// booking service, which is the one that validates it.
type BearerAuthMiddleware struct{}

func NewBearerAuthMiddleware() *BearerAuthMiddleware {
	return &BearerAuthMiddleware{}
}

func (m *BearerAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			log.Warn().Str("path", r.URL.Path).Msg("auth middleware: missing bearer token")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		ctx := context.WithValue(r.Context(), BearerTokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads the Authorization header, falling back to the token
// query parameter for EventSource clients that cannot set headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return r.URL.Query().Get("token")
}

// ClientKey identifies the caller for rate limiting: a hash of its bearer
// token when authenticated, otherwise its IP.
func ClientKey(r *http.Request) string {
	if token := GetBearerToken(r.Context()); token != "" {
		return "bearer:" + util.HashToken(token)
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
