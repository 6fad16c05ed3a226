package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/config"
	apperrors "github.com/counselhub/room-server-go/internal/errors"
	"github.com/counselhub/room-server-go/internal/httputil"
)

// BodyLimitMiddleware caps request bodies. Bodyless methods pass through
// untouched so SSE and GET routes keep their original reader.
type BodyLimitMiddleware struct {
	maxBytes int64
}

func NewBodyLimitMiddleware(maxBytes int64) *BodyLimitMiddleware {
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxRequestBodyBytes
	}
	return &BodyLimitMiddleware{maxBytes: maxBytes}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > m.maxBytes {
			log.Warn().
				Str("path", r.URL.Path).
				Int64("contentLength", r.ContentLength).
				Int64("maxBytes", m.maxBytes).
				Msg("request body too large")
			httputil.WriteError(w, apperrors.PayloadTooLarge(m.maxBytes))
			return
		}

		// Chunked bodies are cut off while being read.
		r.Body = http.MaxBytesReader(w, r.Body, m.maxBytes)
		next.ServeHTTP(w, r)
	})
}
