package auth

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// APIKeyHeader carries the device pre-shared key.
const APIKeyHeader = "X-API-Key"

// IngestAuthMiddleware checks the pre-shared device key before the body is read.
type IngestAuthMiddleware struct {
	Key []byte
}

// NewIngestAuthMiddleware constructs ingest auth middleware.
func NewIngestAuthMiddleware(key string) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{Key: []byte(key)}
}

// Wrap rejects requests without the expected key with 401.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.Key) == 0 {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		if !CheckAPIKey(m.Key, r.Header.Get(APIKeyHeader)) {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CheckAPIKey compares a presented key with the expected one in constant time.
func CheckAPIKey(expected []byte, presented string) bool {
	presented = strings.TrimSpace(presented)
	if len(expected) == 0 || presented == "" {
		return false
	}
	return hmac.Equal(expected, []byte(presented))
}
