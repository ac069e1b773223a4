package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/launchpath/launchpath/internal/handler"
)

// AdminAuthMiddleware guards the admin API with API keys. Keys are
// configured as bcrypt hashes so a leaked config file does not leak the
// keys themselves.
type AdminAuthMiddleware struct {
	keyHashes []string
	logger    *slog.Logger
}

// NewAdminAuthMiddleware creates a new admin auth middleware. With no
// configured hashes every request is rejected.
func NewAdminAuthMiddleware(keyHashes []string, logger *slog.Logger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{
		keyHashes: keyHashes,
		logger:    logger,
	}
}

// RequireKey returns middleware that checks the X-Admin-Key header
// against the configured key hashes.
func (m *AdminAuthMiddleware) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Admin-Key")
		if key == "" || !m.keyMatches(key) {
			m.logger.Warn("admin auth rejected",
				"path", r.URL.Path,
				"ip", getClientIP(r),
			)
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AdminAuthMiddleware) keyMatches(key string) bool {
	for _, hash := range m.keyHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			return true
		}
	}
	return false
}
