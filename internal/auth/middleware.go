package auth

import (
	"net/http"
	"strings"

	"energy-history/internal/logger"
)

// Middleware authenticates bearer tokens and stores the user id in the request context.
type Middleware struct {
	secret []byte
	policy Policy
	log    *logger.Logger
}

// NewMiddleware constructs the auth middleware.
func NewMiddleware(secret []byte, policy Policy, log *logger.Logger) *Middleware {
	return &Middleware{secret: secret, policy: policy, log: logger.OrNop(log)}
}

// Wrap protects next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := ParseJWT(token, m.secret)
		if err != nil {
			m.log.Debugw("rejected token", "path", r.URL.Path, "err", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.Subject)))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
