package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// WebhookAuth requires the configured shared secret as a bearer token. It is a
// pass-through when no secret is configured.
func (m *Middleware) WebhookAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := m.cfg.Server.WebhookSecret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		var token string
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				token = strings.TrimSpace(parts[1])
			}
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			m.log.Debug().Str("path", r.URL.Path).Msg("webhook secret rejected")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"unauthorized","message":"Authentication required"}}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
