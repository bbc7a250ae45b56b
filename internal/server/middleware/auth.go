package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth returns middleware that checks the shared API key. The key may be
// sent as a Bearer token, in X-API-Key, or as the token query parameter on
// WebSocket upgrades where browsers cannot set headers. An empty apiKey
// disables the check; public paths always pass.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			switch {
			case token == "":
				writeError(w, http.StatusUnauthorized, "Unauthorized", "missing api key")
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func extractToken(r *http.Request) string {
	if scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	if isUpgrade(r) {
		return r.URL.Query().Get("token")
	}
	return ""
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
