package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, X-Request-ID"
)

// CORS returns middleware that lets the dashboard origins call the API.
// An empty list or a "*" entry allows every origin. Preflight requests are
// answered here and never reach the API handlers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.ToLower(strings.TrimRight(o, "/"))
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				w.Header().Add("Vary", "Origin")
				if allowAll || allowed[strings.ToLower(origin)] {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
					h.Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
