// Package middleware provides HTTP middleware for the survey sync API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/ashureev/surveysync/internal/identity"
)

var allowedHeaders = strings.Join([]string{"Content-Type", "Authorization", identity.APIKeyHeaderName}, ", ")

// CORS returns middleware that handles CORS headers. The widget is embedded
// on arbitrary customer sites, so preflight requests always succeed; the
// allow-origin header is only echoed for configured origins.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			wildcard := false
			for _, o := range allowedOrigins {
				if o == "*" {
					allowed, wildcard = true, true
					break
				}
				if o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				if origin == "" || wildcard {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
