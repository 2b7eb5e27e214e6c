package api

import (
	"net/http"

	"github.com/ashureev/surveysync/internal/identity"
)

// RequireAPIKey authenticates management requests with the x-api-key
// header and stores the key's environment in the request context.
func RequireAPIKey(keys identity.APIKeyLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := identity.Authenticate(r.Context(), keys, r)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithAPIKey(r.Context(), key)))
		})
	}
}
