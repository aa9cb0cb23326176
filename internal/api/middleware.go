/**
 * @description
 * Authentication middleware for the operator endpoints. Callers present the
 * deployment's shared internal API key in the X-Internal-Api-Key header;
 * everything else is rejected. The shopper-facing checkout, callback, and
 * webhook routes are deliberately unauthenticated (the webhook has its own
 * HMAC check).
 *
 * @dependencies
 * - crypto/subtle, net/http: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"log"
	"net/http"
)

// InternalAuthMiddleware guards operator routes with a shared API key.
// An empty configured key disables the routes entirely rather than leaving
// them open.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				log.Printf("level=warn component=api middleware=internal_auth msg=\"internal api key not configured; rejecting request\" path=%s", r.URL.Path)
				http.Error(w, "Internal endpoints are disabled", http.StatusServiceUnavailable)
				return
			}
			provided := r.Header.Get("X-Internal-Api-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
