package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/harmoni/backend/internal/handler"
)

// AdminTokenHeader carries the shared operator token.
const AdminTokenHeader = "X-Admin-Token"

// AdminOnly admits requests carrying the configured admin token. An empty
// token disables every admin route.
func AdminOnly(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				handler.JSON(w, http.StatusForbidden, map[string]string{"error": "forbidden: admin access required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
