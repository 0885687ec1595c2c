package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"ms-reservation/internal/logger"
)

const adminTokenHeader = "X-Admin-Token"

// RequireAdminToken admits requests carrying the operator token in the
// X-Admin-Token header. An empty token rejects every request.
func RequireAdminToken(token string, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(adminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				log.LogSecurity("ADMIN", fmt.Sprintf("Rejected operator request %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr))
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
