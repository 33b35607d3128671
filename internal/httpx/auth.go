package httpx

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken guards mutating endpoints with the shared deploy token.
// Comparison is constant-time; identity management lives outside this daemon.
func (r *Router) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		expected := r.deployToken
		if expected == "" {
			r.logger.Error("deploy token not configured", "path", req.URL.Path)
			writeError(w, http.StatusInternalServerError, "authentication misconfigured")
			return
		}
		token := strings.TrimSpace(req.Header.Get("X-Deploy-Token"))
		if token == "" {
			if header := strings.TrimSpace(req.Header.Get("Authorization")); strings.HasPrefix(header, "Bearer ") {
				token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			}
		}
		if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			r.logger.Warn("deploy token mismatch", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "invalid deploy token")
			return
		}
		next(w, req)
	}
}
