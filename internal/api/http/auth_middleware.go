package httpapi

import (
	"net/http"
	"strings"
)

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var owner string
		if s.auth.disabled {
			owner = strings.TrimSpace(r.Header.Get("X-Owner-ID"))
			if owner == "" {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "X-Owner-ID header required")
				return
			}
		} else {
			var err error
			owner, err = s.auth.ParseToken(extractToken(r))
			if err != nil {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(withOwner(r.Context(), owner)))
	})
}

// extractToken reads the bearer token, falling back to the access_token query
// parameter for EventSource clients that cannot set headers.
func extractToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
