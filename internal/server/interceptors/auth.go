package interceptors

import (
	"encoding/json"
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// AccessValidator validates host access tokens.
type AccessValidator interface {
	ValidateAccess(token string) (userID, sessionID string, err error)
}

// Auth returns middleware that requires a valid host Bearer token and puts
// user_id and session_id in the request context. Missing or invalid tokens get
// 401 {"error": "..."} and the next handler is not called.
func Auth(tokens AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" || tokens == nil {
				unauthorized(w)
				return
			}
			userID, sessionID, err := tokens.ValidateAccess(token)
			if err != nil || userID == "" {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, sessionID)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="miniapp-sso"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "not authenticated"})
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
