package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/JonMunkholm/csvwizard/internal/config"
	"github.com/JonMunkholm/csvwizard/internal/logging"
)

// APIKeyHeader is where API clients send their key.
const APIKeyHeader = "X-API-Key"

// APIKeyQueryParam carries the key for clients that cannot set headers.
// Browsers' EventSource is one of them.
const APIKeyQueryParam = "api_key"

type authError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// APIKeyAuth guards the session API. Requests pass untouched while
// RequireAPIKey is off; otherwise a missing key is 401 and a wrong one 403.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				key = r.URL.Query().Get(APIKeyQueryParam)
			}

			var status int
			var resp authError
			switch {
			case key == "":
				status = http.StatusUnauthorized
				resp = authError{"missing API key", "An API key is required", "AUTH_MISSING_KEY"}
			case !isValidAPIKey(key, cfg.APIKeys):
				status = http.StatusForbidden
				resp = authError{"invalid API key", "The API key was not accepted", "AUTH_INVALID_KEY"}
			default:
				next.ServeHTTP(w, r)
				return
			}

			logging.FromContext(r.Context()).Warn("auth: "+resp.Error,
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(resp)
		})
	}
}

// isValidAPIKey compares key against every configured key in constant time,
// so the timing does not reveal which one matched.
func isValidAPIKey(key string, validKeys []string) bool {
	valid := 0
	for _, validKey := range validKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(validKey))
	}
	return valid == 1
}
