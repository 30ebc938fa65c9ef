package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"booking-inbox/internal/usecase"
)

// requireAPIKey guards operator endpoints with the shared portal key, read
// from the X-API-Key header only. A server without a configured key answers
// every guarded request with 500.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return s.guard(next, false)
}

// requireStreamKey also accepts ?api_key= for EventSource and WebSocket
// clients that cannot set headers.
func (s *Server) requireStreamKey(next http.HandlerFunc) http.HandlerFunc {
	return s.guard(next, true)
}

func (s *Server) guard(next http.HandlerFunc, allowQuery bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected, err := s.apiKey.Value(r.Context())
		if err != nil {
			s.logger.Error("portal api key unavailable", "err", err, "correlation_id", correlationID(r))
			writeError(w, secretError("portal_api_key_unavailable", err))
			return
		}
		if !keyValid(extractAPIKey(r, allowQuery), expected) {
			writeError(w, &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "invalid_api_key"})
			return
		}
		next(w, r)
	}
}

func extractAPIKey(r *http.Request, allowQuery bool) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" || !allowQuery {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}

func keyValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
