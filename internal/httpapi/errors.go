package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"booking-inbox/internal/integrations/paramstore"
	"booking-inbox/internal/usecase"
)

type errorResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorConversationClosed:
		return http.StatusForbidden
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorUpstreamUnavailable:
		return http.StatusBadGateway
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders err as the structured error body. Upstream detail is
// only exposed for upstream and configuration failures.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: string(usecase.ErrorInternal)}
	var ue *usecase.Error
	if errors.As(err, &ue) {
		resp.Error = string(ue.Code)
		resp.Reason = ue.Reason
		if ue.Err != nil && (ue.Code == usecase.ErrorUpstreamUnavailable || ue.Code == usecase.ErrorMisconfigured) {
			resp.Detail = ue.Err.Error()
		}
	}
	writeJSON(w, statusFor(usecase.ErrorCode(resp.Error)), resp)
}

func invalidInput(reason string) error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: reason}
}

// secretError classifies a failure to resolve a server-side secret.
func secretError(reason string, err error) error {
	if errors.Is(err, paramstore.ErrNotConfigured) {
		return &usecase.Error{Code: usecase.ErrorMisconfigured, Reason: reason, Err: err}
	}
	return &usecase.Error{Code: usecase.ErrorUpstreamUnavailable, Reason: reason, Err: err}
}
