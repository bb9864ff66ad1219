package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/23skdu/longbow-parley/internal/config"
	"github.com/23skdu/longbow-parley/internal/registry"
	"github.com/23skdu/longbow-parley/internal/session"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidConfig  = "INVALID_CONFIG"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeBusy           = "SESSION_BUSY"
	ErrCodeBudgetExceeded = "CONTEXT_BUDGET_EXCEEDED"
	ErrCodeDecodeError    = "DECODE_ERROR"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// classify maps a domain error to an HTTP status and error code.
func classify(err error) (int, string, map[string]any) {
	var ve *config.ValidationError
	var de *session.DecodeError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ErrCodeInvalidConfig, map[string]any{"field": ve.Field}
	case errors.Is(err, registry.ErrSessionNotFound), errors.Is(err, session.ErrClosed):
		return http.StatusNotFound, ErrCodeNotFound, nil
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, ErrCodeBusy, nil
	case errors.Is(err, session.ErrContextBudgetExceeded):
		return http.StatusUnprocessableEntity, ErrCodeBudgetExceeded, nil
	case errors.As(err, &de):
		return http.StatusInternalServerError, ErrCodeDecodeError, map[string]any{"turn": de.Turn, "token": de.Token}
	default:
		return http.StatusInternalServerError, ErrCodeInternalError, nil
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, details := classify(err)
	writeErrorWithDetails(w, status, code, err.Error(), details)
}
