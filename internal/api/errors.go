package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"homeguard/internal/model"
)

type apiErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError is the JSON error envelope every handler answers with.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) Error() string { return e.Body.Message }

func newAPIError(status int, code, message string, details map[string]any) *apiError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

// handleError maps engine and store errors onto HTTP statuses.
func handleError(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	var ce *model.ConfigError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_rule", err.Error(), map[string]any{"field": ce.Field})
	}
	switch {
	case errors.Is(err, model.ErrDuplicate):
		return newAPIError(http.StatusConflict, "duplicate", err.Error(), nil)
	case errors.Is(err, model.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, model.ErrStoreUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "store_unavailable", err.Error(), nil)
	case errors.Is(err, model.ErrQueueOverflow):
		return newAPIError(http.StatusServiceUnavailable, "queue_full", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func writeError(w http.ResponseWriter, err error) {
	ae := handleError(err)
	writeJSON(w, ae.status, ae)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, newAPIError(http.StatusBadRequest, "", msg, nil))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
