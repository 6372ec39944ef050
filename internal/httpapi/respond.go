package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"relaychat/internal/auth"
	"relaychat/internal/chat"
	"relaychat/internal/conversation"
	"relaychat/internal/providers"
	"relaychat/internal/ratelimit"
	"relaychat/internal/storage"
)

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeAuthFailed          = "AUTH_FAILED"
	CodeForbidden           = "FORBIDDEN"
	CodeConflict            = "CONFLICT"
	CodeNotFound            = "NOT_FOUND"
	CodeRateLimited         = "RATE_LIMITED"
	CodeNoActiveProvider    = "NO_ACTIVE_PROVIDER"
	CodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	CodeUpstream            = "UPSTREAM_ERROR"
	CodeReadFailed          = "READ_FAILED"
	CodeInternal            = "INTERNAL_ERROR"
)

// validationError marks a user-correctable request problem.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dataBody struct {
	Data any `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, dataBody{Data: v})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeServiceError maps a service error onto the envelope. Server-side
// failures are logged with the request logger.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeError(w, status, code, message)
}

func classify(err error) (int, string, string) {
	var vErr *validationError
	var upErr *providers.UpstreamError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, CodeValidation, vErr.msg
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeAuthFailed, "Invalid credentials"
	case auth.IsAuthError(err):
		return http.StatusUnauthorized, CodeAuthFailed, err.Error()
	case errors.Is(err, auth.ErrCreateForbidden):
		return http.StatusForbidden, CodeForbidden, err.Error()
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, CodeConflict, "Username already exists"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "Record not found"
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests, CodeRateLimited, "Too many requests, try again later"
	case errors.Is(err, chat.ErrNoActiveProvider):
		return http.StatusServiceUnavailable, CodeNoActiveProvider, "No active API configuration found"
	case errors.Is(err, providers.ErrUnsupportedProvider):
		return http.StatusInternalServerError, CodeUnsupportedProvider, err.Error()
	case errors.As(err, &upErr):
		return http.StatusInternalServerError, CodeUpstream, upErr.Error()
	case errors.Is(err, conversation.ErrReadFailed):
		return http.StatusInternalServerError, CodeReadFailed, "Failed to read conversations"
	default:
		return http.StatusInternalServerError, CodeInternal, "Internal server error"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return invalid("Invalid JSON body: %v", err)
	}
	return nil
}
