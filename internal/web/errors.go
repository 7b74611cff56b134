package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. The status comes from the error's sentinel (statusFor)
//  4. Error is mapped via core.MapError to a user-friendly message
//  5. Technical error is logged with the request id for correlation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/product-importer/internal/core"
	"github.com/JonMunkholm/product-importer/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Action   string   `json:"action,omitempty"`
	Code     string   `json:"code"`
	Problems []string `json:"problems,omitempty"`
}

// statusFor picks the HTTP status of a service error.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrInvalidFile),
		errors.Is(err, core.ErrDuplicateSKU),
		errors.Is(err, core.ErrConfirmationRequired):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error and writes the mapped message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		resp.Problems = verr.Problems
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, resp)
}

// badRequest reports a malformed path or query parameter.
func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, problem string) {
	s.respondError(w, r, &core.ValidationError{Problems: []string{problem}})
}
