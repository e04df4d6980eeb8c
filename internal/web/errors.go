package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as user-friendly messages with action suggestions
//   - Formatted as JSON for /api routes and as an HTML alert for pages
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. The status code is derived from the error with statusFor
//  4. Error is mapped via core.MapError to get user-friendly message
//  5. Technical error + context is logged with request ID for correlation

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/core"
	"github.com/JonMunkholm/csvwizard/internal/logging"
	"github.com/JonMunkholm/csvwizard/internal/selection"
	"github.com/JonMunkholm/csvwizard/internal/web/views"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Action  string            `json:"action,omitempty"`
	Code    string            `json:"code"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// respondError handles error responses with user-friendly messages.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := statusFor(err)
	userMsg := core.MapError(err)
	var verr *validationError
	if errors.As(err, &verr) {
		userMsg.Message = verr.Error()
	}

	level := logging.FromContext(r.Context()).Warn
	if statusCode >= http.StatusInternalServerError {
		level = logging.FromContext(r.Context()).Error
	}
	detail := err.Error()
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		detail = apiErr.Detail()
	}
	level("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", detail,
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if wantsJSON(r) {
		resp := ErrorResponse{
			Error:   userMsg.Message,
			Message: userMsg.Message,
			Action:  userMsg.Action,
			Code:    userMsg.Code,
		}
		if verr != nil {
			resp.Fields = verr.fields
		}
		writeJSON(w, statusCode, resp)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	page := views.Page("Error", views.ErrorAlert(userMsg.Message, userMsg.Action, userMsg.Code))
	if rerr := page.Render(r.Context(), w); rerr != nil {
		logging.FromContext(r.Context()).Error("render error page", "error", rerr)
	}
}

// statusFor picks the HTTP status for an error.
func statusFor(err error) int {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		switch {
		case errors.Is(apiErr, backend.ErrBackendUnavailable):
			return http.StatusServiceUnavailable
		case backend.IsClientError(apiErr):
			return http.StatusUnprocessableEntity
		case errors.Is(apiErr, context.Canceled), errors.Is(apiErr, context.DeadlineExceeded):
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}

	var inputErr *wizard.InputError
	switch {
	case errors.Is(err, core.ErrInvalidRequest), errors.As(err, &inputErr):
		return http.StatusBadRequest
	case errors.Is(err, wizard.ErrBusy),
		errors.Is(err, wizard.ErrWrongState),
		errors.Is(err, wizard.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, wizard.ErrClosed):
		return http.StatusGone
	case errors.Is(err, selection.ErrFieldFixed),
		errors.Is(err, selection.ErrUnknownField),
		errors.Is(err, selection.ErrDuplicateField),
		errors.Is(err, selection.ErrEmptyList),
		errors.Is(err, selection.ErrMandatoryOrder),
		errors.Is(err, selection.ErrInvalidOrder),
		errors.Is(err, selection.ErrUnknownCategory),
		errors.Is(err, selection.ErrUnknownItem),
		errors.Is(err, wizard.ErrUnknownPreset),
		errors.Is(err, core.ErrUnknownFlow):
		return http.StatusBadRequest
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrTooManySessions),
		errors.Is(err, core.ErrTooManyUploads),
		errors.Is(err, core.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
