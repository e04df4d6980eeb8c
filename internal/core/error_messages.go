package core

// error_messages.go maps errors to user-facing messages with support codes.
//
// # Error Codes Reference
//
// Users can quote the code to support staff; the technical error is only
// logged server-side.
//
// # Wizard Errors (WIZ001-WIZ099)
//
//	WIZ001 - Busy: another request of the same session is still running
//	WIZ002 - Wrong step: the action is not available in the current step
//	WIZ003 - Superseded: a reset or new file replaced the request
//	WIZ004 - No file: no CSV file was chosen
//	WIZ005 - No columns: nothing is selected
//	WIZ006 - No items: no category item is selected for export
//	WIZ007 - Fixed field: mandatory columns cannot be deselected or moved
//	WIZ008 - Bad order: the submitted order does not match the fields
//	WIZ009 - Unknown preset or category or item
//	WIZ010 - Closed: the session was closed
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found or expired
//	SES002 - Too many open sessions
//	SES003 - Unknown wizard
//	SES004 - Server shutting down
//	SES005 - Malformed or incomplete request
//
// # Backend Errors (BE001-BE099)
//
//	BE001 - The processing server rejected the request. Its message is shown
//	        verbatim so users see what the server said.
//	BE002 - Processing server unavailable (circuit open)
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - System busy: all upload slots are taken
//	UPL002 - File too large
//	UPL003 - Request cancelled
//	UPL004 - Request timeout
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
// Fallback when nothing matches.
//
// # Matching
//
// Typed errors are matched first: backend.APIError, then wizard.InputError
// (whose message is shown as-is), then sentinel errors with errors.Is. Only
// then are error strings matched case-insensitively against errorPatterns;
// the first pattern wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/selection"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

// UserMessage represents a user-friendly error message with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{wizard.ErrBusy, UserMessage{"Another request is still running", "Wait for it to finish", "WIZ001"}},
	{wizard.ErrWrongState, UserMessage{"That action is not available in this step", "Reload the session to see the current step", "WIZ002"}},
	{wizard.ErrSuperseded, UserMessage{"The request was replaced by a newer action", "No action needed", "WIZ003"}},
	{wizard.ErrNoFile, UserMessage{"No file selected", "Choose a CSV file first", "WIZ004"}},
	{wizard.ErrNoSelection, UserMessage{"No columns selected", "Select at least one column", "WIZ005"}},
	{selection.ErrEmptyList, UserMessage{"No columns selected", "Select at least one column", "WIZ005"}},
	{wizard.ErrNoItems, UserMessage{"No items selected", "Select at least one item to export", "WIZ006"}},
	{selection.ErrFieldFixed, UserMessage{"Mandatory columns cannot be changed", "Keep email and docnum selected and first", "WIZ007"}},
	{selection.ErrMandatoryOrder, UserMessage{"Mandatory columns must come first", "Keep email and docnum at the top", "WIZ007"}},
	{selection.ErrInvalidOrder, UserMessage{"The column order does not match the selection", "Reload the session and try again", "WIZ008"}},
	{selection.ErrDuplicateField, UserMessage{"A column appears twice in the order", "Reload the session and try again", "WIZ008"}},
	{selection.ErrUnknownField, UserMessage{"Unknown column", "Reload the session and try again", "WIZ009"}},
	{wizard.ErrUnknownPreset, UserMessage{"Unknown preset", "Pick one of the listed presets", "WIZ009"}},
	{selection.ErrUnknownCategory, UserMessage{"Unknown category", "Reload the session and try again", "WIZ009"}},
	{selection.ErrUnknownItem, UserMessage{"Unknown item", "Reload the session and try again", "WIZ009"}},
	{wizard.ErrClosed, UserMessage{"This session was closed", "Start a new session", "WIZ010"}},

	{ErrSessionNotFound, UserMessage{"Session not found", "The session may have expired. Please start a new one", "SES001"}},
	{ErrTooManySessions, UserMessage{"Too many open sessions", "Please wait a moment and try again", "SES002"}},
	{ErrUnknownFlow, UserMessage{"Unknown wizard", "Use transform, export or dedup", "SES003"}},
	{ErrShuttingDown, UserMessage{"The server is restarting", "Please try again in a few moments", "SES004"}},
	{ErrInvalidRequest, UserMessage{"The request is incomplete", "Check the submitted values and try again", "SES005"}},

	{ErrTooManyUploads, UserMessage{"System busy: too many uploads in progress", "Please wait a moment and try again", "UPL001"}},
	{context.Canceled, UserMessage{"Request was cancelled", "Please try again", "UPL003"}},
	{context.DeadlineExceeded, UserMessage{"Request timed out", "Try a smaller file or check your connection", "UPL004"}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps error substrings to user-friendly messages.
// Patterns are matched case-insensitively; order matters.
var errorPatterns = []errorPattern{
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "UPL002",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "UPL002",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "UPL004",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error into a user-friendly message.
// Returns an empty UserMessage for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		if errors.Is(apiErr, backend.ErrBackendUnavailable) {
			return UserMessage{
				Message: apiErr.Message,
				Action:  "Please try again in a few moments",
				Code:    "BE002",
			}
		}
		return UserMessage{
			Message: apiErr.Message,
			Action:  "Check the file and try again",
			Code:    "BE001",
		}
	}

	if msg, ok := sentinelFor(err); ok {
		var inputErr *wizard.InputError
		if errors.As(err, &inputErr) && inputErr.Message != "" {
			msg.Message = inputErr.Message
		}
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

func sentinelFor(err error) (UserMessage, bool) {
	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg, true
		}
	}
	return UserMessage{}, false
}

// FormatUserError returns a single string with message, code and action,
// as the CLI prints it.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
