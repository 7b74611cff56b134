package core

// Error codes give users something to quote to support. Codes are grouped:
//
//	DB001-DB099   database constraints and connectivity
//	IMP001-IMP099 import jobs and uploaded files
//	PRD001-PRD099 products
//	WHK001-WHK099 webhooks
//	REQ001-REQ099 request handling (validation, limits, cancellation)
//	ERR000        fallback; the technical error is in the logs

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorSentinel maps a sentinel error to its message. Sentinels are checked
// before text patterns so wrapped domain errors always keep their code.
type errorSentinel struct {
	err error
	msg UserMessage
}

var errorSentinels = []errorSentinel{
	{ErrDuplicateSKU, UserMessage{
		Message: "A product with this SKU already exists",
		Action:  "Use a different SKU or update the existing product",
		Code:    "PRD001",
	}},
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller files",
		Code:    "IMP003",
	}},
	{ErrInvalidFile, UserMessage{
		Message: "Only CSV files are allowed",
		Action:  "Upload a comma-separated .csv file",
		Code:    "IMP001",
	}},
	{ErrConfirmationRequired, UserMessage{
		Message: "This operation needs explicit confirmation",
		Action:  "Repeat the request with confirm=true",
		Code:    "REQ002",
	}},
	{ErrTooManyUploads, UserMessage{
		Message: "System is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "IMP004",
	}},
	{ErrInvalidInput, UserMessage{
		Message: "The request contains invalid values",
		Action:  "Correct the listed fields and try again",
		Code:    "REQ001",
	}},
}

// errorPattern maps a lower-case substring of a technical error to a
// message. The first match wins, so specific patterns come first.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"import job", UserMessage{
		Message: "Import job not found",
		Action:  "Check the job id; finished jobs may have been deleted",
		Code:    "IMP002",
	}},
	{"product", UserMessage{
		Message: "Product not found",
		Action:  "Refresh the product list and try again",
		Code:    "PRD002",
	}},
	{"webhook", UserMessage{
		Message: "Webhook not found",
		Action:  "Refresh the webhook list and try again",
		Code:    "WHK001",
	}},
}

var databasePatterns = []errorPattern{
	{"duplicate key", UserMessage{
		Message: "A record with this key already exists",
		Action:  "Check for duplicate entries and try again",
		Code:    "DB001",
	}},
	{"violates check constraint", UserMessage{
		Message: "A value is outside the allowed range",
		Action:  "Prices and quantities must be non-negative",
		Code:    "DB002",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},
	{"file too large", UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller files",
		Code:    "IMP003",
	}},
	{"request body too large", UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller files",
		Code:    "IMP003",
	}},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV file to upload",
		Code:    "IMP005",
	}},
	{"failed to queue", UserMessage{
		Message: "The import could not be scheduled",
		Action:  "Please try the upload again",
		Code:    "IMP006",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "REQ003",
	}},
	{"context canceled", UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ004",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Request timed out",
		Action:  "Try again later",
		Code:    "REQ005",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try again later",
		Code:    "DB006",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Domain
// sentinels win, then not-found errors are told apart by the resource named
// in the error text, then generic technical patterns are tried.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range errorSentinels {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())

	if errors.Is(err, ErrNotFound) {
		for _, ep := range errorPatterns {
			if strings.Contains(errStr, ep.pattern) {
				return ep.msg
			}
		}
	}

	for _, ep := range databasePatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
