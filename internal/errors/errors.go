package errors

import (
	"errors"
	"net/http"
)

// Error is a coded error produced by service layers. Handlers translate it
// into the standard response envelope without inspecting the message.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// New builds a coded error.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewWithDetails builds a coded error carrying field-level context.
func NewWithDetails(code ErrorCode, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// CodeOf extracts the error code, defaulting to internal_error for
// errors that did not originate in a service layer.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeInternalError
}

// WriteFromError renders any error as the standard envelope. Coded errors
// keep their code, message and details; everything else becomes an opaque
// internal_error so storage and driver text never reaches clients.
func WriteFromError(w http.ResponseWriter, err error) {
	var coded *Error
	if errors.As(err, &coded) {
		WriteError(w, coded.Code, coded.Message, coded.Details)
		return
	}
	WriteSimpleError(w, ErrCodeInternalError, "internal server error")
}
