package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes errors so the view layer can pick banner, toast or inline display.
type Kind int

const (
	// Unknown represents an unclassified error.
	Unknown Kind = iota
	// Network means the request was sent but no HTTP response came back.
	Network
	// Unauthorized is an HTTP 401 from the analysis API.
	Unauthorized
	// NotFound is an HTTP 404 from the analysis API.
	NotFound
	// Validation is raised client-side before any request is sent.
	Validation
	// HTTP covers every other 4xx/5xx response.
	HTTP
)

const defaultMessage = "An unexpected error occurred."

// AppError carries a category, the HTTP status and body when available, and the cause.
type AppError struct {
	Kind    Kind
	Status  int
	Message string
	Body    string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// KindOf returns the Kind of the first AppError in err's chain, or Unknown.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Unknown
}

// IsNetwork reports whether err means the server could not be reached.
func IsNetwork(err error) bool {
	return err != nil && KindOf(err) == Network
}

// Message returns the text a user should see for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return defaultMessage
}

// NewValidation returns a Validation error with the given message.
func NewValidation(message string) *AppError {
	return &AppError{Kind: Validation, Message: message}
}
