// Package apierr defines the error vocabulary shared by the API handlers.
// Every failure a handler can surface is an *Error carrying a stable code,
// a client-facing message, and the HTTP status to respond with.
package apierr

import "fmt"

// Error pairs a stable code with an HTTP status and message. A wrapped
// cause, when present, shows up in logs but never in responses.
type Error struct {
	code    Code
	message string
	status  int
	cause   error
}

// New builds an Error with no underlying cause.
func New(code Code, status int, message string) *Error {
	return &Error{code: code, message: message, status: status}
}

// Wrap builds an Error around a cause so callers can errors.Is through it.
func Wrap(code Code, status int, message string, cause error) *Error {
	return &Error{code: code, message: message, status: status, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// Code is the stable machine-readable identifier for this error.
func (e *Error) Code() Code { return e.code }

// Message is the text safe to show to API clients.
func (e *Error) Message() string { return e.message }

// Status is the HTTP status this error maps to.
func (e *Error) Status() int { return e.status }

// ErrorResponse is the JSON envelope the API writes for a failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the code and message inside ErrorResponse.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Response converts the error into its JSON envelope. The cause is
// deliberately dropped here.
func (e *Error) Response() ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    e.code,
			Message: e.message,
		},
	}
}
