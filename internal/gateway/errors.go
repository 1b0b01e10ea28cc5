package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Upstream error codes as documented by the gateway. The numeric code in
// an error body is authoritative; the HTTP status is used as a fallback
// when the body carries no code.
const (
	CodeRequestNotValid = "10400"
	CodeUnauthorized    = "10401"
	CodeForbidden       = "10403"
	CodeNotFound        = "10404"
	CodeConflict        = "10409"
	CodeUnprocessable   = "10422"
	CodeServerError     = "10500"
	CodeUnknown         = "10000"
)

// FieldError is a single field-level validation failure reported upstream.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the classified form of an upstream failure. It implements error
// so gateway operations can return it directly; callers branch on the
// predicates rather than on raw status codes.
type Error struct {
	StatusCode       int
	Code             string
	Type             string
	Message          string
	ValidationErrors []FieldError
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s (code %s, status %d)", e.Message, e.Code, e.StatusCode)
}

// Retryable reports whether the request may be retried with the same
// payload. Only upstream server faults qualify; client errors are
// definitionally going to fail again.
func (e *Error) Retryable() bool {
	return e.Code == CodeServerError
}

func (e *Error) IsValidation() bool {
	return e.Code == CodeRequestNotValid || e.Code == CodeUnprocessable
}

func (e *Error) IsAuth() bool {
	return e.Code == CodeUnauthorized
}

func (e *Error) IsConflict() bool {
	return e.Code == CodeConflict
}

func (e *Error) IsPermanent() bool {
	switch e.Code {
	case CodeRequestNotValid, CodeUnauthorized, CodeForbidden, CodeNotFound, CodeConflict, CodeUnprocessable:
		return true
	}

	return false
}

// UserMessage derives a message safe to surface to an end user. Validation
// failures surface the first field-level message; everything retryable
// collapses to a generic prompt.
func (e *Error) UserMessage() string {
	switch {
	case e.IsValidation():
		if len(e.ValidationErrors) > 0 {
			first := e.ValidationErrors[0]
			return fmt.Sprintf("%s: %s", titleCase(first.Field), first.Message)
		}

		return e.Message
	case e.IsAuth():
		return "Authentication failed. Please check your credentials and try again."
	case e.IsPermanent():
		return fmt.Sprintf("Request failed: %s", e.Message)
	default:
		return "An unexpected error occurred. Please try again later."
	}
}

// LogMessage returns the detailed single-line form used for operator logs.
func (e *Error) LogMessage() string {
	return fmt.Sprintf("gateway error - code: %s, type: %s, message: %s, status: %d",
		e.Code, e.Type, e.Message, e.StatusCode)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + s[1:]
}

// errorEnvelope mirrors the error body shape of both API generations.
type errorEnvelope struct {
	Status string `json:"status"`
	Error  struct {
		Type             string       `json:"type"`
		Code             string       `json:"code"`
		Message          string       `json:"message"`
		ValidationErrors []FieldError `json:"validation_errors"`
	} `json:"error"`
}

// classify maps an HTTP status and decoded error body to an *Error. A body
// without a code falls back to the code implied by the status line.
func classify(statusCode int, env *errorEnvelope) *Error {
	e := &Error{
		StatusCode: statusCode,
		Code:       codeForStatus(statusCode),
		Message:    "Unknown error occurred",
	}

	if env != nil {
		if env.Error.Code != "" {
			e.Code = env.Error.Code
		}

		if env.Error.Message != "" {
			e.Message = env.Error.Message
		}

		e.Type = env.Error.Type
		e.ValidationErrors = env.Error.ValidationErrors
	}

	return e
}

func codeForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return CodeRequestNotValid
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusUnprocessableEntity:
		return CodeUnprocessable
	}

	if statusCode >= 500 {
		return CodeServerError
	}

	return CodeUnknown
}

// retryDelay returns the backoff before the given attempt (1-based),
// capped at one minute.
func retryDelay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 60*time.Second {
		return 60 * time.Second
	}

	return d
}
