package gateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	type testCase struct {
		name       string
		statusCode int
		env        *errorEnvelope
		wantCode   string
		wantMsg    string
	}

	withBody := func(code, message string) *errorEnvelope {
		env := &errorEnvelope{Status: "failed"}
		env.Error.Code = code
		env.Error.Message = message
		return env
	}

	tests := []testCase{
		{
			name:       "BodyCodeWins",
			statusCode: http.StatusBadRequest,
			env:        withBody(CodeUnprocessable, "amount too low"),
			wantCode:   CodeUnprocessable,
			wantMsg:    "amount too low",
		},
		{
			name:       "NoBodyFallsBackToStatus",
			statusCode: http.StatusUnauthorized,
			wantCode:   CodeUnauthorized,
			wantMsg:    "Unknown error occurred",
		},
		{
			name:       "ServerErrorFamily",
			statusCode: http.StatusBadGateway,
			wantCode:   CodeServerError,
			wantMsg:    "Unknown error occurred",
		},
		{
			name:       "UnmappedStatus",
			statusCode: http.StatusTeapot,
			wantCode:   CodeUnknown,
			wantMsg:    "Unknown error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.statusCode, tt.env)

			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantMsg, got.Message)
			assert.Equal(t, tt.statusCode, got.StatusCode)
		})
	}
}

func TestError_Retryable(t *testing.T) {
	permanent := []string{
		CodeRequestNotValid, CodeUnauthorized, CodeForbidden,
		CodeNotFound, CodeConflict, CodeUnprocessable,
	}
	for _, code := range permanent {
		e := &Error{Code: code}

		assert.False(t, e.Retryable(), "code %s must not be retryable", code)
		assert.True(t, e.IsPermanent(), "code %s must be permanent", code)
	}

	e := &Error{Code: CodeServerError}

	assert.True(t, e.Retryable())
	assert.False(t, e.IsPermanent())
}

func TestError_UserMessage(t *testing.T) {
	t.Run("ValidationSurfacesFirstField", func(t *testing.T) {
		e := &Error{
			Code:    CodeUnprocessable,
			Message: "validation failed",
			ValidationErrors: []FieldError{
				{Field: "amount", Message: "must be positive"},
				{Field: "currency", Message: "unsupported"},
			},
		}

		assert.Equal(t, "Amount: must be positive", e.UserMessage())
	})

	t.Run("ValidationWithoutFields", func(t *testing.T) {
		e := &Error{Code: CodeRequestNotValid, Message: "bad request"}

		assert.Equal(t, "bad request", e.UserMessage())
	})

	t.Run("Auth", func(t *testing.T) {
		e := &Error{Code: CodeUnauthorized, Message: "token expired"}

		assert.Equal(t, "Authentication failed. Please check your credentials and try again.", e.UserMessage())
	})

	t.Run("Permanent", func(t *testing.T) {
		e := &Error{Code: CodeConflict, Message: "duplicate reference"}

		assert.Equal(t, "Request failed: duplicate reference", e.UserMessage())
	})

	t.Run("RetryableIsGeneric", func(t *testing.T) {
		e := &Error{Code: CodeServerError, Message: "pq: connection reset"}

		assert.Equal(t, "An unexpected error occurred. Please try again later.", e.UserMessage())
	})
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(1))
	assert.Equal(t, 4*time.Second, retryDelay(2))
	assert.Equal(t, 8*time.Second, retryDelay(3))
	assert.Equal(t, 60*time.Second, retryDelay(6))
	assert.Equal(t, 60*time.Second, retryDelay(10))
}
