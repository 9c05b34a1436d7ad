package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewNotFoundError("session")
	assert.Equal(t, "NOT_FOUND: session not found", err.Error())

	wrapped := WrapError(stderrors.New("dial tcp: refused"), ErrCodeServiceUnavailable, "redis unavailable", http.StatusServiceUnavailable)
	assert.Contains(t, wrapped.Error(), "SERVICE_UNAVAILABLE: redis unavailable")
	assert.Contains(t, wrapped.Error(), "dial tcp: refused")
}

func TestWrapError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	wrapped := WrapError(cause, ErrCodeInternal, "store write failed", http.StatusInternalServerError)

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestWithContext(t *testing.T) {
	err := NewInvalidInputError("chainId is required").
		WithContext("field", "chainId").
		WithContext("userId", "alice")

	assert.Equal(t, "chainId", err.Context["field"])
	assert.Equal(t, "alice", err.Context["userId"])
}

func TestGetAppError_ThroughChain(t *testing.T) {
	app := NewConflictError("user already queued")
	chained := fmt.Errorf("enqueue: %w", app)

	require.True(t, IsAppError(chained))
	extracted := GetAppError(chained)
	require.NotNil(t, extracted)
	assert.Equal(t, ErrCodeConflict, extracted.Code)
	assert.Equal(t, http.StatusConflict, extracted.HTTPStatus)
}

func TestGetAppError_PlainError(t *testing.T) {
	err := stderrors.New("plain")
	assert.False(t, IsAppError(err))
	assert.Nil(t, GetAppError(err))
}

func TestConstructors_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewInvalidInputError("x").HTTPStatus)
	assert.Equal(t, http.StatusNotFound, NewNotFoundError("x").HTTPStatus)
	assert.Equal(t, http.StatusConflict, NewConflictError("x").HTTPStatus)
	assert.Equal(t, http.StatusTooManyRequests, NewRateLimitError().HTTPStatus)
	assert.Equal(t, http.StatusInternalServerError, NewInternalError("x").HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, NewServiceUnavailableError("x").HTTPStatus)
}
