package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageAndCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewError(ErrUpstream, "backend call failed").WithCause(cause)

	assert.Contains(t, err.Error(), "UPSTREAM_ERROR")
	assert.Contains(t, err.Error(), "backend call failed")
	assert.True(t, errors.Is(err, cause))
}

func TestGetErrorCode_UnwrapsChains(t *testing.T) {
	inner := NewError(ErrNotFound, "entity missing")
	wrapped := fmt.Errorf("lookup: %w", inner)

	assert.Equal(t, ErrNotFound, GetErrorCode(wrapped))
	assert.True(t, IsCode(wrapped, ErrNotFound))
	assert.False(t, IsCode(wrapped, ErrValidation))
}

func TestGetErrorCode_PlainErrorHasNoCode(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("boom")))
	assert.False(t, IsCode(errors.New("boom"), ErrUpstream))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrUpstream, "x").WithRetryable(true)))
	assert.False(t, IsRetryable(NewError(ErrValidation, "x")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestNewErrorf(t *testing.T) {
	err := NewErrorf(ErrValidation, "dimension %d invalid", -1)
	assert.Contains(t, err.Error(), "dimension -1 invalid")
	assert.Equal(t, ErrValidation, err.Code)
}
