package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryableByCode(t *testing.T) {
	retryable := []ErrorCode{ErrTransport, ErrRateLimited, ErrResolutionPending}
	for _, code := range retryable {
		require.True(t, NewError(code, "x", nil).Retryable, string(code))
	}

	terminal := []ErrorCode{ErrValidation, ErrMarketNotFound, ErrInvalidResponse, ErrExecutionFailed, ErrFatal}
	for _, code := range terminal {
		require.False(t, NewError(code, "x", nil).Retryable, string(code))
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewError(ErrTransport, "订阅中断", cause)

	require.Contains(t, err.Error(), "TRANSPORT_ERROR")
	require.Contains(t, err.Error(), "connection refused")
	require.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("handleBook: %w", err)
	var de *Error
	require.ErrorAs(t, wrapped, &de)
	require.Equal(t, ErrTransport, de.Code)
}
