package secmon

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSBIError(t *testing.T) {
	t.Setenv("SM_ENV", "")
	t.Setenv("SM_DEBUG", "")

	tests := []struct {
		name     string
		code     int64
		expected string
	}{
		{
			name:     "SBI_SUCCESS",
			code:     SBI_SUCCESS,
			expected: "sm: success",
		},
		{
			name:     "SBI_ERR_FAILED",
			code:     SBI_ERR_FAILED,
			expected: "sm: failed (SBI_ERR_FAILED) - monitor operation did not complete",
		},
		{
			name:     "SBI_ERR_NOT_SUPPORTED",
			code:     SBI_ERR_NOT_SUPPORTED,
			expected: "sm: not supported (SBI_ERR_NOT_SUPPORTED) - unknown function or test id",
		},
		{
			name:     "SBI_ERR_INVALID_PARAM",
			code:     SBI_ERR_INVALID_PARAM,
			expected: "sm: invalid parameter (SBI_ERR_INVALID_PARAM) - check pool geometry, sizes and indices",
		},
		{
			name:     "SBI_ERR_DENIED",
			code:     SBI_ERR_DENIED,
			expected: "sm: denied (SBI_ERR_DENIED) - monitor state or resources do not allow the request",
		},
		{
			name:     "SBI_ERR_ALREADY_STOPPED",
			code:     SBI_ERR_ALREADY_STOPPED,
			expected: "sm: already stopped (SBI_ERR_ALREADY_STOPPED) - enclave is not executing",
		},
		{
			name:     "Unknown error code",
			code:     -42,
			expected: "sm: unknown error code -42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SBIError{Code: tt.code}
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestSBIErrorSanitized(t *testing.T) {
	t.Run("production env", func(t *testing.T) {
		t.Setenv("SM_ENV", "production")
		assert.Equal(t, "sm: denied", SBIError{Code: SBI_ERR_DENIED}.Error())
		assert.Equal(t, "sm: monitor error", SBIError{Code: -42}.Error())
	})

	t.Run("debug disabled", func(t *testing.T) {
		t.Setenv("SM_ENV", "")
		t.Setenv("SM_DEBUG", "false")
		assert.Equal(t, "sm: invalid parameter", SBIError{Code: SBI_ERR_INVALID_PARAM}.Error())
	})

	t.Run("named errors keep their message", func(t *testing.T) {
		t.Setenv("SM_ENV", "production")
		assert.Equal(t, "sm: already initialized", ErrAlreadyInitialized.Error())
	})
}

func TestSBIErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("pool 0x0+0x0: %w", ErrInvalidPoolGeometry)

	assert.ErrorIs(t, wrapped, ErrInvalidPoolGeometry)
	assert.ErrorIs(t, wrapped, SBIError{Code: SBI_ERR_INVALID_PARAM})
	assert.NotErrorIs(t, wrapped, SBIError{Code: SBI_ERR_DENIED})
	assert.NotErrorIs(t, ErrAlreadyInitialized, ErrNotInitialized)
	assert.NotErrorIs(t, ErrAlreadyInitialized, (*SBIError)(nil))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int64
	}{
		{"nil", nil, SBI_SUCCESS},
		{"value", SBIError{Code: SBI_ERR_INVALID_ADDRESS}, SBI_ERR_INVALID_ADDRESS},
		{"named", ErrNoFrames, SBI_ERR_DENIED},
		{"wrapped", fmt.Errorf("test 9: %w", ErrUnknownTest), SBI_ERR_NOT_SUPPORTED},
		{"foreign", errors.New("boom"), SBI_ERR_FAILED},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestErrorConstants(t *testing.T) {
	expectedCodes := map[string]int64{
		"SBI_SUCCESS":               0,
		"SBI_ERR_FAILED":            -1,
		"SBI_ERR_NOT_SUPPORTED":     -2,
		"SBI_ERR_INVALID_PARAM":     -3,
		"SBI_ERR_DENIED":            -4,
		"SBI_ERR_INVALID_ADDRESS":   -5,
		"SBI_ERR_ALREADY_AVAILABLE": -6,
		"SBI_ERR_ALREADY_STARTED":   -7,
		"SBI_ERR_ALREADY_STOPPED":   -8,
	}

	actualCodes := map[string]int64{
		"SBI_SUCCESS":               SBI_SUCCESS,
		"SBI_ERR_FAILED":            SBI_ERR_FAILED,
		"SBI_ERR_NOT_SUPPORTED":     SBI_ERR_NOT_SUPPORTED,
		"SBI_ERR_INVALID_PARAM":     SBI_ERR_INVALID_PARAM,
		"SBI_ERR_DENIED":            SBI_ERR_DENIED,
		"SBI_ERR_INVALID_ADDRESS":   SBI_ERR_INVALID_ADDRESS,
		"SBI_ERR_ALREADY_AVAILABLE": SBI_ERR_ALREADY_AVAILABLE,
		"SBI_ERR_ALREADY_STARTED":   SBI_ERR_ALREADY_STARTED,
		"SBI_ERR_ALREADY_STOPPED":   SBI_ERR_ALREADY_STOPPED,
	}

	assert.Equal(t, expectedCodes, actualCodes)
}
