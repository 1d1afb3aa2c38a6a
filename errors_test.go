package auth_test

import (
	"errors"
	"fmt"
	"testing"

	auth "github.com/goliatone/go-auth-otp"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestIsTokenExpiredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "token expired error",
			err:      auth.ErrTokenExpired,
			expected: true,
		},
		{
			name:     "wrapped token expired error",
			err:      fmt.Errorf("session: %w", auth.ErrTokenExpired),
			expected: true,
		},
		{
			name:     "different rich error",
			err:      auth.ErrAccountNotFound,
			expected: false,
		},
		{
			name:     "plain error with the same text",
			err:      errors.New("Token expired"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.IsTokenExpiredError(tt.err))
		})
	}
}

func TestIsMalformedError(t *testing.T) {
	assert.True(t, auth.IsMalformedError(auth.ErrTokenMalformed))
	assert.True(t, auth.IsMalformedError(auth.ErrTokenBadSignature))
	assert.False(t, auth.IsMalformedError(auth.ErrTokenExpired))
	assert.False(t, auth.IsMalformedError(nil))
}

func TestHasTextCodeOnClonedErrors(t *testing.T) {
	err := auth.ErrPasscodeMismatch.Clone().WithMetadata(map[string]any{
		"remaining_attempts": 3,
	})

	assert.True(t, auth.HasTextCode(err, auth.TextCodePasscodeMismatch))
	assert.False(t, auth.HasTextCode(err, auth.TextCodeTooManyAttempts))
}

func TestSentinelErrorsCarryHTTPCodes(t *testing.T) {
	tests := []struct {
		err      *goerrors.Error
		code     int
		textCode string
	}{
		{auth.ErrAlreadyRegistered, 400, auth.TextCodeAlreadyRegistered},
		{auth.ErrAlreadyRegisteredOnVerify, 400, auth.TextCodeAlreadyRegisteredLogin},
		{auth.ErrVerificationNotFound, 400, auth.TextCodeVerificationNotFound},
		{auth.ErrVerificationExpired, 400, auth.TextCodeVerificationExpired},
		{auth.ErrPasscodeMismatch, 400, auth.TextCodePasscodeMismatch},
		{auth.ErrTooManyAttempts, 400, auth.TextCodeTooManyAttempts},
		{auth.ErrAccountNotFound, 404, auth.TextCodeAccountNotFound},
		{auth.ErrMismatchedHashAndPassword, 401, auth.TextCodeInvalidCredentials},
		{auth.ErrTooManyLoginAttempts, 429, auth.TextCodeTooManyLoginAttempts},
		{auth.ErrMissingToken, 401, auth.TextCodeMissingToken},
		{auth.ErrTokenExpired, 401, auth.TextCodeTokenExpired},
		{auth.ErrStorageUnavailable, 500, auth.TextCodeStorageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.textCode, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.textCode, tt.err.TextCode)
		})
	}
}

func TestValidationErrorNamesFailingField(t *testing.T) {
	err := auth.RequestSignupMessage{
		Email:    "user@example.com",
		Name:     "User",
		Password: "123",
	}.Validate()

	var richErr *goerrors.Error
	if assert.True(t, goerrors.As(err, &richErr)) {
		assert.Equal(t, auth.TextCodeValidation, richErr.TextCode)
		assert.Equal(t, 400, richErr.Code)
		assert.Contains(t, richErr.Message, "password")

		fields, ok := richErr.Metadata["fields"].(map[string]string)
		if assert.True(t, ok) {
			assert.Contains(t, fields, "password")
		}
	}
}

func TestFormatValidationErrorToMap(t *testing.T) {
	assert.Empty(t, auth.FormatValidationErrorToMap(nil))
	assert.Equal(t, map[string]string{"form": "boom"}, auth.FormatValidationErrorToMap(errors.New("boom")))
}
