package auth

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidIdentity        = "INVALID_IDENTITY"
	TextCodeInvalidContact         = "INVALID_CONTACT"
	TextCodeAlreadyRegistered      = "ALREADY_REGISTERED"
	TextCodeVerificationNotFound   = "OTP_NOT_FOUND"
	TextCodeVerificationExpired    = "OTP_EXPIRED"
	TextCodePasscodeMismatch       = "OTP_MISMATCH"
	TextCodeTooManyAttempts        = "OTP_TOO_MANY_ATTEMPTS"
	TextCodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	TextCodeTooManyLoginAttempts   = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeMissingToken           = "TOKEN_MISSING"
	TextCodeTokenMalformed         = "TOKEN_MALFORMED"
	TextCodeTokenBadSignature      = "TOKEN_BAD_SIGNATURE"
	TextCodeTokenExpired           = "TOKEN_EXPIRED"
	TextCodeDeliveryFailed         = "OTP_DELIVERY_FAILED"
	TextCodeStorageUnavailable     = "STORAGE_UNAVAILABLE"
	TextCodeEmptyPassword          = "EMPTY_PASSWORD"
	TextCodeOperationCancelled     = "OPERATION_CANCELLED"
	TextCodeInternal               = "INTERNAL_ERROR"
	TextCodeValidation             = "VALIDATION_ERROR"
	TextCodeMalformedRequestBody   = "MALFORMED_REQUEST_BODY"
	TextCodeAlreadyRegisteredLogin = "ALREADY_REGISTERED_LOGIN"
)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password can't be an empty string", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidIdentity is returned when an email can not be normalized
var ErrInvalidIdentity = goerrors.New("a valid email is required", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidIdentity).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidContact is returned for contacts that are not phone numbers
var ErrInvalidContact = goerrors.New("contact must be a valid phone number", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidContact).
	WithCode(goerrors.CodeBadRequest)

// ErrAlreadyRegistered is returned on signup for a verified identity
var ErrAlreadyRegistered = goerrors.New("User already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyRegistered).
	WithCode(goerrors.CodeBadRequest)

// ErrAlreadyRegisteredOnVerify is returned when a verification would
// create a second account for the same identity.
var ErrAlreadyRegisteredOnVerify = goerrors.New("User already exists. Please login instead.", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyRegisteredLogin).
	WithCode(goerrors.CodeBadRequest)

// ErrVerificationNotFound no outstanding passcode for the identity
var ErrVerificationNotFound = goerrors.New("OTP not found or expired", goerrors.CategoryNotFound).
	WithTextCode(TextCodeVerificationNotFound).
	WithCode(goerrors.CodeBadRequest)

var ErrVerificationExpired = goerrors.New("OTP has expired", goerrors.CategoryBadInput).
	WithTextCode(TextCodeVerificationExpired).
	WithCode(goerrors.CodeBadRequest)

var ErrPasscodeMismatch = goerrors.New("Invalid OTP", goerrors.CategoryBadInput).
	WithTextCode(TextCodePasscodeMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrTooManyAttempts is returned once the attempt threshold is reached,
// the correct passcode is rejected as well.
var ErrTooManyAttempts = goerrors.New("Too many invalid attempts, request a new OTP", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(goerrors.CodeBadRequest)

var ErrAccountNotFound = goerrors.New("User not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrMismatchedHashAndPassword is returned on login with a wrong password
var ErrMismatchedHashAndPassword = goerrors.New("Invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

var ErrTooManyLoginAttempts = goerrors.New("Too many login attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyLoginAttempts).
	WithCode(http.StatusTooManyRequests)

var ErrMissingToken = goerrors.New("No token provided", goerrors.CategoryAuth).
	WithTextCode(TextCodeMissingToken).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("Invalid token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenBadSignature = goerrors.New("Invalid token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenBadSignature).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenExpired = goerrors.New("Token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrDeliveryFailed is never surfaced as a request failure, it ends up
// as a warning on the signup acknowledgment or in the logs.
var ErrDeliveryFailed = goerrors.New("OTP delivery failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeDeliveryFailed).
	WithCode(goerrors.CodeInternal)

var ErrStorageUnavailable = goerrors.New("storage unavailable", goerrors.CategoryInternal).
	WithTextCode(TextCodeStorageUnavailable).
	WithCode(goerrors.CodeInternal)

// HasTextCode reports whether err carries a rich error with the given
// text code anywhere in its chain.
func HasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return HasTextCode(err, TextCodeTokenExpired)
}

// IsMalformedError will check for tokens that failed to parse or verify
func IsMalformedError(err error) bool {
	return HasTextCode(err, TextCodeTokenMalformed) ||
		HasTextCode(err, TextCodeTokenBadSignature)
}

// storageError wraps a driver error so the gateway maps it to a 500
// without exposing internals.
func storageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeStorageUnavailable).
		WithCode(goerrors.CodeInternal)
}

func cancelledError(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, msg).
		WithTextCode(TextCodeOperationCancelled).
		WithCode(goerrors.CodeInternal)
}
