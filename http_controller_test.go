package auth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-otp"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestController(flow auth.VerificationFlow) *auth.AuthController {
	return auth.NewAuthController(
		auth.WithControllerFlow(flow),
		auth.WithControllerLogger(nopLogger{}),
	)
}

func bindPayload[T any](ctx *router.MockContext, payload T) {
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		*(args.Get(0).(*T)) = payload
	}).Return(nil).Once()
}

func captureJSON(ctx *router.MockContext, status int) *any {
	var body any
	ctx.On("JSON", status, mock.Anything).Run(func(args mock.Arguments) {
		body = args.Get(1)
	}).Return(nil).Once()
	return &body
}

func TestNewAuthControllerRequiresFlow(t *testing.T) {
	assert.Panics(t, func() { auth.NewAuthController() })
}

func TestAuthControllerSignup(t *testing.T) {
	flow := &MockFlow{}
	flow.On("RequestSignup", mock.Anything, auth.RequestSignupMessage{
		Email:    "user@example.com",
		Name:     "User",
		Password: "secret123",
		Contact:  "5551234567",
	}).Return(&auth.SignupAck{Email: "user@example.com", ExpiresAt: time.Now()}, nil).Once()

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, auth.SignupPayload{
		Email:    "user@example.com",
		Name:     "User",
		Password: "secret123",
		Contact:  "5551234567",
	})
	body := captureJSON(ctx, http.StatusOK)

	require.NoError(t, newTestController(flow).Signup(ctx))
	flow.AssertExpectations(t)

	raw, err := jsonRoundTrip(*body)
	require.NoError(t, err)
	assert.Equal(t, "OTP sent successfully", raw["message"])
	assert.Equal(t, "user@example.com", raw["email"])
	assert.NotContains(t, raw, "warning")
	assert.NotContains(t, raw, "otp")
}

func TestAuthControllerSignupWarning(t *testing.T) {
	flow := &MockFlow{}
	flow.On("RequestSignup", mock.Anything, mock.Anything).
		Return(&auth.SignupAck{Email: "user@example.com", Warning: "delivery pending"}, nil).Once()

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, auth.SignupPayload{Email: "user@example.com", Name: "U", Password: "secret123"})
	body := captureJSON(ctx, http.StatusOK)

	require.NoError(t, newTestController(flow).Signup(ctx))

	raw, err := jsonRoundTrip(*body)
	require.NoError(t, err)
	assert.Equal(t, "delivery pending", raw["warning"])
}

func TestAuthControllerSignupAlreadyRegistered(t *testing.T) {
	flow := &MockFlow{}
	flow.On("RequestSignup", mock.Anything, mock.Anything).Return(nil, auth.ErrAlreadyRegistered).Once()

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, auth.SignupPayload{Email: "user@example.com", Name: "U", Password: "secret123"})
	body := captureJSON(ctx, http.StatusBadRequest)

	require.NoError(t, newTestController(flow).Signup(ctx))

	resp, ok := (*body).(auth.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, "User already exists", resp.Message)
	assert.Equal(t, auth.TextCodeAlreadyRegistered, resp.Error.TextCode)
}

func TestAuthControllerMalformedBody(t *testing.T) {
	flow := &MockFlow{}

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("Bind", mock.Anything).Return(errors.New("invalid character")).Once()
	body := captureJSON(ctx, http.StatusBadRequest)

	require.NoError(t, newTestController(flow).Signup(ctx))

	resp, ok := (*body).(auth.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, auth.TextCodeMalformedRequestBody, resp.Error.TextCode)
	flow.AssertNotCalled(t, "RequestSignup", mock.Anything, mock.Anything)
}

func TestAuthControllerVerifyOtp(t *testing.T) {
	flow := &MockFlow{}
	account := auth.PublicAccount{ID: "id-1", Name: "User", Email: "user@example.com"}
	flow.On("VerifyOtp", mock.Anything, auth.VerifyOtpMessage{Email: "user@example.com", Passcode: "123456"}).
		Return(&auth.SessionResult{Token: "jwt", Account: account}, nil).Once()

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, auth.VerifyOtpPayload{Email: "user@example.com", Otp: "123456"})
	body := captureJSON(ctx, http.StatusCreated)

	require.NoError(t, newTestController(flow).VerifyOtp(ctx))
	flow.AssertExpectations(t)

	raw, err := jsonRoundTrip(*body)
	require.NoError(t, err)
	assert.Equal(t, "Account created successfully", raw["message"])
	assert.Equal(t, "jwt", raw["token"])
	user, ok := raw["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "id-1", user["id"])
	assert.Contains(t, user, "createdAt")
	assert.NotContains(t, user, "password_hash")
}

func TestAuthControllerVerifyOtpMismatch(t *testing.T) {
	flow := &MockFlow{}
	flow.On("VerifyOtp", mock.Anything, mock.Anything).
		Return(nil, auth.ErrPasscodeMismatch.Clone().WithMetadata(map[string]any{"remaining_attempts": 4})).Once()

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, auth.VerifyOtpPayload{Email: "user@example.com", Otp: "000000"})
	body := captureJSON(ctx, http.StatusBadRequest)

	require.NoError(t, newTestController(flow).VerifyOtp(ctx))

	resp, ok := (*body).(auth.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, "Invalid OTP", resp.Message)
	assert.Equal(t, 4, resp.Error.Metadata["remaining_attempts"])
}

func TestAuthControllerLogin(t *testing.T) {
	flow := &MockFlow{}
	flow.On("RequestLogin", mock.Anything, auth.LoginMessage{Email: "user@example.com", Password: "secret123"}).
		Return(&auth.SessionResult{Token: "jwt", Account: auth.PublicAccount{ID: "id-1"}}, nil).Once()

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	bindPayload(ctx, auth.LoginPayload{Email: "user@example.com", Password: "secret123"})
	body := captureJSON(ctx, http.StatusOK)

	require.NoError(t, newTestController(flow).Login(ctx))

	raw, err := jsonRoundTrip(*body)
	require.NoError(t, err)
	assert.Equal(t, "Login successful", raw["message"])
	assert.Equal(t, "jwt", raw["token"])
}

func TestAuthControllerLoginMasksUnknownIdentity(t *testing.T) {
	tests := []struct {
		name    string
		flowErr error
	}{
		{name: "unknown identity", flowErr: auth.ErrAccountNotFound},
		{name: "wrong password", flowErr: auth.ErrMismatchedHashAndPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &MockFlow{}
			flow.On("RequestLogin", mock.Anything, mock.Anything).Return(nil, tt.flowErr).Once()

			ctx := router.NewMockContext()
			ctx.On("Context").Return(context.Background())
			bindPayload(ctx, auth.LoginPayload{Email: "user@example.com", Password: "nope"})
			body := captureJSON(ctx, http.StatusUnauthorized)

			require.NoError(t, newTestController(flow).Login(ctx))

			resp, ok := (*body).(auth.ErrorResponse)
			require.True(t, ok)
			assert.Equal(t, "Invalid credentials", resp.Message)
		})
	}
}

func TestAuthControllerInternalErrorIsGeneric(t *testing.T) {
	flow := &MockFlow{}
	flow.On("RequestLogin", mock.Anything, mock.Anything).
		Return(nil, errors.New("pq: relation accounts does not exist")).Once()

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("Method").Return(http.MethodPost).Maybe()
	ctx.On("Path").Return("/login").Maybe()
	bindPayload(ctx, auth.LoginPayload{Email: "user@example.com", Password: "secret123"})
	body := captureJSON(ctx, http.StatusInternalServerError)

	require.NoError(t, newTestController(flow).Login(ctx))

	resp, ok := (*body).(auth.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, "Internal server error", resp.Message)
	assert.NotContains(t, resp.Message, "relation")
}

func TestAuthControllerCurrentUser(t *testing.T) {
	flow := &MockFlow{}
	account := &auth.PublicAccount{ID: "id-1", Email: "user@example.com"}

	ctx := router.NewMockContext()
	ctx.LocalsMock[auth.SessionAccountKey] = account
	body := captureJSON(ctx, http.StatusOK)

	require.NoError(t, newTestController(flow).CurrentUser(ctx))

	raw, err := jsonRoundTrip(*body)
	require.NoError(t, err)
	user, ok := raw["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user@example.com", user["email"])
}

func TestAuthControllerCurrentUserWithoutSession(t *testing.T) {
	ctx := router.NewMockContext()
	body := captureJSON(ctx, http.StatusUnauthorized)

	require.NoError(t, newTestController(&MockFlow{}).CurrentUser(ctx))

	resp, ok := (*body).(auth.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, "No token provided", resp.Message)
}

func TestHealthCheck(t *testing.T) {
	ctx := router.NewMockContext()
	body := captureJSON(ctx, http.StatusOK)

	require.NoError(t, auth.HealthCheck(ctx))
	assert.Equal(t, map[string]string{"status": "OK"}, *body)
}
