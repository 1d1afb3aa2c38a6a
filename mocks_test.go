package auth_test

import (
	"context"

	auth "github.com/goliatone/go-auth-otp"
	"github.com/stretchr/testify/mock"
)

// MockFlow implements auth.VerificationFlow
type MockFlow struct {
	mock.Mock
}

var _ auth.VerificationFlow = (*MockFlow)(nil)

func (m *MockFlow) RequestSignup(ctx context.Context, msg auth.RequestSignupMessage) (*auth.SignupAck, error) {
	args := m.Called(ctx, msg)
	ack, _ := args.Get(0).(*auth.SignupAck)
	return ack, args.Error(1)
}

func (m *MockFlow) VerifyOtp(ctx context.Context, msg auth.VerifyOtpMessage) (*auth.SessionResult, error) {
	args := m.Called(ctx, msg)
	res, _ := args.Get(0).(*auth.SessionResult)
	return res, args.Error(1)
}

func (m *MockFlow) RequestLogin(ctx context.Context, msg auth.LoginMessage) (*auth.SessionResult, error) {
	args := m.Called(ctx, msg)
	res, _ := args.Get(0).(*auth.SessionResult)
	return res, args.Error(1)
}

func (m *MockFlow) AccountFromToken(ctx context.Context, token string) (*auth.PublicAccount, error) {
	args := m.Called(ctx, token)
	account, _ := args.Get(0).(*auth.PublicAccount)
	return account, args.Error(1)
}

func (m *MockFlow) CurrentState(ctx context.Context, email string) (auth.VerificationState, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(auth.VerificationState), args.Error(1)
}
