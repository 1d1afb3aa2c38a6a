package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the structured logger used across the package. Arguments
// after the message are key/value pairs, glog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetPasscodeLength() int
	GetPasscodeTTL() time.Duration
	GetMaxPasscodeAttempts() int
	GetStoreTimeout() time.Duration
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// PasscodeNotifier delivers a passcode to the out-of-band channel
// of an identity.
type PasscodeNotifier interface {
	Deliver(ctx context.Context, notification PasscodeNotification) error
}

// PasscodeNotification is the message handed to a PasscodeNotifier
type PasscodeNotification struct {
	Email     string
	Name      string
	Passcode  string
	ExpiresIn time.Duration
}

// Clock returns the current time
type Clock func() time.Time

// defaultClock truncates to microseconds, the finest precision both
// sqlite and postgres round-trip.
func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] AUTH " + line(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] AUTH " + line(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] AUTH " + line(msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] AUTH " + line(msg, args...))
}

func line(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteString("\n")
	return b.String()
}
