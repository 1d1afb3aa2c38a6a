package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignupRequested      ActivityEventType = "auth.signup.requested"
	ActivityEventPasscodeDelivered    ActivityEventType = "auth.otp.delivered"
	ActivityEventPasscodeDeliveryFail ActivityEventType = "auth.otp.delivery.failed"
	ActivityEventPasscodeMismatch     ActivityEventType = "auth.otp.mismatch"
	ActivityEventPasscodeExpired      ActivityEventType = "auth.otp.expired"
	ActivityEventPasscodeLocked       ActivityEventType = "auth.otp.locked"
	ActivityEventAccountVerified      ActivityEventType = "auth.account.verified"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventLedgerSwept          ActivityEventType = "auth.otp.swept"
)

// ActivityEvent captures audit-friendly information about an action.
// Passcodes and secrets are never part of an event.
type ActivityEvent struct {
	EventType  ActivityEventType
	Email      string
	AccountID  string
	FromState  VerificationState
	ToState    VerificationState
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity is best effort, sink errors are logged and dropped
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now Clock, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		logger.Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
