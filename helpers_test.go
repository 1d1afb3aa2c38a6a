package auth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-otp"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

var testDBSeq atomic.Int64

// newTestDB returns a fresh migrated in-memory sqlite database, every
// call opens its own database.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	name := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, testDBSeq.Add(1))

	ctx := context.Background()
	db, err := auth.OpenDatabase(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	applied, err := auth.Migrate(ctx, db)
	require.NoError(t, err)
	require.NotEmpty(t, applied)

	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fastPasswords uses the minimum bcrypt cost to keep tests quick
type fastPasswords struct{}

func (fastPasswords) HashPassword(password string) (string, error) {
	if password == "" {
		return "", auth.ErrNoEmptyString
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(h), err
}

func (fastPasswords) ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return auth.ErrMismatchedHashAndPassword
	}
	return nil
}

// outbox captures delivered passcodes
type outbox struct {
	mu   sync.Mutex
	sent []auth.PasscodeNotification
	fail error
}

func (o *outbox) Deliver(_ context.Context, n auth.PasscodeNotification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, n)
	return nil
}

func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

func (o *outbox) Last(t *testing.T) auth.PasscodeNotification {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent, "no passcode was delivered")
	return o.sent[len(o.sent)-1]
}

// activityLog records activity events
type activityLog struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (a *activityLog) Record(_ context.Context, event auth.ActivityEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *activityLog) Types() []auth.ActivityEventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.EventType)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

const testSigningKey = "test-signing-key-0123456789"

type flowFixture struct {
	db       *bun.DB
	repo     auth.RepositoryManager
	clock    *testClock
	outbox   *outbox
	activity *activityLog
	tokens   *auth.TokenServiceImpl
	flow     *auth.VerificationStateMachine
}

func newFlowFixture(t *testing.T, opts ...auth.StateMachineOption) *flowFixture {
	t.Helper()

	f := &flowFixture{
		db:       newTestDB(t),
		clock:    newTestClock(),
		outbox:   &outbox{},
		activity: &activityLog{},
	}
	f.repo = auth.NewRepositoryManager(f.db)
	f.tokens = auth.NewTokenService([]byte(testSigningKey), time.Hour, "otp-auth", nil,
		auth.WithTokenClock(f.clock.Now),
		auth.WithTokenLogger(nopLogger{}),
	)

	dispatcher := auth.NewDeliveryDispatcher(f.outbox,
		auth.WithDispatcherMode(auth.DeliveryModeInline),
		auth.WithDispatcherLogger(nopLogger{}),
		auth.WithDispatcherActivitySink(f.activity),
	)

	base := []auth.StateMachineOption{
		auth.WithStateMachineClock(f.clock.Now),
		auth.WithStateMachineLogger(nopLogger{}),
		auth.WithStateMachineActivitySink(f.activity),
		auth.WithStateMachineDispatcher(dispatcher),
		auth.WithPasswordAuthenticator(fastPasswords{}),
	}
	f.flow = auth.NewVerificationStateMachine(f.repo, f.tokens, append(base, opts...)...)
	return f
}

func (f *flowFixture) signup(t *testing.T, email string) string {
	t.Helper()
	_, err := f.flow.RequestSignup(context.Background(), auth.RequestSignupMessage{
		Email:    email,
		Name:     "Test User",
		Password: "secret123",
	})
	require.NoError(t, err)
	return f.outbox.Last(t).Passcode
}

func (f *flowFixture) register(t *testing.T, email string) *auth.SessionResult {
	t.Helper()
	code := f.signup(t, email)
	res, err := f.flow.VerifyOtp(context.Background(), auth.VerifyOtpMessage{
		Email:    email,
		Passcode: code,
	})
	require.NoError(t, err)
	return res
}

// wrongCode returns a passcode of the same length that differs from code
func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}

// jsonRoundTrip encodes v and decodes it into a generic map
func jsonRoundTrip(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	err = json.Unmarshal(data, &out)
	return out, err
}
