package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultPasscodeTTL is how long an issued passcode stays valid
	DefaultPasscodeTTL = 10 * time.Minute
	// DefaultMaxPasscodeAttempts mismatches allowed before a passcode locks
	DefaultMaxPasscodeAttempts = 5
	// DefaultStoreTimeout bounds the storage work of a single operation
	DefaultStoreTimeout = 10 * time.Second

	tracerName = "github.com/goliatone/go-auth-otp"
)

// MaxLoginAttempts is the maximun number of failed logins before the
// account cools down
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "15m"

// RequestSignupMessage starts or restarts verification for an identity
type RequestSignupMessage struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Contact  string `json:"contact"`
}

func (m RequestSignupMessage) Type() string { return "auth.signup.request" }

// Validate will run validation rules
func (m RequestSignupMessage) Validate() error {
	m.Email = strings.TrimSpace(m.Email)
	return validationError(validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&m.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&m.Password, validation.Required, validation.Length(6, 72)),
		validation.Field(&m.Contact, validation.Length(0, 32)),
	), "invalid signup request")
}

// VerifyOtpMessage redeems a passcode. Only the identity and the code are
// needed, the profile was captured when the passcode was issued.
type VerifyOtpMessage struct {
	Email    string `json:"email"`
	Passcode string `json:"otp"`
}

func (m VerifyOtpMessage) Type() string { return "auth.otp.verify" }

func (m VerifyOtpMessage) Validate() error {
	m.Email = strings.TrimSpace(m.Email)
	return validationError(validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.EmailFormat),
		validation.Field(&m.Passcode, validation.Required, is.Digit, validation.Length(4, 12)),
	), "Email and OTP are required")
}

// LoginMessage authenticates a verified account
type LoginMessage struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (m LoginMessage) Type() string { return "auth.login" }

func (m LoginMessage) Validate() error {
	m.Email = strings.TrimSpace(m.Email)
	return validationError(validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.EmailFormat),
		validation.Field(&m.Password, validation.Required),
	), "Email and password are required")
}

// SignupAck acknowledges a signup request. The passcode is never part
// of it. Warning is set when delivery could not be handed off.
type SignupAck struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
	Warning   string    `json:"warning,omitempty"`
}

// SessionResult is returned after a verification or a login
type SessionResult struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Account   PublicAccount `json:"user"`
}

// VerificationFlow is the signup, verification and login state machine
type VerificationFlow interface {
	RequestSignup(ctx context.Context, msg RequestSignupMessage) (*SignupAck, error)
	VerifyOtp(ctx context.Context, msg VerifyOtpMessage) (*SessionResult, error)
	RequestLogin(ctx context.Context, msg LoginMessage) (*SessionResult, error)
	AccountFromToken(ctx context.Context, token string) (*PublicAccount, error)
	CurrentState(ctx context.Context, email string) (VerificationState, error)
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*VerificationStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

func WithStateMachineDispatcher(dispatcher PasscodeDispatcher) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		if dispatcher != nil {
			sm.dispatcher = dispatcher
		}
	}
}

func WithPasswordAuthenticator(passwords PasswordAuthenticator) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		if passwords != nil {
			sm.passwords = passwords
		}
	}
}

func WithPasscodeLength(length int) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		if length > 0 {
			sm.passcodeLength = length
		}
	}
}

func WithPasscodeTTL(ttl time.Duration) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		if ttl > 0 {
			sm.passcodeTTL = ttl
		}
	}
}

func WithMaxPasscodeAttempts(max int) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		if max > 0 {
			sm.maxAttempts = max
		}
	}
}

func WithStoreTimeout(timeout time.Duration) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		if timeout > 0 {
			sm.storeTimeout = timeout
		}
	}
}

// WithContactRegion sets the region used to parse contacts without a
// country prefix.
func WithContactRegion(region string) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		if region != "" {
			sm.region = region
		}
	}
}

// WithStateMachineConfig applies the passcode and timeout settings of cfg
func WithStateMachineConfig(cfg Config) StateMachineOption {
	return func(sm *VerificationStateMachine) {
		if cfg == nil {
			return
		}
		WithPasscodeLength(cfg.GetPasscodeLength())(sm)
		WithPasscodeTTL(cfg.GetPasscodeTTL())(sm)
		WithMaxPasscodeAttempts(cfg.GetMaxPasscodeAttempts())(sm)
		WithStoreTimeout(cfg.GetStoreTimeout())(sm)
	}
}

// VerificationStateMachine moves identities from NoAccount through
// PendingVerification to Verified.
type VerificationStateMachine struct {
	repo           RepositoryManager
	tokens         TokenService
	dispatcher     PasscodeDispatcher
	passwords      PasswordAuthenticator
	activitySink   ActivitySink
	logger         Logger
	tracer         trace.Tracer
	now            func() time.Time
	passcodeLength int
	passcodeTTL    time.Duration
	maxAttempts    int
	storeTimeout   time.Duration
	region         string
}

var _ VerificationFlow = (*VerificationStateMachine)(nil)

// NewVerificationStateMachine builds the state machine. Without a
// dispatcher passcodes are written to the logger inline.
func NewVerificationStateMachine(repo RepositoryManager, tokens TokenService, opts ...StateMachineOption) *VerificationStateMachine {
	sm := &VerificationStateMachine{
		repo:           repo,
		tokens:         tokens,
		passwords:      NewPasswordAuthenticator(),
		activitySink:   noopActivitySink{},
		logger:         defLogger{},
		tracer:         otel.Tracer(tracerName),
		now:            defaultClock,
		passcodeLength: DefaultPasscodeLength,
		passcodeTTL:    DefaultPasscodeTTL,
		maxAttempts:    DefaultMaxPasscodeAttempts,
		storeTimeout:   DefaultStoreTimeout,
		region:         DefaultRegion,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	if sm.dispatcher == nil {
		sm.dispatcher = NewDeliveryDispatcher(
			LogNotifier{Logger: sm.logger},
			WithDispatcherMode(DeliveryModeInline),
			WithDispatcherLogger(sm.logger),
			WithDispatcherActivitySink(sm.activitySink),
		)
	}

	return sm
}

// RequestSignup issues a passcode for the identity, replacing any
// outstanding one.
func (sm *VerificationStateMachine) RequestSignup(ctx context.Context, msg RequestSignupMessage) (*SignupAck, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx.Err(), "context cancelled during signup request")
	default:
	}

	ctx, span := sm.startSpan(ctx, "auth.signup.request", msg.Email)
	defer span.End()

	ack, err := sm.requestSignup(ctx, msg)
	endSpan(span, err)
	return ack, err
}

func (sm *VerificationStateMachine) requestSignup(ctx context.Context, msg RequestSignupMessage) (*SignupAck, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	email, err := NormalizeIdentity(msg.Email)
	if err != nil {
		return nil, err
	}

	contact, err := NormalizeContact(msg.Contact, sm.region)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, sm.storeTimeout)
	defer cancel()

	if _, err := sm.repo.Accounts().FindByIdentity(storeCtx, email); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	hash, err := sm.passwords.HashPassword(msg.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	passcode, err := GeneratePasscode(sm.passcodeLength)
	if err != nil {
		return nil, err
	}

	now := sm.now()
	entry := &PendingVerification{
		ID:           uuid.New(),
		Email:        email,
		Passcode:     passcode,
		Name:         strings.TrimSpace(msg.Name),
		PasswordHash: hash,
		Contact:      contact,
		CreatedAt:    now,
		ExpiresAt:    now.Add(sm.passcodeTTL),
	}

	if _, err := sm.repo.Verifications().Issue(storeCtx, entry); err != nil {
		return nil, err
	}

	sm.logger.Info("passcode issued", "email", email, "expires_at", entry.ExpiresAt)
	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventSignupRequested,
		Email:     email,
		FromState: StateNoAccount,
		ToState:   StatePendingVerification,
		Metadata:  map[string]any{"expires_at": entry.ExpiresAt},
	})

	ack := &SignupAck{
		Email:     email,
		ExpiresAt: entry.ExpiresAt,
	}

	notification := PasscodeNotification{
		Email:     email,
		Name:      entry.Name,
		Passcode:  passcode,
		ExpiresIn: sm.passcodeTTL,
	}

	// the ledger write is durable at this point, delivery must not undo it
	if err := sm.dispatcher.Dispatch(context.WithoutCancel(ctx), notification); err != nil {
		sm.logger.Warn("passcode delivery not confirmed", "email", email, "error", err)
		ack.Warning = "OTP delivery could not be confirmed, request a new code if it does not arrive"
	}

	return ack, nil
}

// VerifyOtp redeems a passcode and creates the verified account
func (sm *VerificationStateMachine) VerifyOtp(ctx context.Context, msg VerifyOtpMessage) (*SessionResult, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx.Err(), "context cancelled during passcode verification")
	default:
	}

	ctx, span := sm.startSpan(ctx, "auth.otp.verify", msg.Email)
	defer span.End()

	res, err := sm.verifyOtp(ctx, msg)
	endSpan(span, err)
	return res, err
}

func (sm *VerificationStateMachine) verifyOtp(ctx context.Context, msg VerifyOtpMessage) (*SessionResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	email, err := NormalizeIdentity(msg.Email)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, sm.storeTimeout)
	defer cancel()

	ledger := sm.repo.Verifications()

	entry, err := ledger.FindByIdentity(storeCtx, email)
	if err != nil {
		return nil, err
	}

	now := sm.now()

	if entry.IsExpired(now) {
		if err := ledger.Consume(storeCtx, entry); err != nil && !errors.Is(err, ErrVerificationNotFound) {
			sm.logger.Warn("failed to reap expired passcode", "email", email, "error", err)
		}
		sm.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventPasscodeExpired,
			Email:     email,
			FromState: StatePendingVerification,
			ToState:   StateNoAccount,
		})
		return nil, ErrVerificationExpired
	}

	if entry.Attempts >= sm.maxAttempts {
		sm.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventPasscodeLocked,
			Email:     email,
			Metadata:  map[string]any{"attempts": entry.Attempts},
		})
		return nil, ErrTooManyAttempts
	}

	if !PasscodesMatch(entry.Passcode, msg.Passcode) {
		attempts, err := ledger.IncrementAttempts(storeCtx, entry, sm.maxAttempts)
		if errors.Is(err, ErrTooManyAttempts) {
			sm.recordActivity(ctx, ActivityEvent{
				EventType: ActivityEventPasscodeLocked,
				Email:     email,
				Metadata:  map[string]any{"attempts": attempts},
			})
			return nil, ErrTooManyAttempts
		}
		if err != nil {
			return nil, err
		}

		sm.logger.Info("passcode mismatch", "email", email, "attempts", attempts)
		sm.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventPasscodeMismatch,
			Email:     email,
			Metadata:  map[string]any{"attempts": attempts},
		})

		return nil, ErrPasscodeMismatch.Clone().WithMetadata(map[string]any{
			"remaining_attempts": entry.RemainingAttempts(sm.maxAttempts),
		})
	}

	var account *Account
	err = sm.repo.RunInTx(storeCtx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := ledger.RedeemTx(ctx, tx, entry, sm.maxAttempts); err != nil {
			return err
		}

		createdAt := now
		record := &Account{
			Email:        entry.Email,
			Name:         entry.Name,
			PasswordHash: entry.PasswordHash,
			Contact:      entry.Contact,
			CreatedAt:    &createdAt,
			UpdatedAt:    &createdAt,
		}

		var err error
		account, err = sm.repo.Accounts().CreateVerifiedTx(ctx, tx, record)
		return err
	})
	if err != nil {
		return nil, storageError(err, "account verification transaction failed")
	}

	sm.logger.Info("account verified", "email", email, "account_id", account.ID.String())
	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountVerified,
		Email:     email,
		AccountID: account.ID.String(),
		FromState: StatePendingVerification,
		ToState:   StateVerified,
	})

	return sm.issueSession(account)
}

// RequestLogin authenticates a verified account with its password
func (sm *VerificationStateMachine) RequestLogin(ctx context.Context, msg LoginMessage) (*SessionResult, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx.Err(), "context cancelled during login")
	default:
	}

	ctx, span := sm.startSpan(ctx, "auth.login", msg.Email)
	defer span.End()

	res, err := sm.requestLogin(ctx, msg)
	endSpan(span, err)
	return res, err
}

func (sm *VerificationStateMachine) requestLogin(ctx context.Context, msg LoginMessage) (*SessionResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	email, err := NormalizeIdentity(msg.Email)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, sm.storeTimeout)
	defer cancel()

	accounts := sm.repo.Accounts()

	account, err := accounts.FindByIdentity(storeCtx, email)
	if err == nil && !account.Verified {
		err = ErrAccountNotFound
	}
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			burnPasswordCompare(msg.Password)
			sm.recordLoginFailure(ctx, email, "", "unknown_identity")
		}
		return nil, err
	}

	now := sm.now()

	if account.LoginAttempts >= MaxLoginAttempts && account.LoginAttemptAt != nil {
		elapsed, err := IsOutsideThresholdPeriodAt(*account.LoginAttemptAt, now, CoolDownPeriod)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid cool down period")
		}
		if !elapsed {
			sm.recordLoginFailure(ctx, email, account.ID.String(), "cooling_down")
			return nil, ErrTooManyLoginAttempts
		}
		if err := accounts.ResetLoginAttempts(storeCtx, account); err != nil {
			return nil, err
		}
	}

	if err := sm.passwords.ComparePasswordAndHash(msg.Password, account.PasswordHash); err != nil {
		if !errors.Is(err, ErrMismatchedHashAndPassword) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compare password")
		}

		if terr := accounts.TrackAttemptedLogin(storeCtx, account, now); terr != nil {
			sm.logger.Error("failed to track login attempt", "email", email, "error", terr)
		}
		sm.recordLoginFailure(ctx, email, account.ID.String(), "invalid_credentials")
		return nil, ErrMismatchedHashAndPassword
	}

	if err := accounts.TrackSuccessfulLogin(storeCtx, account, now); err != nil {
		sm.logger.Error("failed to track login", "email", email, "error", err)
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Email:     email,
		AccountID: account.ID.String(),
	})

	return sm.issueSession(account)
}

// AccountFromToken validates a session token and loads its account
func (sm *VerificationStateMachine) AccountFromToken(ctx context.Context, token string) (*PublicAccount, error) {
	claims, err := sm.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(claims.Subject())
	if err != nil {
		return nil, ErrTokenMalformed
	}

	storeCtx, cancel := context.WithTimeout(ctx, sm.storeTimeout)
	defer cancel()

	account, err := sm.repo.Accounts().FindByID(storeCtx, id)
	if err != nil {
		return nil, err
	}

	public := account.Public()
	return &public, nil
}

// CurrentState reports where the identity is in the signup flow
func (sm *VerificationStateMachine) CurrentState(ctx context.Context, email string) (VerificationState, error) {
	email, err := NormalizeIdentity(email)
	if err != nil {
		return "", err
	}

	storeCtx, cancel := context.WithTimeout(ctx, sm.storeTimeout)
	defer cancel()

	account, err := sm.repo.Accounts().FindByIdentity(storeCtx, email)
	if err == nil && account.Verified {
		return StateVerified, nil
	}
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return "", err
	}

	entry, err := sm.repo.Verifications().FindByIdentity(storeCtx, email)
	if err != nil {
		if errors.Is(err, ErrVerificationNotFound) {
			return StateNoAccount, nil
		}
		return "", err
	}

	if entry.IsExpired(sm.now()) {
		return StateNoAccount, nil
	}
	return StatePendingVerification, nil
}

func (sm *VerificationStateMachine) issueSession(account *Account) (*SessionResult, error) {
	token, expiresAt, err := sm.tokens.Issue(account)
	if err != nil {
		return nil, err
	}

	return &SessionResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Account:   account.Public(),
	}, nil
}

func (sm *VerificationStateMachine) recordLoginFailure(ctx context.Context, email, accountID, reason string) {
	sm.logger.Info("login failed", "email", email, "reason", reason)
	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Email:     email,
		AccountID: accountID,
		Metadata:  map[string]any{"reason": reason},
	})
}

func (sm *VerificationStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, event)
}

func (sm *VerificationStateMachine) startSpan(ctx context.Context, name, email string) (context.Context, trace.Span) {
	domain := ""
	if i := strings.LastIndex(email, "@"); i >= 0 {
		domain = strings.ToLower(strings.TrimSpace(email[i+1:]))
	}
	return sm.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("auth.email_domain", domain),
	))
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		span.SetAttributes(attribute.String("auth.error_code", richErr.TextCode))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
