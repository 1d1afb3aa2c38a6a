package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// Accounts is the credential store
type Accounts interface {
	repository.Repository[*Account]

	FindByIdentity(ctx context.Context, email string) (*Account, error)
	FindByIdentityTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	CreateVerifiedTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error)
	Upsert(ctx context.Context, record *Account, criteria ...repository.UpdateCriteria) (*Account, error)
	UpsertTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.UpdateCriteria) (*Account, error)

	TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error
	ResetLoginAttempts(ctx context.Context, account *Account) error
	TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error
}

type accounts struct {
	repository.Repository[*Account]
	db        *bun.DB
	useHashid bool
}

var _ Accounts = (*accounts)(nil)

// AccountsOption configures the accounts repository
type AccountsOption func(*accounts)

// WithDeterministicIDs derives account ids from the identity with hashid
// so the same email always maps to the same id.
func WithDeterministicIDs(enabled bool) AccountsOption {
	return func(a *accounts) {
		a.useHashid = enabled
	}
}

func NewAccountsRepository(db *bun.DB, opts ...AccountsOption) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	out := &accounts{
		Repository: repo,
		db:         db,
		useHashid:  true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(out)
		}
	}
	return out
}

func (a *accounts) FindByIdentity(ctx context.Context, email string) (*Account, error) {
	return a.FindByIdentityTx(ctx, a.db, email)
}

func (a *accounts) FindByIdentityTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", strings.ToLower(strings.TrimSpace(email))).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrAccountNotFound
		}
		return nil, storageError(err, "failed to load account")
	}
	return record, nil
}

func (a *accounts) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrAccountNotFound
		}
		return nil, storageError(err, "failed to load account")
	}
	return record, nil
}

// CreateVerifiedTx inserts a verified account, a second account for the
// same identity fails with ErrAlreadyRegisteredOnVerify.
func (a *accounts) CreateVerifiedTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error) {
	a.prepareDefaults(record)
	record.Verified = true

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyRegisteredOnVerify
		}
		return nil, storageError(err, "failed to create account")
	}
	return record, nil
}

func (a *accounts) Upsert(ctx context.Context, record *Account, criteria ...repository.UpdateCriteria) (*Account, error) {
	return a.UpsertTx(ctx, a.db, record, criteria...)
}

// UpsertTx is idempotent by identity
func (a *accounts) UpsertTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.UpdateCriteria) (*Account, error) {
	existing, err := a.FindByIdentityTx(ctx, tx, record.Email)
	if err == nil {
		record.ID = existing.ID
		criteria = append(criteria, repository.UpdateByID(existing.ID.String()))
		return a.Repository.UpdateTx(ctx, tx, record, criteria...)
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	a.prepareDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record)
}

// TrackAttemptedLogin increments the stored counter, concurrent failures
// are never lost.
func (a *accounts) TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error {
	_, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("login_attempts = login_attempts + 1").
		Set("login_attempt_at = ?", at).
		Where("id = ?", account.ID).
		Exec(ctx)
	if err != nil {
		return storageError(err, "failed to track login attempt")
	}

	var attempts int
	err = a.db.NewSelect().
		Model((*Account)(nil)).
		Column("login_attempts").
		Where("id = ?", account.ID).
		Scan(ctx, &attempts)
	if err != nil {
		return storageError(err, "failed to track login attempt")
	}

	account.LoginAttempts = attempts
	account.LoginAttemptAt = &at
	return nil
}

// ResetLoginAttempts clears the failure counter once a cool down elapsed
func (a *accounts) ResetLoginAttempts(ctx context.Context, account *Account) error {
	_, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("login_attempts = 0").
		Where("id = ?", account.ID).
		Exec(ctx)
	if err != nil {
		return storageError(err, "failed to reset login attempts")
	}
	account.LoginAttempts = 0
	return nil
}

func (a *accounts) TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error {
	// NOTE: the ORM skips zero values on update, so the reset is explicit
	_, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("loggedin_at = ?", at).
		Set("login_attempt_at = NULL").
		Set("login_attempts = 0").
		Where("id = ?", account.ID).
		Exec(ctx)
	if err != nil {
		return storageError(err, "failed to track login")
	}
	account.LoginAttempts = 0
	account.LoginAttemptAt = nil
	account.LoggedInAt = &at
	return nil
}

func (a *accounts) prepareDefaults(record *Account) {
	if record == nil {
		return
	}

	record.Email = strings.ToLower(strings.TrimSpace(record.Email))

	if record.ID != uuid.Nil {
		return
	}

	if a.useHashid {
		if id, err := hashid.NewUUID(record.Email); err == nil {
			record.ID = id
			return
		}
	}
	record.ID = uuid.New()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
