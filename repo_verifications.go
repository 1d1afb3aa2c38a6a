package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Verifications is the OTP ledger, one outstanding entry per identity
type Verifications interface {
	Issue(ctx context.Context, entry *PendingVerification) (*PendingVerification, error)
	FindByIdentity(ctx context.Context, email string) (*PendingVerification, error)
	IncrementAttempts(ctx context.Context, entry *PendingVerification, maxAttempts int) (int, error)
	Consume(ctx context.Context, entry *PendingVerification) error
	ConsumeTx(ctx context.Context, tx bun.IDB, entry *PendingVerification) error
	RedeemTx(ctx context.Context, tx bun.IDB, entry *PendingVerification, maxAttempts int) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type verifications struct {
	db *bun.DB
}

var _ Verifications = (*verifications)(nil)

func NewVerificationsRepository(db *bun.DB) Verifications {
	return &verifications{db: db}
}

// Issue upserts the entry by identity. A prior entry is overwritten with
// a fresh id, passcode and window, and its attempts are reset.
func (v *verifications) Issue(ctx context.Context, entry *PendingVerification) (*PendingVerification, error) {
	entry.Email = strings.ToLower(strings.TrimSpace(entry.Email))
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Attempts = 0

	_, err := v.db.NewInsert().
		Model(entry).
		On("CONFLICT (email) DO UPDATE").
		Set("id = EXCLUDED.id").
		Set("passcode = EXCLUDED.passcode").
		Set("attempts = 0").
		Set("name = EXCLUDED.name").
		Set("password_hash = EXCLUDED.password_hash").
		Set("contact = EXCLUDED.contact").
		Set("expires_at = EXCLUDED.expires_at").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	if err != nil {
		return nil, storageError(err, "failed to store pending verification")
	}
	return entry, nil
}

func (v *verifications) FindByIdentity(ctx context.Context, email string) (*PendingVerification, error) {
	record := &PendingVerification{}
	err := v.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", strings.ToLower(strings.TrimSpace(email))).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrVerificationNotFound
		}
		return nil, storageError(err, "failed to load pending verification")
	}
	return record, nil
}

// IncrementAttempts bumps the counter of the exact entry that was read
// while it is below maxAttempts. It fails with ErrVerificationNotFound if
// the entry was consumed or re-issued in the meantime, and with
// ErrTooManyAttempts once the stored counter reached the limit.
func (v *verifications) IncrementAttempts(ctx context.Context, entry *PendingVerification, maxAttempts int) (int, error) {
	res, err := v.db.NewUpdate().
		Model((*PendingVerification)(nil)).
		Set("attempts = attempts + 1").
		Where("email = ?", entry.Email).
		Where("id = ?", entry.ID).
		Where("attempts < ?", maxAttempts).
		Exec(ctx)
	if err != nil {
		return 0, storageError(err, "failed to track verification attempt")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError(err, "failed to track verification attempt")
	}

	current, err := v.FindByIdentity(ctx, entry.Email)
	if err != nil {
		return 0, err
	}
	if current.ID != entry.ID {
		return 0, ErrVerificationNotFound
	}

	entry.Attempts = current.Attempts
	if n == 0 {
		return current.Attempts, ErrTooManyAttempts
	}
	return current.Attempts, nil
}

func (v *verifications) Consume(ctx context.Context, entry *PendingVerification) error {
	return v.ConsumeTx(ctx, v.db, entry)
}

// ConsumeTx deletes the entry only if it is still the one that was read
func (v *verifications) ConsumeTx(ctx context.Context, tx bun.IDB, entry *PendingVerification) error {
	res, err := tx.NewDelete().
		Model((*PendingVerification)(nil)).
		Where("email = ?", entry.Email).
		Where("id = ?", entry.ID).
		Exec(ctx)
	if err != nil {
		return storageError(err, "failed to consume pending verification")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageError(err, "failed to consume pending verification")
	}

	if n == 0 {
		return ErrVerificationNotFound
	}
	return nil
}

// RedeemTx deletes the entry only if it is still the one that was read
// and its stored counter is below maxAttempts. Mismatches committed after
// the read count, so a locked entry can not be redeemed.
func (v *verifications) RedeemTx(ctx context.Context, tx bun.IDB, entry *PendingVerification, maxAttempts int) error {
	res, err := tx.NewDelete().
		Model((*PendingVerification)(nil)).
		Where("email = ?", entry.Email).
		Where("id = ?", entry.ID).
		Where("attempts < ?", maxAttempts).
		Exec(ctx)
	if err != nil {
		return storageError(err, "failed to redeem pending verification")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageError(err, "failed to redeem pending verification")
	}
	if n > 0 {
		return nil
	}

	var current PendingVerification
	err = tx.NewSelect().
		Model(&current).
		Where("?TableAlias.email = ?", entry.Email).
		Where("?TableAlias.id = ?", entry.ID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return ErrVerificationNotFound
		}
		return storageError(err, "failed to redeem pending verification")
	}
	return ErrTooManyAttempts
}

// DeleteExpired removes every entry whose window closed before now
func (v *verifications) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := v.db.NewDelete().
		Model((*PendingVerification)(nil)).
		Where("expires_at < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, storageError(err, "failed to sweep pending verifications")
	}
	return res.RowsAffected()
}
