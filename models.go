package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationState is the position of an identity in the signup flow
type VerificationState string

const (
	// StateNoAccount nothing is known about the identity
	StateNoAccount VerificationState = "no_account"
	// StatePendingVerification a passcode was issued and is outstanding
	StatePendingVerification VerificationState = "pending_verification"
	// StateVerified the identity owns a verified account
	StateVerified VerificationState = "verified"
)

// Account is a verified user account
type Account struct {
	bun.BaseModel  `bun:"table:accounts,alias:acc"`
	ID             uuid.UUID  `bun:"id,pk" json:"id"`
	Email          string     `bun:"email,notnull,unique" json:"email"`
	Name           string     `bun:"name,notnull" json:"name"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	Contact        string     `bun:"contact" json:"contact,omitempty"`
	Verified       bool       `bun:"verified,notnull" json:"verified"`
	LoginAttempts  int        `bun:"login_attempts,notnull" json:"-"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"-"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"-"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Public returns the fields of the account that are safe to expose
func (a *Account) Public() PublicAccount {
	if a == nil {
		return PublicAccount{}
	}
	out := PublicAccount{
		ID:      a.ID.String(),
		Name:    a.Name,
		Email:   a.Email,
		Contact: a.Contact,
	}
	if a.CreatedAt != nil {
		out.CreatedAt = a.CreatedAt.UTC()
	}
	return out
}

// PublicAccount is the `user` object returned to clients
type PublicAccount struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Contact   string    `json:"contact"`
	CreatedAt time.Time `json:"createdAt"`
}

// PendingVerification is the ledger entry for an outstanding passcode.
// ID changes on every issuance and identifies the exact entry a
// verification read, so consuming it never removes a newer code.
type PendingVerification struct {
	bun.BaseModel `bun:"table:pending_verifications,alias:pv"`
	ID            uuid.UUID `bun:"id,pk" json:"id"`
	Email         string    `bun:"email,notnull,unique" json:"email"`
	Passcode      string    `bun:"passcode,notnull" json:"-"`
	Attempts      int       `bun:"attempts,notnull" json:"attempts"`
	Name          string    `bun:"name,notnull" json:"name"`
	PasswordHash  string    `bun:"password_hash,notnull" json:"-"`
	Contact       string    `bun:"contact" json:"contact,omitempty"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

// IsExpired reports whether the passcode can no longer be used at now
func (p *PendingVerification) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// RemainingAttempts given the configured threshold
func (p *PendingVerification) RemainingAttempts(max int) int {
	if left := max - p.Attempts; left > 0 {
		return left
	}
	return 0
}
