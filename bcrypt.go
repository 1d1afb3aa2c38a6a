package auth

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost())
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// RandomPasswordHash is a temporary password
func RandomPasswordHash() string {
	pwd := uuid.New()

	h, err := HashPassword(pwd.String())
	if err != nil {
		return RandomPasswordHash()
	}

	return h
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// burnPasswordCompare runs a compare against a throwaway hash so that
// logins for unknown identities take as long as wrong passwords.
func burnPasswordCompare(password string) {
	dummyHashOnce.Do(func() {
		dummyHash = RandomPasswordHash()
	})
	_ = ComparePasswordAndHash(password, dummyHash)
}

type bcryptAuthenticator struct{}

// NewPasswordAuthenticator returns the bcrypt backed PasswordAuthenticator
func NewPasswordAuthenticator() PasswordAuthenticator {
	return bcryptAuthenticator{}
}

func (bcryptAuthenticator) HashPassword(password string) (string, error) {
	return HashPassword(password)
}

func (bcryptAuthenticator) ComparePasswordAndHash(password, hash string) error {
	return ComparePasswordAndHash(password, hash)
}
