package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultPasscodeLength number of digits in a passcode
const DefaultPasscodeLength = 6

// GeneratePasscode returns a random numeric passcode of the given
// length. Leading zeros are kept so every code has the same length.
func GeneratePasscode(length int) (string, error) {
	if length <= 0 {
		length = DefaultPasscodeLength
	}

	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate passcode")
	}

	code := n.String()
	if pad := length - len(code); pad > 0 {
		code = strings.Repeat("0", pad) + code
	}
	return code, nil
}

// PasscodesMatch compares a stored and a supplied passcode in constant time
func PasscodesMatch(stored, supplied string) bool {
	supplied = strings.TrimSpace(supplied)
	if len(stored) != len(supplied) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
