package auth

import (
	"net/mail"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used to parse contacts without a country prefix
var DefaultRegion = "US"

// NormalizeIdentity lower-cases and trims an email address and checks
// that it parses as a bare address.
func NormalizeIdentity(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidIdentity
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidIdentity
	}

	return email, nil
}

// NormalizeContact formats a phone contact as E.164. Empty contacts
// are allowed. Numbers are only checked for a plausible length, real
// world allocation is not enforced.
func NormalizeContact(contact, region string) (string, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return "", nil
	}

	if region == "" {
		region = DefaultRegion
	}

	num, err := phonenumbers.Parse(contact, region)
	if err != nil {
		return "", ErrInvalidContact
	}

	if !phonenumbers.IsPossibleNumber(num) {
		return "", ErrInvalidContact
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}
