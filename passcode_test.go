package auth_test

import (
	"strings"
	"testing"

	auth "github.com/goliatone/go-auth-otp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePasscode(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{name: "default length", length: 0, want: auth.DefaultPasscodeLength},
		{name: "six digits", length: 6, want: 6},
		{name: "eight digits", length: 8, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				code, err := auth.GeneratePasscode(tt.length)
				require.NoError(t, err)
				require.Len(t, code, tt.want)
				require.Empty(t, strings.Trim(code, "0123456789"), "passcode %q is not numeric", code)
			}
		})
	}
}

func TestGeneratePasscodeVaries(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := auth.GeneratePasscode(6)
		require.NoError(t, err)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestPasscodesMatch(t *testing.T) {
	tests := []struct {
		name     string
		stored   string
		supplied string
		want     bool
	}{
		{name: "equal", stored: "012345", supplied: "012345", want: true},
		{name: "surrounding space", stored: "012345", supplied: " 012345 ", want: true},
		{name: "different digit", stored: "012345", supplied: "012346", want: false},
		{name: "leading zero dropped", stored: "012345", supplied: "12345", want: false},
		{name: "empty", stored: "012345", supplied: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.PasscodesMatch(tt.stored, tt.supplied))
		})
	}
}
