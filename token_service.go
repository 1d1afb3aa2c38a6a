package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultTokenExpiration is the lifetime of a session token
const DefaultTokenExpiration = 7 * 24 * time.Hour

// TokenService issues and validates stateless session tokens
type TokenService interface {
	Issue(account *Account) (string, time.Time, error)
	Validate(token string) (*SessionClaims, error)
}

// TokenServiceImpl implements TokenService with HS256 JWTs
type TokenServiceImpl struct {
	signingKey      []byte
	tokenExpiration time.Duration
	issuer          string
	audience        jwt.ClaimStrings
	now             Clock
	logger          Logger
}

// TokenServiceOption configures the token service
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock overrides the time source, used for issue and validation
func WithTokenClock(now Clock) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if now != nil {
			ts.now = now
		}
	}
}

func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService instance. A zero
// expiration falls back to DefaultTokenExpiration.
func NewTokenService(signingKey []byte, tokenExpiration time.Duration, issuer string, audience []string, opts ...TokenServiceOption) *TokenServiceImpl {
	if tokenExpiration <= 0 {
		tokenExpiration = DefaultTokenExpiration
	}

	ts := &TokenServiceImpl{
		signingKey:      signingKey,
		tokenExpiration: tokenExpiration,
		issuer:          issuer,
		audience:        jwt.ClaimStrings(audience),
		now:             defaultClock,
		logger:          defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts
}

// NewTokenServiceFromConfig builds the service from Config getters
func NewTokenServiceFromConfig(cfg Config, opts ...TokenServiceOption) *TokenServiceImpl {
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		opts...,
	)
}

// Issue signs a token for the account. The subject is the account id.
func (ts *TokenServiceImpl) Issue(account *Account) (string, time.Time, error) {
	if account == nil || account.ID == uuid.Nil {
		return "", time.Time{}, goerrors.New("account is required", goerrors.CategoryBadInput)
	}

	now := ts.now()
	expiresAt := now.Add(ts.tokenExpiration)

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   account.ID.String(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: account.Email,
	}

	token, err := ts.SignClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}

	return token, claims.Expires(), nil
}

// SignClaims signs arbitrary claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *SessionClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate checks signature and expiry and returns the claims. It fails
// with ErrTokenMalformed, ErrTokenBadSignature or ErrTokenExpired.
func (ts *TokenServiceImpl) Validate(tokenString string) (*SessionClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("token service rejected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenBadSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Subject() == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}
