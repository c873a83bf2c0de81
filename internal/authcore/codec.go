package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenDomain selects the signing key and the embedded type claim.
type TokenDomain string

const (
	// DomainAccess marks short-lived tokens verified by signature alone.
	DomainAccess TokenDomain = "access"
	// DomainRefresh marks long-lived tokens redeemable through the store.
	DomainRefresh TokenDomain = "refresh"
)

// TokenClaims are embedded in every issued token. The type claim discriminates
// the signing domain so a refresh token can never pass as an access token even
// if the keys were ever shared by mistake.
type TokenClaims struct {
	TokenType string   `json:"type"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies claim sets under two independent HS256 keys,
// one per domain. It is stateless and safe for concurrent use.
type TokenCodec struct {
	accessKey  []byte
	refreshKey []byte
	issuer     string
	clock      Clock
}

// NewTokenCodec constructs a codec bound to the configured keys.
func NewTokenCodec(config Config, clock Clock) *TokenCodec {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &TokenCodec{
		accessKey:  config.AccessSigningKey,
		refreshKey: config.RefreshSigningKey,
		issuer:     config.Issuer,
		clock:      clock,
	}
}

// Encode signs a claim set for the subject under the requested domain with
// exp = now + ttl.
func (codec *TokenCodec) Encode(subject string, roles []string, domain TokenDomain, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("codec.encode.%s: %w", domain, ErrSubjectMissing)
	}
	signingKey, keyErr := codec.keyFor(domain)
	if keyErr != nil {
		return "", time.Time{}, keyErr
	}
	issuedAt := codec.clock.Now()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		TokenType: string(domain),
		Roles:     roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(signingKey)
	if signErr != nil {
		return "", time.Time{}, fmt.Errorf("codec.encode.%s: %w", domain, signErr)
	}
	return signed, expiresAt, nil
}

// Decode verifies signature, expiry, and the embedded type claim under the
// requested domain. Any mismatch fails closed as ErrTokenInvalid; a token
// that verifies but is past exp fails as ErrTokenExpired.
func (codec *TokenCodec) Decode(tokenString string, domain TokenDomain) (*TokenClaims, error) {
	signingKey, keyErr := codec.keyFor(domain)
	if keyErr != nil {
		return nil, keyErr
	}
	parsed, parseErr := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(codec.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("codec.decode.%s: %w", domain, ErrTokenExpired)
		}
		return nil, fmt.Errorf("codec.decode.%s: %w", domain, ErrTokenInvalid)
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("codec.decode.%s: %w", domain, ErrTokenInvalid)
	}
	if claims.TokenType != string(domain) {
		return nil, fmt.Errorf("codec.decode.%s: %w", domain, ErrTokenInvalid)
	}
	if codec.issuer != "" && claims.Issuer != codec.issuer {
		return nil, fmt.Errorf("codec.decode.%s: %w", domain, ErrTokenInvalid)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("codec.decode.%s: %w", domain, ErrTokenInvalid)
	}
	return claims, nil
}

func (codec *TokenCodec) keyFor(domain TokenDomain) ([]byte, error) {
	switch domain {
	case DomainAccess:
		return codec.accessKey, nil
	case DomainRefresh:
		return codec.refreshKey, nil
	default:
		return nil, fmt.Errorf("codec.domain.%s: %w", domain, ErrTokenInvalid)
	}
}
