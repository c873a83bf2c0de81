package authcore

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

type movableClock struct {
	current time.Time
}

func (clock *movableClock) Now() time.Time {
	return clock.current
}

func (clock *movableClock) Advance(duration time.Duration) {
	clock.current = clock.current.Add(duration)
}

func testCodecConfig() Config {
	return Config{
		AccessSigningKey:  []byte("access-signing-key"),
		RefreshSigningKey: []byte("refresh-signing-key"),
		Issuer:            "authd-test",
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
	}
}

func TestTokenCodecRoundTrip(t *testing.T) {
	t.Parallel()

	clock := fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}
	codec := NewTokenCodec(testCodecConfig(), clock)

	for _, domain := range []TokenDomain{DomainAccess, DomainRefresh} {
		token, expiresAt, encodeErr := codec.Encode("Abc1_test", []string{"user", "editor"}, domain, time.Hour)
		if encodeErr != nil {
			t.Fatalf("encode %s error: %v", domain, encodeErr)
		}
		if strings.Count(token, ".") != 2 {
			t.Fatalf("expected compact three-segment token, got %q", token)
		}
		if !expiresAt.Equal(clock.timestamp.Add(time.Hour)) {
			t.Fatalf("expected expiry %v, got %v", clock.timestamp.Add(time.Hour), expiresAt)
		}

		claims, decodeErr := codec.Decode(token, domain)
		if decodeErr != nil {
			t.Fatalf("decode %s error: %v", domain, decodeErr)
		}
		if claims.Subject != "Abc1_test" {
			t.Fatalf("expected subject Abc1_test, got %s", claims.Subject)
		}
		if claims.TokenType != string(domain) {
			t.Fatalf("expected type %s, got %s", domain, claims.TokenType)
		}
		if len(claims.Roles) != 2 || claims.Roles[0] != "user" || claims.Roles[1] != "editor" {
			t.Fatalf("expected roles to survive the round trip, got %v", claims.Roles)
		}
	}
}

func TestTokenCodecDomainIsolation(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec(testCodecConfig(), fixedClock{timestamp: time.Unix(1700000000, 0).UTC()})

	accessToken, _, accessErr := codec.Encode("Abc1_test", nil, DomainAccess, time.Hour)
	refreshToken, _, refreshErr := codec.Encode("Abc1_test", nil, DomainRefresh, time.Hour)
	if accessErr != nil || refreshErr != nil {
		t.Fatalf("encode errors: %v %v", accessErr, refreshErr)
	}

	if _, err := codec.Decode(refreshToken, DomainAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token must not decode under access domain, got %v", err)
	}
	if _, err := codec.Decode(accessToken, DomainRefresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token must not decode under refresh domain, got %v", err)
	}
}

func TestTokenCodecTypeClaimCheckedEvenWithSharedKeys(t *testing.T) {
	t.Parallel()

	// Deliberately misconfigured: both domains share one key. The embedded
	// type claim must still keep the domains apart.
	config := testCodecConfig()
	config.RefreshSigningKey = config.AccessSigningKey
	codec := NewTokenCodec(config, fixedClock{timestamp: time.Unix(1700000000, 0).UTC()})

	refreshToken, _, encodeErr := codec.Encode("Abc1_test", nil, DomainRefresh, time.Hour)
	if encodeErr != nil {
		t.Fatalf("encode error: %v", encodeErr)
	}
	if _, err := codec.Decode(refreshToken, DomainAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("type claim must fail cross-domain decode, got %v", err)
	}
}

func TestTokenCodecExpiry(t *testing.T) {
	t.Parallel()

	clock := &movableClock{current: time.Unix(1700000000, 0).UTC()}
	codec := NewTokenCodec(testCodecConfig(), clock)

	token, _, encodeErr := codec.Encode("Abc1_test", nil, DomainAccess, time.Minute)
	if encodeErr != nil {
		t.Fatalf("encode error: %v", encodeErr)
	}
	if _, err := codec.Decode(token, DomainAccess); err != nil {
		t.Fatalf("expected token valid before expiry, got %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := codec.Decode(token, DomainAccess); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired after expiry, got %v", err)
	}
}

func TestTokenCodecRejectsGarbage(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec(testCodecConfig(), fixedClock{timestamp: time.Unix(1700000000, 0).UTC()})

	for _, tokenString := range []string{"", "garbage", "a.b.c"} {
		if _, err := codec.Decode(tokenString, DomainAccess); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid for %q, got %v", tokenString, err)
		}
	}
}

func TestTokenCodecRejectsWrongIssuer(t *testing.T) {
	t.Parallel()

	clock := fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}
	other := testCodecConfig()
	other.Issuer = "someone-else"
	foreignCodec := NewTokenCodec(other, clock)
	codec := NewTokenCodec(testCodecConfig(), clock)

	token, _, encodeErr := foreignCodec.Encode("Abc1_test", nil, DomainAccess, time.Hour)
	if encodeErr != nil {
		t.Fatalf("encode error: %v", encodeErr)
	}
	if _, err := codec.Decode(token, DomainAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign issuer, got %v", err)
	}
}

func TestTokenCodecEncodeRejectsEmptySubject(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec(testCodecConfig(), fixedClock{timestamp: time.Unix(1700000000, 0).UTC()})
	if _, _, err := codec.Encode("  ", nil, DomainAccess, time.Hour); !errors.Is(err, ErrSubjectMissing) {
		t.Fatalf("expected ErrSubjectMissing, got %v", err)
	}
}
