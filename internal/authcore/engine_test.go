package authcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stubDirectory struct {
	principals map[string]Principal
	digests    map[string]string
	lookupErr  error
}

func (directory *stubDirectory) FindByLogin(ctx context.Context, login string) (Principal, string, error) {
	if directory.lookupErr != nil {
		return Principal{}, "", directory.lookupErr
	}
	principal, ok := directory.principals[login]
	if !ok {
		return Principal{}, "", ErrPrincipalNotFound
	}
	return principal, directory.digests[login], nil
}

type failingStore struct{}

func (failingStore) Put(ctx context.Context, subject string, rawToken string, ttl time.Duration) (RefreshTokenRecord, error) {
	return RefreshTokenRecord{}, fmt.Errorf("refresh_store.put.stub: %w", ErrStorageUnavailable)
}

func (failingStore) FindLive(ctx context.Context, subject string, rawToken string) (RefreshTokenRecord, error) {
	return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.stub: %w", ErrStorageUnavailable)
}

func (failingStore) Consume(ctx context.Context, subject string, rawToken string) error {
	return fmt.Errorf("refresh_store.consume.stub: %w", ErrStorageUnavailable)
}

func (failingStore) Revoke(ctx context.Context, subject string, rawToken string) error {
	return fmt.Errorf("refresh_store.revoke.stub: %w", ErrStorageUnavailable)
}

func (failingStore) RevokeAll(ctx context.Context, subject string) error {
	return fmt.Errorf("refresh_store.revoke_all.stub: %w", ErrStorageUnavailable)
}

func newTestEngine(t *testing.T, clock Clock) (*Engine, *CounterMetrics) {
	t.Helper()

	hasher := testStoreHasher()
	digest, hashErr := hasher.Hash("Str0ngP@ss")
	if hashErr != nil {
		t.Fatalf("hash error: %v", hashErr)
	}
	directory := &stubDirectory{
		principals: map[string]Principal{
			"Abc1_test": {Subject: "Abc1_test", Roles: []string{"user"}, Active: true},
			"Dormant1":  {Subject: "Dormant1", Roles: []string{"user"}, Active: false},
		},
		digests: map[string]string{
			"Abc1_test": digest,
			"Dormant1":  digest,
		},
	}
	config := testCodecConfig()
	codec := NewTokenCodec(config, clock)
	store := NewMemoryRefreshTokenStore(hasher, clock)
	metrics := NewCounterMetrics()
	return NewEngine(config, codec, hasher, store, directory, metrics, nil), metrics
}

func TestEngineLoginScenario(t *testing.T) {
	t.Parallel()

	clock := &movableClock{current: time.Unix(1700000000, 0).UTC()}
	engine, metrics := newTestEngine(t, clock)

	pair, loginErr := engine.Login(context.Background(), "Abc1_test", "Str0ngP@ss")
	if loginErr != nil {
		t.Fatalf("login failed: %v", loginErr)
	}
	if pair.TokenType != "bearer" {
		t.Fatalf("expected bearer token type, got %s", pair.TokenType)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.AccessToken == pair.RefreshToken {
		t.Fatalf("expected two distinct tokens")
	}

	identity, authErr := engine.Authenticate(context.Background(), pair.AccessToken)
	if authErr != nil {
		t.Fatalf("authenticate failed: %v", authErr)
	}
	if identity.Subject != "Abc1_test" {
		t.Fatalf("expected subject Abc1_test, got %s", identity.Subject)
	}
	if len(identity.Roles) != 1 || identity.Roles[0] != "user" {
		t.Fatalf("expected roles [user], got %v", identity.Roles)
	}

	// The refresh token must never authenticate as an access token.
	if _, err := engine.Authenticate(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected refresh token rejected on access path, got %v", err)
	}

	rotated, refreshErr := engine.Refresh(context.Background(), pair.RefreshToken)
	if refreshErr != nil {
		t.Fatalf("refresh failed: %v", refreshErr)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatalf("expected rotation to mint a new refresh token")
	}

	// The redeemed token is gone for good.
	if _, err := engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrRefreshConsumedOrUnknown) {
		t.Fatalf("expected consumed token to be rejected, got %v", err)
	}
	if _, err := engine.Refresh(context.Background(), rotated.RefreshToken); err != nil {
		t.Fatalf("expected the rotated token to refresh, got %v", err)
	}

	if metrics.Count("login.success") != 1 {
		t.Fatalf("expected one login.success, got %d", metrics.Count("login.success"))
	}
	if metrics.Count("refresh.rotated") != 2 {
		t.Fatalf("expected two refresh.rotated, got %d", metrics.Count("refresh.rotated"))
	}
	if metrics.Count("refresh.rejected") != 1 {
		t.Fatalf("expected one refresh.rejected, got %d", metrics.Count("refresh.rejected"))
	}
}

func TestEngineLoginRejections(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, &movableClock{current: time.Unix(1700000000, 0).UTC()})

	testCases := []struct {
		name     string
		login    string
		password string
	}{
		{name: "unknown login", login: "Nobody1_x", password: "Str0ngP@ss"},
		{name: "wrong password", login: "Abc1_test", password: "Wr0ngP@ss"},
		{name: "inactive principal", login: "Dormant1", password: "Str0ngP@ss"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := engine.Login(context.Background(), testCase.login, testCase.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestEngineRefreshRejectsForgedAndExpiredTokens(t *testing.T) {
	t.Parallel()

	clock := &movableClock{current: time.Unix(1700000000, 0).UTC()}
	engine, _ := newTestEngine(t, clock)

	if _, err := engine.Refresh(context.Background(), "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}

	// An access token presented on the refresh path fails closed.
	pair, loginErr := engine.Login(context.Background(), "Abc1_test", "Str0ngP@ss")
	if loginErr != nil {
		t.Fatalf("login failed: %v", loginErr)
	}
	if _, err := engine.Refresh(context.Background(), pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for access token, got %v", err)
	}

	// A refresh token past its exp is rejected by the codec before the store.
	clock.Advance(8 * 24 * time.Hour)
	if _, err := engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestEngineConcurrentRefreshSingleWinner(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, &movableClock{current: time.Unix(1700000000, 0).UTC()})
	pair, loginErr := engine.Login(context.Background(), "Abc1_test", "Str0ngP@ss")
	if loginErr != nil {
		t.Fatalf("login failed: %v", loginErr)
	}

	var waitGroup sync.WaitGroup
	results := make([]error, 2)
	for attempt := 0; attempt < 2; attempt++ {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			_, results[slot] = engine.Refresh(context.Background(), pair.RefreshToken)
		}(attempt)
	}
	waitGroup.Wait()

	successes := 0
	for _, result := range results {
		if result == nil {
			successes++
		} else if !errors.Is(result, ErrRefreshConsumedOrUnknown) {
			t.Fatalf("unexpected refresh error: %v", result)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winning refresh, got %d", successes)
	}
}

func TestEngineLogoutEndsTheSession(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, &movableClock{current: time.Unix(1700000000, 0).UTC()})
	pair, loginErr := engine.Login(context.Background(), "Abc1_test", "Str0ngP@ss")
	if loginErr != nil {
		t.Fatalf("login failed: %v", loginErr)
	}

	if logoutErr := engine.Logout(context.Background(), "Abc1_test"); logoutErr != nil {
		t.Fatalf("logout failed: %v", logoutErr)
	}
	if _, err := engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrRefreshConsumedOrUnknown) {
		t.Fatalf("expected refresh after logout to fail, got %v", err)
	}
}

func TestEngineStorageFailuresStayDistinctFromAuthFailures(t *testing.T) {
	t.Parallel()

	clock := &movableClock{current: time.Unix(1700000000, 0).UTC()}
	hasher := testStoreHasher()
	digest, hashErr := hasher.Hash("Str0ngP@ss")
	if hashErr != nil {
		t.Fatalf("hash error: %v", hashErr)
	}
	directory := &stubDirectory{
		principals: map[string]Principal{"Abc1_test": {Subject: "Abc1_test", Active: true}},
		digests:    map[string]string{"Abc1_test": digest},
	}
	config := testCodecConfig()
	codec := NewTokenCodec(config, clock)
	engine := NewEngine(config, codec, hasher, failingStore{}, directory, nil, nil)

	_, loginErr := engine.Login(context.Background(), "Abc1_test", "Str0ngP@ss")
	if !errors.Is(loginErr, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", loginErr)
	}
	if errors.Is(loginErr, ErrInvalidCredentials) {
		t.Fatalf("a storage failure must never read as a credential failure")
	}

	refreshToken, _, encodeErr := codec.Encode("Abc1_test", nil, DomainRefresh, time.Hour)
	if encodeErr != nil {
		t.Fatalf("encode error: %v", encodeErr)
	}
	_, refreshErr := engine.Refresh(context.Background(), refreshToken)
	if !errors.Is(refreshErr, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", refreshErr)
	}
	if errors.Is(refreshErr, ErrRefreshConsumedOrUnknown) {
		t.Fatalf("a storage failure must never burn the client's token")
	}

	if err := engine.Logout(context.Background(), "Abc1_test"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable on logout, got %v", err)
	}
}

func TestEngineDirectoryFailurePropagatesAsStorageError(t *testing.T) {
	t.Parallel()

	clock := fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}
	hasher := testStoreHasher()
	directory := &stubDirectory{lookupErr: errors.New("connection reset")}
	config := testCodecConfig()
	engine := NewEngine(config, NewTokenCodec(config, clock), hasher, NewMemoryRefreshTokenStore(hasher, clock), directory, nil, nil)

	_, err := engine.Login(context.Background(), "Abc1_test", "Str0ngP@ss")
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
