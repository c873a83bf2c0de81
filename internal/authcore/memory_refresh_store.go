package authcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRefreshTokenStore is a mutex-guarded store intended for tests and
// local runs. The mutex makes Consume's find-then-delete a single atomic unit.
type MemoryRefreshTokenStore struct {
	mutex   sync.Mutex
	hasher  *CredentialHasher
	clock   Clock
	records map[string][]RefreshTokenRecord
}

// NewMemoryRefreshTokenStore creates an empty in-memory token store.
func NewMemoryRefreshTokenStore(hasher *CredentialHasher, clock Clock) *MemoryRefreshTokenStore {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &MemoryRefreshTokenStore{
		hasher:  hasher,
		clock:   clock,
		records: make(map[string][]RefreshTokenRecord),
	}
}

// Put supersedes all prior records for the subject and inserts a fresh one.
func (store *MemoryRefreshTokenStore) Put(ctx context.Context, subject string, rawToken string, ttl time.Duration) (RefreshTokenRecord, error) {
	fingerprint, hashErr := store.hasher.Hash(FingerprintInput(rawToken))
	if hashErr != nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.put.memory: %w", hashErr)
	}
	now := store.clock.Now()
	record := RefreshTokenRecord{
		ID:          uuid.NewString(),
		Subject:     subject,
		Fingerprint: fingerprint,
		ExpiresUnix: now.Add(ttl).Unix(),
		CreatedUnix: now.Unix(),
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.records[subject] = []RefreshTokenRecord{record}
	return record, nil
}

// FindLive returns the live record matching the raw token.
func (store *MemoryRefreshTokenStore) FindLive(ctx context.Context, subject string, rawToken string) (RefreshTokenRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	index := store.matchLocked(subject, rawToken)
	if index < 0 {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.memory: %w", ErrRefreshConsumedOrUnknown)
	}
	return store.records[subject][index], nil
}

// Consume deletes the live record matching the raw token under a single lock
// acquisition, so of two concurrent redemptions exactly one finds the record.
func (store *MemoryRefreshTokenStore) Consume(ctx context.Context, subject string, rawToken string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	index := store.matchLocked(subject, rawToken)
	if index < 0 {
		return fmt.Errorf("refresh_store.consume.memory: %w", ErrRefreshConsumedOrUnknown)
	}
	remaining := store.records[subject]
	store.records[subject] = append(remaining[:index], remaining[index+1:]...)
	if len(store.records[subject]) == 0 {
		delete(store.records, subject)
	}
	return nil
}

// Revoke deletes the matching live record; an absent token is a no-op.
func (store *MemoryRefreshTokenStore) Revoke(ctx context.Context, subject string, rawToken string) error {
	consumeErr := store.Consume(ctx, subject, rawToken)
	if consumeErr != nil && !errors.Is(consumeErr, ErrRefreshConsumedOrUnknown) {
		return consumeErr
	}
	return nil
}

// RevokeAll deletes every record for the subject.
func (store *MemoryRefreshTokenStore) RevokeAll(ctx context.Context, subject string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.records, subject)
	return nil
}

func (store *MemoryRefreshTokenStore) matchLocked(subject string, rawToken string) int {
	now := store.clock.Now()
	normalized := FingerprintInput(rawToken)
	for index, record := range store.records[subject] {
		if !record.Live(now) {
			continue
		}
		if store.hasher.Verify(normalized, record.Fingerprint) {
			return index
		}
	}
	return -1
}
