package authcorepg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alekolar/authd/internal/authcore"
)

// PostgresRefreshTokenStore persists hashed refresh tokens in PostgreSQL
// through a pgx pool, without the GORM layer. It implements
// authcore.RefreshTokenStore with the same contract as the other stores.
type PostgresRefreshTokenStore struct {
	pool   *pgxpool.Pool
	hasher *authcore.CredentialHasher
	clock  authcore.Clock
}

// NewPostgresRefreshTokenStore constructs a pgx-backed store.
func NewPostgresRefreshTokenStore(pool *pgxpool.Pool, hasher *authcore.CredentialHasher, clock authcore.Clock) *PostgresRefreshTokenStore {
	if clock == nil {
		clock = authcore.NewSystemClock()
	}
	return &PostgresRefreshTokenStore{pool: pool, hasher: hasher, clock: clock}
}

// Put deletes all prior rows for the subject and inserts a fresh one in a
// single transaction.
func (store *PostgresRefreshTokenStore) Put(ctx context.Context, subject string, rawToken string, ttl time.Duration) (authcore.RefreshTokenRecord, error) {
	fingerprint, hashErr := store.hasher.Hash(authcore.FingerprintInput(rawToken))
	if hashErr != nil {
		return authcore.RefreshTokenRecord{}, fmt.Errorf("refresh_store.put.pgx: %w", hashErr)
	}
	now := store.clock.Now()
	record := authcore.RefreshTokenRecord{
		ID:          uuid.NewString(),
		Subject:     subject,
		Fingerprint: fingerprint,
		ExpiresUnix: now.Add(ttl).Unix(),
		CreatedUnix: now.Unix(),
	}

	txErr := pgx.BeginFunc(ctx, store.pool, func(tx pgx.Tx) error {
		if _, deleteErr := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE subject = $1`, subject); deleteErr != nil {
			return deleteErr
		}
		_, insertErr := tx.Exec(ctx, `
INSERT INTO refresh_tokens (id, subject, fingerprint, expires_unix, revoked_at_unix, created_unix)
VALUES ($1, $2, $3, $4, 0, $5)
`, record.ID, record.Subject, record.Fingerprint, record.ExpiresUnix, record.CreatedUnix)
		return insertErr
	})
	if txErr != nil {
		return authcore.RefreshTokenRecord{}, fmt.Errorf("refresh_store.put.pgx: %w: %v", authcore.ErrStorageUnavailable, txErr)
	}
	return record, nil
}

// FindLive scans the subject's live rows and matches the raw token through
// the hasher's verify.
func (store *PostgresRefreshTokenStore) FindLive(ctx context.Context, subject string, rawToken string) (authcore.RefreshTokenRecord, error) {
	record, findErr := store.matchLiveRow(ctx, subject, rawToken)
	if findErr != nil {
		return authcore.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.pgx: %w", findErr)
	}
	return record, nil
}

// Consume deletes the matched row by primary key; the delete's affected-row
// count decides the winner among concurrent redemptions.
func (store *PostgresRefreshTokenStore) Consume(ctx context.Context, subject string, rawToken string) error {
	record, findErr := store.matchLiveRow(ctx, subject, rawToken)
	if findErr != nil {
		return fmt.Errorf("refresh_store.consume.pgx: %w", findErr)
	}
	tag, execErr := store.pool.Exec(ctx, `
DELETE FROM refresh_tokens WHERE id = $1 AND revoked_at_unix = 0
`, record.ID)
	if execErr != nil {
		return fmt.Errorf("refresh_store.consume.pgx: %w: %v", authcore.ErrStorageUnavailable, execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refresh_store.consume.pgx: %w", authcore.ErrRefreshConsumedOrUnknown)
	}
	return nil
}

// Revoke deletes the matched row; an absent token is a no-op.
func (store *PostgresRefreshTokenStore) Revoke(ctx context.Context, subject string, rawToken string) error {
	consumeErr := store.Consume(ctx, subject, rawToken)
	if consumeErr != nil && !errors.Is(consumeErr, authcore.ErrRefreshConsumedOrUnknown) {
		return consumeErr
	}
	return nil
}

// RevokeAll deletes every row for the subject.
func (store *PostgresRefreshTokenStore) RevokeAll(ctx context.Context, subject string) error {
	if _, execErr := store.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE subject = $1`, subject); execErr != nil {
		return fmt.Errorf("refresh_store.revoke_all.pgx: %w: %v", authcore.ErrStorageUnavailable, execErr)
	}
	return nil
}

func (store *PostgresRefreshTokenStore) matchLiveRow(ctx context.Context, subject string, rawToken string) (authcore.RefreshTokenRecord, error) {
	now := store.clock.Now()
	rows, queryErr := store.pool.Query(ctx, `
SELECT id, subject, fingerprint, expires_unix, revoked_at_unix, created_unix
FROM refresh_tokens
WHERE subject = $1 AND revoked_at_unix = 0 AND expires_unix > $2
`, subject, now.Unix())
	if queryErr != nil {
		return authcore.RefreshTokenRecord{}, fmt.Errorf("%w: %v", authcore.ErrStorageUnavailable, queryErr)
	}
	defer rows.Close()

	normalized := authcore.FingerprintInput(rawToken)
	for rows.Next() {
		var record authcore.RefreshTokenRecord
		if scanErr := rows.Scan(&record.ID, &record.Subject, &record.Fingerprint, &record.ExpiresUnix, &record.RevokedAtUnix, &record.CreatedUnix); scanErr != nil {
			return authcore.RefreshTokenRecord{}, fmt.Errorf("%w: %v", authcore.ErrStorageUnavailable, scanErr)
		}
		if store.hasher.Verify(normalized, record.Fingerprint) {
			return record, nil
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return authcore.RefreshTokenRecord{}, fmt.Errorf("%w: %v", authcore.ErrStorageUnavailable, rowsErr)
	}
	return authcore.RefreshTokenRecord{}, authcore.ErrRefreshConsumedOrUnknown
}
