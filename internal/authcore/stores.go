package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// RefreshTokenRecord is the durable trace of an issued refresh token. The raw
// token never persists; only its salted fingerprint does, so a leaked table
// cannot be replayed.
type RefreshTokenRecord struct {
	ID            string
	Subject       string
	Fingerprint   string
	ExpiresUnix   int64
	RevokedAtUnix int64
	CreatedUnix   int64
}

// Live reports whether the record is redeemable at the given instant.
func (record RefreshTokenRecord) Live(now time.Time) bool {
	return record.RevokedAtUnix == 0 && time.Unix(record.ExpiresUnix, 0).After(now)
}

// RefreshTokenStore persists hashed refresh tokens. Matching is always done
// through the credential hasher's verify, never by raw equality: fingerprints
// are salted, so lookups scan the subject's live records. The baseline policy
// keeps at most one live record per subject, which bounds that scan.
//
// Consume must be atomic with respect to concurrent callers for the same
// record: of any set of simultaneous redemptions, at most one succeeds.
type RefreshTokenStore interface {
	// Put supersedes all prior records for the subject and inserts a fresh one
	// expiring at now + ttl.
	Put(ctx context.Context, subject string, rawToken string, ttl time.Duration) (RefreshTokenRecord, error)
	// FindLive returns the live record matching the raw token, or
	// ErrRefreshConsumedOrUnknown when nothing matches.
	FindLive(ctx context.Context, subject string, rawToken string) (RefreshTokenRecord, error)
	// Consume deletes the live record matching the raw token. A miss returns
	// ErrRefreshConsumedOrUnknown.
	Consume(ctx context.Context, subject string, rawToken string) error
	// Revoke is Consume without the miss error; revoking an absent token is a
	// no-op.
	Revoke(ctx context.Context, subject string, rawToken string) error
	// RevokeAll deletes every record for the subject.
	RevokeAll(ctx context.Context, subject string) error
}

// UserDirectory is the user-management collaborator the engine reads from.
// The engine never owns principal lifecycle.
type UserDirectory interface {
	// FindByLogin resolves a principal and its password digest, or
	// ErrPrincipalNotFound.
	FindByLogin(ctx context.Context, login string) (Principal, string, error)
}

// Principal is the directory's view of an account. Subject is the opaque
// identifier carried into token claims.
type Principal struct {
	Subject string
	Roles   []string
	Active  bool
}

// FingerprintInput normalizes a raw token before hashing: compact JWTs exceed
// bcrypt's 72-byte input cap, so the token is pre-digested with SHA-256. The
// stored fingerprint stays salted and adaptive. Every store implementation
// must apply the same normalization before calling the hasher.
func FingerprintInput(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
