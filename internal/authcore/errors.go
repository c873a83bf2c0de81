package authcore

import "errors"

var (
	// ErrInvalidCredentials covers unknown logins and wrong passwords alike,
	// so callers cannot enumerate which logins exist.
	ErrInvalidCredentials = errors.New("authcore.invalid_credentials")
	// ErrTokenInvalid indicates a malformed, forged, or wrong-domain token.
	ErrTokenInvalid = errors.New("authcore.token_invalid")
	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("authcore.token_expired")
	// ErrRefreshConsumedOrUnknown indicates the refresh token matched no live
	// record: never issued, already rotated, revoked, or naturally expired.
	// The cases are indistinguishable to the caller.
	ErrRefreshConsumedOrUnknown = errors.New("authcore.refresh_consumed_or_unknown")
	// ErrStorageUnavailable indicates the persistence layer failed or timed
	// out. Safe to retry; never a credential failure.
	ErrStorageUnavailable = errors.New("authcore.storage_unavailable")
	// ErrPrincipalNotFound is returned by directory lookups that miss.
	ErrPrincipalNotFound = errors.New("authcore.principal_not_found")
	// ErrSubjectMissing indicates a claim set without a subject.
	ErrSubjectMissing = errors.New("authcore.subject_missing")
)
