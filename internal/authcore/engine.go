package authcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const bearerTokenType = "bearer"

// TokenPair is the issued credential pair. It is never persisted as a unit;
// only the refresh half leaves a durable trace, as a hashed record.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Identity is the authenticated view of a principal, resolved from an access
// token without touching the store.
type Identity struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

// Engine orchestrates the token codec, the refresh token store, the credential
// hasher, and the user directory into the four boundary operations. It is the
// only place where rotation correctness is enforced.
type Engine struct {
	config    Config
	codec     *TokenCodec
	hasher    *CredentialHasher
	store     RefreshTokenStore
	directory UserDirectory
	metrics   MetricsRecorder
	logger    *zap.Logger
}

// NewEngine wires the engine's collaborators. Metrics and logger may be nil.
func NewEngine(config Config, codec *TokenCodec, hasher *CredentialHasher, store RefreshTokenStore, directory UserDirectory, metrics MetricsRecorder, logger *zap.Logger) *Engine {
	if metrics == nil {
		metrics = NewCounterMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config:    config,
		codec:     codec,
		hasher:    hasher,
		store:     store,
		directory: directory,
		metrics:   metrics,
		logger:    logger,
	}
}

// Login verifies the password against the directory's digest and issues a
// fresh pair. Unknown logins, wrong passwords, and inactive principals all
// report ErrInvalidCredentials.
func (engine *Engine) Login(ctx context.Context, login string, password string) (TokenPair, error) {
	principal, passwordDigest, lookupErr := engine.directory.FindByLogin(ctx, login)
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrPrincipalNotFound) {
			engine.metrics.Increment("login.rejected")
			return TokenPair{}, fmt.Errorf("engine.login: %w", ErrInvalidCredentials)
		}
		engine.metrics.Increment("storage.error")
		return TokenPair{}, fmt.Errorf("engine.login: %w: %v", ErrStorageUnavailable, lookupErr)
	}
	if !principal.Active || !engine.hasher.Verify(password, passwordDigest) {
		engine.metrics.Increment("login.rejected")
		return TokenPair{}, fmt.Errorf("engine.login: %w", ErrInvalidCredentials)
	}

	pair, issueErr := engine.issue(ctx, principal.Subject, principal.Roles)
	if issueErr != nil {
		return TokenPair{}, issueErr
	}
	engine.metrics.Increment("login.success")
	engine.logger.Info("login", zap.String("subject", principal.Subject))
	return pair, nil
}

// Refresh redeems a refresh token for a new pair. The matched store record is
// consumed before the new pair exists (rotate-then-reissue), so a crash in
// between leaves the subject logged out rather than with two live tokens.
func (engine *Engine) Refresh(ctx context.Context, rawRefreshToken string) (TokenPair, error) {
	claims, decodeErr := engine.codec.Decode(rawRefreshToken, DomainRefresh)
	if decodeErr != nil {
		engine.metrics.Increment("refresh.rejected")
		return TokenPair{}, fmt.Errorf("engine.refresh: %w", decodeErr)
	}

	if consumeErr := engine.store.Consume(ctx, claims.Subject, rawRefreshToken); consumeErr != nil {
		if errors.Is(consumeErr, ErrStorageUnavailable) {
			engine.metrics.Increment("storage.error")
			return TokenPair{}, fmt.Errorf("engine.refresh: %w", consumeErr)
		}
		// A subject with zero live records reads the same as a consumed token;
		// the caller never learns which.
		engine.metrics.Increment("refresh.rejected")
		return TokenPair{}, fmt.Errorf("engine.refresh: %w", ErrRefreshConsumedOrUnknown)
	}

	pair, issueErr := engine.issue(ctx, claims.Subject, claims.Roles)
	if issueErr != nil {
		return TokenPair{}, issueErr
	}
	engine.metrics.Increment("refresh.rotated")
	engine.logger.Info("refresh rotated", zap.String("subject", claims.Subject))
	return pair, nil
}

// Authenticate verifies an access token by signature and expiry alone; no
// store lookup happens on this path.
func (engine *Engine) Authenticate(ctx context.Context, rawAccessToken string) (Identity, error) {
	claims, decodeErr := engine.codec.Decode(rawAccessToken, DomainAccess)
	if decodeErr != nil {
		engine.metrics.Increment("authenticate.rejected")
		return Identity{}, fmt.Errorf("engine.authenticate: %w", decodeErr)
	}
	return Identity{Subject: claims.Subject, Roles: claims.Roles}, nil
}

// Logout revokes every refresh record for the subject.
func (engine *Engine) Logout(ctx context.Context, subject string) error {
	if revokeErr := engine.store.RevokeAll(ctx, subject); revokeErr != nil {
		engine.metrics.Increment("storage.error")
		return fmt.Errorf("engine.logout: %w", revokeErr)
	}
	engine.metrics.Increment("logout")
	engine.logger.Info("logout", zap.String("subject", subject))
	return nil
}

// issue mints both halves of a pair and persists the refresh fingerprint.
// Roles ride in both tokens: access tokens feed the role gate, refresh tokens
// carry them forward through rotation.
func (engine *Engine) issue(ctx context.Context, subject string, roles []string) (TokenPair, error) {
	accessToken, _, accessErr := engine.codec.Encode(subject, roles, DomainAccess, engine.config.AccessTTL)
	if accessErr != nil {
		return TokenPair{}, fmt.Errorf("engine.issue.access: %w", accessErr)
	}
	refreshToken, _, refreshErr := engine.codec.Encode(subject, roles, DomainRefresh, engine.config.RefreshTTL)
	if refreshErr != nil {
		return TokenPair{}, fmt.Errorf("engine.issue.refresh: %w", refreshErr)
	}
	if _, putErr := engine.store.Put(ctx, subject, refreshToken, engine.config.RefreshTTL); putErr != nil {
		engine.metrics.Increment("storage.error")
		return TokenPair{}, fmt.Errorf("engine.issue.persist: %w", putErr)
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    bearerTokenType,
	}, nil
}
