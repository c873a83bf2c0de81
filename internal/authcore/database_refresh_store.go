package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for
	// the database URL scheme.
	ErrUnsupportedDialect = errors.New("refresh_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("refresh_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("refresh_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("refresh_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("refresh_store.unsupported_no_scheme")
)

// DatabaseRefreshTokenStore persists hashed refresh tokens using GORM.
type DatabaseRefreshTokenStore struct {
	db          *gorm.DB
	hasher      *CredentialHasher
	clock       Clock
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseRefreshTokenStore) Driver() string {
	return store.driverLabel
}

// DB exposes the underlying handle so collaborators such as the user
// directory can share the connection.
func (store *DatabaseRefreshTokenStore) DB() *gorm.DB {
	return store.db
}

type refreshTokenRow struct {
	ID            string `gorm:"column:id;primaryKey"`
	Subject       string `gorm:"column:subject;index;not null"`
	Fingerprint   string `gorm:"column:fingerprint;not null"`
	ExpiresUnix   int64  `gorm:"column:expires_unix;not null"`
	RevokedAtUnix int64  `gorm:"column:revoked_at_unix;not null;default:0"`
	CreatedUnix   int64  `gorm:"column:created_unix;not null"`
}

func (refreshTokenRow) TableName() string {
	return "refresh_tokens"
}

// OpenDatabase resolves the URL scheme to a GORM dialector and opens a
// connection. Supported schemes: postgres:// (and postgresql://), sqlite://
// (and sqlite3://).
func OpenDatabase(databaseURL string) (*gorm.DB, string, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, "", fmt.Errorf("refresh_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, "", err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, "", fmt.Errorf("refresh_store.open.%s: %w", driverLabel, openErr)
	}
	return gormDB, driverLabel, nil
}

// NewDatabaseRefreshTokenStore opens the database and migrates the
// refresh_tokens table.
func NewDatabaseRefreshTokenStore(ctx context.Context, databaseURL string, hasher *CredentialHasher, clock Clock) (*DatabaseRefreshTokenStore, error) {
	gormDB, driverLabel, openErr := OpenDatabase(databaseURL)
	if openErr != nil {
		return nil, openErr
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&refreshTokenRow{}); migrateErr != nil {
		return nil, fmt.Errorf("refresh_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &DatabaseRefreshTokenStore{
		db:          gormDB,
		hasher:      hasher,
		clock:       clock,
		driverLabel: driverLabel,
	}, nil
}

// Put deletes all prior rows for the subject and inserts a fresh one in a
// single transaction, enforcing the single-active-session baseline.
func (store *DatabaseRefreshTokenStore) Put(ctx context.Context, subject string, rawToken string, ttl time.Duration) (RefreshTokenRecord, error) {
	fingerprint, hashErr := store.hasher.Hash(FingerprintInput(rawToken))
	if hashErr != nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.put.%s: %w", store.driverLabel, hashErr)
	}
	now := store.clock.Now()
	row := refreshTokenRow{
		ID:          uuid.NewString(),
		Subject:     subject,
		Fingerprint: fingerprint,
		ExpiresUnix: now.Add(ttl).Unix(),
		CreatedUnix: now.Unix(),
	}
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if deleteErr := tx.Where("subject = ?", subject).Delete(&refreshTokenRow{}).Error; deleteErr != nil {
			return deleteErr
		}
		return tx.Create(&row).Error
	})
	if txErr != nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.put.%s: %w: %v", store.driverLabel, ErrStorageUnavailable, txErr)
	}
	return recordFromRow(row), nil
}

// FindLive scans the subject's live rows and matches the raw token through
// the hasher's verify.
func (store *DatabaseRefreshTokenStore) FindLive(ctx context.Context, subject string, rawToken string) (RefreshTokenRecord, error) {
	row, findErr := store.matchLiveRow(ctx, subject, rawToken)
	if findErr != nil {
		return RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.%s: %w", store.driverLabel, findErr)
	}
	return recordFromRow(row), nil
}

// Consume locates the matching live row and deletes it by primary key. The
// delete is the commit point: RowsAffected reports whether this caller won,
// so two concurrent redemptions of one token cannot both succeed.
func (store *DatabaseRefreshTokenStore) Consume(ctx context.Context, subject string, rawToken string) error {
	row, findErr := store.matchLiveRow(ctx, subject, rawToken)
	if findErr != nil {
		return fmt.Errorf("refresh_store.consume.%s: %w", store.driverLabel, findErr)
	}
	result := store.db.WithContext(ctx).
		Where("id = ? AND revoked_at_unix = 0", row.ID).
		Delete(&refreshTokenRow{})
	if result.Error != nil {
		return fmt.Errorf("refresh_store.consume.%s: %w: %v", store.driverLabel, ErrStorageUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("refresh_store.consume.%s: %w", store.driverLabel, ErrRefreshConsumedOrUnknown)
	}
	return nil
}

// Revoke deletes the matching live row; an absent token is a no-op.
func (store *DatabaseRefreshTokenStore) Revoke(ctx context.Context, subject string, rawToken string) error {
	consumeErr := store.Consume(ctx, subject, rawToken)
	if consumeErr != nil && !errors.Is(consumeErr, ErrRefreshConsumedOrUnknown) {
		return consumeErr
	}
	return nil
}

// RevokeAll deletes every row for the subject.
func (store *DatabaseRefreshTokenStore) RevokeAll(ctx context.Context, subject string) error {
	result := store.db.WithContext(ctx).Where("subject = ?", subject).Delete(&refreshTokenRow{})
	if result.Error != nil {
		return fmt.Errorf("refresh_store.revoke_all.%s: %w: %v", store.driverLabel, ErrStorageUnavailable, result.Error)
	}
	return nil
}

func (store *DatabaseRefreshTokenStore) matchLiveRow(ctx context.Context, subject string, rawToken string) (refreshTokenRow, error) {
	now := store.clock.Now()
	var rows []refreshTokenRow
	queryErr := store.db.WithContext(ctx).
		Where("subject = ? AND revoked_at_unix = 0 AND expires_unix > ?", subject, now.Unix()).
		Find(&rows).Error
	if queryErr != nil {
		return refreshTokenRow{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, queryErr)
	}
	normalized := FingerprintInput(rawToken)
	for _, row := range rows {
		if store.hasher.Verify(normalized, row.Fingerprint) {
			return row, nil
		}
	}
	return refreshTokenRow{}, ErrRefreshConsumedOrUnknown
}

func recordFromRow(row refreshTokenRow) RefreshTokenRecord {
	return RefreshTokenRecord{
		ID:            row.ID,
		Subject:       row.Subject,
		Fingerprint:   row.Fingerprint,
		ExpiresUnix:   row.ExpiresUnix,
		RevokedAtUnix: row.RevokedAtUnix,
		CreatedUnix:   row.CreatedUnix,
	}
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("refresh_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("refresh_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("refresh_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("refresh_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
