package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/alekolar/authd/internal/authcore"
)

type userRow struct {
	ID             string `gorm:"column:id;primaryKey"`
	Username       string `gorm:"column:username;not null"`
	Email          string `gorm:"column:email;uniqueIndex;not null"`
	Age            int    `gorm:"column:age;not null"`
	Login          string `gorm:"column:login;uniqueIndex;not null"`
	PasswordDigest string `gorm:"column:password_digest;not null"`
	Roles          string `gorm:"column:roles;not null;default:''"`
	Active         bool   `gorm:"column:active;not null;default:true"`
	CreatedUnix    int64  `gorm:"column:created_unix;not null"`
}

func (userRow) TableName() string {
	return "users"
}

// DatabaseDirectory persists accounts with GORM, sharing the refresh store's
// database handle.
type DatabaseDirectory struct {
	db     *gorm.DB
	hasher *authcore.CredentialHasher
}

// NewDatabaseDirectory migrates the users table on the provided handle.
func NewDatabaseDirectory(ctx context.Context, db *gorm.DB, hasher *authcore.CredentialHasher) (*DatabaseDirectory, error) {
	if migrateErr := db.WithContext(ctx).AutoMigrate(&userRow{}); migrateErr != nil {
		return nil, fmt.Errorf("directory.migrate: %w", migrateErr)
	}
	return &DatabaseDirectory{db: db, hasher: hasher}, nil
}

// Register validates the payload, hashes the password, and inserts the row.
// Uniqueness races resolve at the database's unique indexes.
func (store *DatabaseDirectory) Register(ctx context.Context, user NewUser) (authcore.Principal, error) {
	if validateErr := ValidateNewUser(user); validateErr != nil {
		return authcore.Principal{}, validateErr
	}

	var count int64
	if countErr := store.db.WithContext(ctx).Model(&userRow{}).Where("login = ?", user.Login).Count(&count).Error; countErr != nil {
		return authcore.Principal{}, fmt.Errorf("directory.register: %w: %v", authcore.ErrStorageUnavailable, countErr)
	}
	if count > 0 {
		return authcore.Principal{}, ErrLoginTaken
	}
	if countErr := store.db.WithContext(ctx).Model(&userRow{}).Where("email = ?", user.Email).Count(&count).Error; countErr != nil {
		return authcore.Principal{}, fmt.Errorf("directory.register: %w: %v", authcore.ErrStorageUnavailable, countErr)
	}
	if count > 0 {
		return authcore.Principal{}, ErrEmailTaken
	}

	passwordDigest, hashErr := store.hasher.Hash(user.Password)
	if hashErr != nil {
		return authcore.Principal{}, fmt.Errorf("directory.register: %w", hashErr)
	}
	row := userRow{
		ID:             uuid.NewString(),
		Username:       user.Username,
		Email:          user.Email,
		Age:            user.Age,
		Login:          user.Login,
		PasswordDigest: passwordDigest,
		Roles:          "user",
		Active:         true,
		CreatedUnix:    time.Now().UTC().Unix(),
	}
	if createErr := store.db.WithContext(ctx).Create(&row).Error; createErr != nil {
		return authcore.Principal{}, fmt.Errorf("directory.register: %w: %v", authcore.ErrStorageUnavailable, createErr)
	}
	return principalFromRow(row), nil
}

// FindByLogin resolves a principal and its password digest.
func (store *DatabaseDirectory) FindByLogin(ctx context.Context, login string) (authcore.Principal, string, error) {
	var row userRow
	findErr := store.db.WithContext(ctx).Where("login = ?", login).Take(&row).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return authcore.Principal{}, "", authcore.ErrPrincipalNotFound
		}
		return authcore.Principal{}, "", fmt.Errorf("directory.find: %w: %v", authcore.ErrStorageUnavailable, findErr)
	}
	return principalFromRow(row), row.PasswordDigest, nil
}

// SetRoles replaces an account's role labels, for seeding admin accounts.
func (store *DatabaseDirectory) SetRoles(ctx context.Context, login string, roles []string) error {
	result := store.db.WithContext(ctx).Model(&userRow{}).
		Where("login = ?", login).
		Update("roles", strings.Join(roles, ","))
	if result.Error != nil {
		return fmt.Errorf("directory.set_roles: %w: %v", authcore.ErrStorageUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return authcore.ErrPrincipalNotFound
	}
	return nil
}

func principalFromRow(row userRow) authcore.Principal {
	var roles []string
	if row.Roles != "" {
		roles = strings.Split(row.Roles, ",")
	}
	return authcore.Principal{
		Subject: row.Login,
		Roles:   roles,
		Active:  row.Active,
	}
}
