package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alekolar/authd/internal/authcore"
)

type memoryAccount struct {
	id             string
	username       string
	email          string
	age            int
	login          string
	passwordDigest string
	roles          []string
	active         bool
	createdUnix    int64
}

// MemoryDirectory is a mutex-guarded directory for tests and local runs.
type MemoryDirectory struct {
	mutex    sync.Mutex
	hasher   *authcore.CredentialHasher
	accounts map[string]memoryAccount
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory(hasher *authcore.CredentialHasher) *MemoryDirectory {
	return &MemoryDirectory{
		hasher:   hasher,
		accounts: make(map[string]memoryAccount),
	}
}

// Register validates the payload, hashes the password, and stores the account.
func (store *MemoryDirectory) Register(ctx context.Context, user NewUser) (authcore.Principal, error) {
	if validateErr := ValidateNewUser(user); validateErr != nil {
		return authcore.Principal{}, validateErr
	}
	passwordDigest, hashErr := store.hasher.Hash(user.Password)
	if hashErr != nil {
		return authcore.Principal{}, fmt.Errorf("directory.register.memory: %w", hashErr)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.accounts[user.Login]; exists {
		return authcore.Principal{}, ErrLoginTaken
	}
	for _, account := range store.accounts {
		if account.email == user.Email {
			return authcore.Principal{}, ErrEmailTaken
		}
	}

	account := memoryAccount{
		id:             uuid.NewString(),
		username:       user.Username,
		email:          user.Email,
		age:            user.Age,
		login:          user.Login,
		passwordDigest: passwordDigest,
		roles:          []string{"user"},
		active:         true,
		createdUnix:    time.Now().UTC().Unix(),
	}
	store.accounts[user.Login] = account
	return principalFromMemory(account), nil
}

// FindByLogin resolves a principal and its password digest.
func (store *MemoryDirectory) FindByLogin(ctx context.Context, login string) (authcore.Principal, string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	account, ok := store.accounts[login]
	if !ok {
		return authcore.Principal{}, "", authcore.ErrPrincipalNotFound
	}
	return principalFromMemory(account), account.passwordDigest, nil
}

// SetRoles replaces an account's role labels, for seeding admin accounts.
func (store *MemoryDirectory) SetRoles(ctx context.Context, login string, roles []string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	account, ok := store.accounts[login]
	if !ok {
		return authcore.ErrPrincipalNotFound
	}
	account.roles = append([]string(nil), roles...)
	store.accounts[login] = account
	return nil
}

func principalFromMemory(account memoryAccount) authcore.Principal {
	return authcore.Principal{
		Subject: account.login,
		Roles:   append([]string(nil), account.roles...),
		Active:  account.active,
	}
}
