package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/alekolar/authd/internal/authcore"
)

func validTestUser() NewUser {
	return NewUser{
		Username: "Test User",
		Email:    "abc@example.com",
		Age:      30,
		Login:    "Abc1_test",
		Password: "Str0ngP@ss",
	}
}

func TestValidateNewUser(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		mutate      func(user *NewUser)
		expectedErr error
	}{
		{name: "valid", mutate: func(user *NewUser) {}, expectedErr: nil},
		{name: "empty username", mutate: func(user *NewUser) { user.Username = " " }, expectedErr: ErrFieldMissing},
		{name: "email without at", mutate: func(user *NewUser) { user.Email = "not-an-email" }, expectedErr: ErrFieldMissing},
		{name: "negative age", mutate: func(user *NewUser) { user.Age = -1 }, expectedErr: ErrFieldMissing},
		{name: "age out of range", mutate: func(user *NewUser) { user.Age = 200 }, expectedErr: ErrFieldMissing},
		{name: "login too short", mutate: func(user *NewUser) { user.Login = "Ab1" }, expectedErr: ErrLoginFormat},
		{name: "login too long", mutate: func(user *NewUser) { user.Login = "Abcdefghij12" }, expectedErr: ErrLoginFormat},
		{name: "login without digit", mutate: func(user *NewUser) { user.Login = "Abcd_test" }, expectedErr: ErrLoginFormat},
		{name: "login without upper", mutate: func(user *NewUser) { user.Login = "abc1_test" }, expectedErr: ErrLoginFormat},
		{name: "login without lower", mutate: func(user *NewUser) { user.Login = "ABC1_TEST" }, expectedErr: ErrLoginFormat},
		{name: "login with illegal rune", mutate: func(user *NewUser) { user.Login = "Abc1-test" }, expectedErr: ErrLoginFormat},
		{name: "password too short", mutate: func(user *NewUser) { user.Password = "Ab1!" }, expectedErr: ErrPasswordWeak},
		{name: "password without digit", mutate: func(user *NewUser) { user.Password = "Password!" }, expectedErr: ErrPasswordWeak},
		{name: "password without upper", mutate: func(user *NewUser) { user.Password = "passw0rd!" }, expectedErr: ErrPasswordWeak},
		{name: "password without lower", mutate: func(user *NewUser) { user.Password = "PASSW0RD!" }, expectedErr: ErrPasswordWeak},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			user := validTestUser()
			testCase.mutate(&user)
			err := ValidateNewUser(user)
			if testCase.expectedErr == nil {
				if err != nil {
					t.Fatalf("expected valid user, got %v", err)
				}
				return
			}
			if !errors.Is(err, testCase.expectedErr) {
				t.Fatalf("expected %v, got %v", testCase.expectedErr, err)
			}
		})
	}
}

func TestMemoryDirectoryRegisterAndFind(t *testing.T) {
	t.Parallel()

	hasher := authcore.NewCredentialHasher(4)
	store := NewMemoryDirectory(hasher)

	principal, registerErr := store.Register(context.Background(), validTestUser())
	if registerErr != nil {
		t.Fatalf("register failed: %v", registerErr)
	}
	if principal.Subject != "Abc1_test" || !principal.Active {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if len(principal.Roles) != 1 || principal.Roles[0] != "user" {
		t.Fatalf("expected default role user, got %v", principal.Roles)
	}

	found, digest, findErr := store.FindByLogin(context.Background(), "Abc1_test")
	if findErr != nil {
		t.Fatalf("find failed: %v", findErr)
	}
	if found.Subject != "Abc1_test" {
		t.Fatalf("expected subject Abc1_test, got %s", found.Subject)
	}
	if digest == "Str0ngP@ss" || digest == "" {
		t.Fatalf("expected hashed password digest")
	}
	if !hasher.Verify("Str0ngP@ss", digest) {
		t.Fatalf("expected digest to verify against the password")
	}
}

func TestMemoryDirectoryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	store := NewMemoryDirectory(authcore.NewCredentialHasher(4))
	if _, err := store.Register(context.Background(), validTestUser()); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	duplicateLogin := validTestUser()
	duplicateLogin.Email = "other@example.com"
	if _, err := store.Register(context.Background(), duplicateLogin); !errors.Is(err, ErrLoginTaken) {
		t.Fatalf("expected ErrLoginTaken, got %v", err)
	}

	duplicateEmail := validTestUser()
	duplicateEmail.Login = "Xyz2_test"
	if _, err := store.Register(context.Background(), duplicateEmail); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestMemoryDirectoryMissingLogin(t *testing.T) {
	t.Parallel()

	store := NewMemoryDirectory(authcore.NewCredentialHasher(4))
	if _, _, err := store.FindByLogin(context.Background(), "Nobody1_x"); !errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestMemoryDirectorySetRoles(t *testing.T) {
	t.Parallel()

	store := NewMemoryDirectory(authcore.NewCredentialHasher(4))
	if _, err := store.Register(context.Background(), validTestUser()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := store.SetRoles(context.Background(), "Abc1_test", []string{"user", "admin"}); err != nil {
		t.Fatalf("set roles failed: %v", err)
	}
	principal, _, findErr := store.FindByLogin(context.Background(), "Abc1_test")
	if findErr != nil {
		t.Fatalf("find failed: %v", findErr)
	}
	if len(principal.Roles) != 2 || principal.Roles[1] != "admin" {
		t.Fatalf("expected roles [user admin], got %v", principal.Roles)
	}
	if err := store.SetRoles(context.Background(), "Nobody1_x", []string{"admin"}); !errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}
