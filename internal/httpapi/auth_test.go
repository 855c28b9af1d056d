package httpapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"nexora/backend/internal/domain"
)

type userStoreStub struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
}

func newUserStoreStub(users ...domain.UserAccount) *userStoreStub {
	stub := &userStoreStub{users: make(map[string]domain.UserAccount)}
	for _, user := range users {
		stub.users[user.Username] = user
	}
	return stub
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	return result, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	return nil
}

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	store := newUserStoreStub(domain.UserAccount{
		Username:  "admin",
		Password:  mustHashPassword(t, "hunter22"),
		Role:      "admin",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	auth := NewAuthManager("roundtrip-secret", time.Hour, store)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "hunter22"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "admin" || resp.AccessToken == "" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	store := newUserStoreStub(domain.UserAccount{
		Username: "admin",
		Password: mustHashPassword(t, "hunter22"),
		Role:     "admin",
		Active:   true,
	})
	auth := NewAuthManager("roundtrip-secret", time.Hour, store)

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "nope"}); err == nil {
		t.Fatal("expected login failure")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := newUserStoreStub(domain.UserAccount{
		Username: "admin",
		Password: mustHashPassword(t, "hunter22"),
		Role:     "admin",
		Active:   false,
	})
	auth := NewAuthManager("roundtrip-secret", time.Hour, store)

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "hunter22"}); err == nil {
		t.Fatal("expected login failure for inactive account")
	}
}

func TestBootstrapUpgradesLegacyPlaintextPassword(t *testing.T) {
	store := newUserStoreStub(domain.UserAccount{
		Username: "admin",
		Password: "plaintext-password",
		Role:     "admin",
		Active:   true,
	})
	auth := NewAuthManager("roundtrip-secret", time.Hour, store)

	// The stored credential must now be a bcrypt hash, and the original
	// password must still log in.
	store.mu.Lock()
	stored := store.users["admin"].Password
	store.mu.Unlock()
	if !isPasswordHash(stored) {
		t.Fatalf("password not upgraded to hash: %q", stored)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte("plaintext-password")); err != nil {
		t.Fatalf("upgraded hash does not match original password: %v", err)
	}

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "plaintext-password"}); err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := NewAuthManager("roundtrip-secret", time.Hour, nil)

	if _, err := auth.ParseToken("not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	issuer := NewAuthManager("secret-one", time.Hour, newUserStoreStub(domain.UserAccount{
		Username: "admin",
		Password: mustHashPassword(t, "hunter22"),
		Role:     "admin",
		Active:   true,
	}))
	verifier := NewAuthManager("secret-two", time.Hour, nil)

	resp, err := issuer.Login(domain.LoginRequest{Username: "admin", Password: "hunter22"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected error for token signed with another secret")
	}
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}
