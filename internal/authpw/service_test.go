package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/store"
)

type memUserStore struct {
	byEmail map[string]store.User
	byID    map[string]store.User
	resets  map[string]string // token -> userID
	usedRst map[string]bool
	vTokens map[string]string // token -> userID
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		byEmail: make(map[string]store.User),
		byID:    make(map[string]store.User),
		resets:  make(map[string]string),
		usedRst: make(map[string]bool),
		vTokens: make(map[string]string),
	}
}

func (m *memUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memUserStore) CreateUser(_ context.Context, user store.User) error {
	m.byEmail[user.Email] = user
	m.byID[user.ID] = user
	return nil
}

func (m *memUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	m.vTokens[token] = userID
	return nil
}

func (m *memUserStore) VerifyUserEmail(_ context.Context, token string) error {
	userID, ok := m.vTokens[token]
	if !ok {
		return sql.ErrNoRows
	}
	u := m.byID[userID]
	u.IsEmailVerified = true
	m.byID[userID] = u
	m.byEmail[u.Email] = u
	delete(m.vTokens, token)
	return nil
}

func (m *memUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	u, ok := m.byID[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	m.byID[userID] = u
	m.byEmail[u.Email] = u
	return nil
}

func (m *memUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	m.resets[token] = userID
	return nil
}

func (m *memUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	if m.usedRst[token] {
		return "", sql.ErrNoRows
	}
	userID, ok := m.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (m *memUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	m.usedRst[token] = true
	return nil
}

func signUpTestUser(t *testing.T, svc *Service) *SignUpResponse {
	t.Helper()
	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "ana@example.com",
		Password:    "correct-horse",
		DisplayName: "Ana",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	return resp
}

func TestSignUpCreatesMember(t *testing.T) {
	ms := newMemUserStore()
	svc := NewService(ms)

	resp := signUpTestUser(t, svc)
	if resp.UserID == "" || resp.VerificationToken == "" {
		t.Fatalf("incomplete response: %+v", resp)
	}

	u := ms.byEmail["ana@example.com"]
	if u.Role != "member" {
		t.Errorf("new accounts must start as member, got %q", u.Role)
	}
	if u.IsEmailVerified {
		t.Error("new accounts must start unverified")
	}
	if u.PasswordHash == "correct-horse" {
		t.Error("password stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct-horse")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newMemUserStore())
	signUpTestUser(t, svc)

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "ana@example.com", Password: "another-pass", DisplayName: "Ana 2",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMemUserStore())

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "b@example.com", Password: "short", DisplayName: "B",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestSignInFlow(t *testing.T) {
	ms := newMemUserStore()
	svc := NewService(ms)
	resp := signUpTestUser(t, svc)
	ctx := context.Background()

	// Unverified accounts authenticate but are flagged.
	signIn, err := svc.SignIn(ctx, "ana@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !signIn.RequiresVerify {
		t.Error("expected RequiresVerify before email verification")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	signIn, err = svc.SignIn(ctx, "ana@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn after verify failed: %v", err)
	}
	if signIn.RequiresVerify {
		t.Error("RequiresVerify still set after verification")
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc := NewService(newMemUserStore())
	signUpTestUser(t, svc)
	ctx := context.Background()

	if _, err := svc.SignIn(ctx, "ana@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "nobody@example.com", "whatever-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyEmailBadToken(t *testing.T) {
	svc := NewService(newMemUserStore())

	if err := svc.VerifyEmail(context.Background(), "bogus"); !errors.Is(err, ErrInvalidVerifyToken) {
		t.Fatalf("expected ErrInvalidVerifyToken, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ms := newMemUserStore()
	svc := NewService(ms)
	resp := signUpTestUser(t, svc)
	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	ctx := context.Background()

	token, err := svc.RequestPasswordReset(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token for a known email")
	}

	if err := svc.ResetPassword(ctx, token, "a-new-password"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	if _, err := svc.SignIn(ctx, "ana@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password still accepted after reset")
	}
	if _, err := svc.SignIn(ctx, "ana@example.com", "a-new-password"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}

	// Tokens are single use.
	if err := svc.ResetPassword(ctx, token, "yet-another-pw"); !errors.Is(err, ErrInvalidResetToken) {
		t.Errorf("expected ErrInvalidResetToken on reuse, got %v", err)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	svc := NewService(newMemUserStore())

	token, err := svc.RequestPasswordReset(context.Background(), "ghost@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "" {
		t.Error("unknown email must not yield a token")
	}
}
