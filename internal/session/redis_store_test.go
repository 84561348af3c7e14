package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs, s
}

func testUser() store.User {
	return store.User{
		ID:          "user_abc123",
		DisplayName: "Ana",
		Email:       "ana@example.com",
		Role:        "member",
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	expiresAt := time.Now().Add(24 * time.Hour)
	if err := rs.SaveRefreshSession(ctx, "hash-1", testUser(), expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	user, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "user_abc123" || user.Role != "member" {
		t.Errorf("unexpected user snapshot: %+v", user)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-expired", testUser(), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	_, err := rs.LookupRefreshSession(ctx, "hash-expired")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestLookupUnknownSession(t *testing.T) {
	rs, _ := setupTestRedis(t)

	_, err := rs.LookupRefreshSession(context.Background(), "never-issued")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveRejectsAlreadyExpired(t *testing.T) {
	rs, _ := setupTestRedis(t)

	err := rs.SaveRefreshSession(context.Background(), "hash-past", testUser(), time.Now().Add(-time.Minute))
	if err == nil {
		t.Error("expected error saving session with past expiry")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-revoke", testUser(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "hash-revoke"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash-revoke"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestRevokeUnknownSession(t *testing.T) {
	rs, _ := setupTestRedis(t)

	if err := rs.RevokeRefreshSession(context.Background(), "never-issued"); err != nil {
		t.Errorf("revoking unknown session should not error: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	alice := store.User{ID: "user_alice", Role: "member"}
	bob := store.User{ID: "user_bob", Role: "moderator"}

	if err := rs.SaveRefreshSession(ctx, "hash-alice", alice, expiresAt); err != nil {
		t.Fatalf("save alice: %v", err)
	}
	if err := rs.SaveRefreshSession(ctx, "hash-bob", bob, expiresAt); err != nil {
		t.Fatalf("save bob: %v", err)
	}

	if err := rs.RevokeRefreshSession(ctx, "hash-alice"); err != nil {
		t.Fatalf("revoke alice: %v", err)
	}

	if _, err := rs.LookupRefreshSession(ctx, "hash-alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected alice revoked, got %v", err)
	}
	user, err := rs.LookupRefreshSession(ctx, "hash-bob")
	if err != nil {
		t.Fatalf("lookup bob: %v", err)
	}
	if user.ID != "user_bob" || user.Role != "moderator" {
		t.Errorf("bob's session corrupted: %+v", user)
	}
}
