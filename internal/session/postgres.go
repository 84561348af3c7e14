package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/store"
)

// Store is the refresh session surface the service depends on. RedisStore
// and PostgresStore both satisfy it.
type Store interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// PostgresStore adapts the refresh_sessions table to the Store interface,
// used when no Redis URL is configured.
type PostgresStore struct {
	db *store.PostgresStore
}

func NewPostgresStore(db *store.PostgresStore) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return s.db.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	user, err := s.db.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrNotFound
	}
	return user, err
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return s.db.RevokeRefreshSession(ctx, tokenHash)
}
