// Package catalog resolves free-text type and genre names into canonical
// records. The registry owns Type/Genre identity: nothing else in the
// service constructs those rows.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/store"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/util"
)

// ErrRegistryConflict is returned when repeated duplicate-key races exhaust
// the bounded retry budget. Callers should retry the whole request.
var ErrRegistryConflict = errors.New("registry write conflict")

// resolveAttempts bounds the lookup/insert/re-read loop. Two attempts
// already cover the lost-race case; the third absorbs a row deleted between
// the conflict and the re-read.
const resolveAttempts = 3

// TypeStore is the persistence surface the registry needs for types.
// Lookups report absence with sql.ErrNoRows; inserts report a lost
// uniqueness race with store.ErrDuplicateName.
type TypeStore interface {
	GetMediaTypeByName(ctx context.Context, name string) (store.MediaType, error)
	InsertMediaType(ctx context.Context, mt store.MediaType) (store.MediaType, error)
}

// GenreStore mirrors TypeStore for the genre namespace.
type GenreStore interface {
	GetGenreByName(ctx context.Context, name string) (store.Genre, error)
	InsertGenre(ctx context.Context, genre store.Genre) (store.Genre, error)
}

// Registry is the canonical name-to-entity namespace for types and genres.
// Resolution is find-or-create: the same name always yields the same
// identity once created, including under concurrent first-time resolution.
type Registry struct {
	types  TypeStore
	genres GenreStore
}

func NewRegistry(types TypeStore, genres GenreStore) *Registry {
	return &Registry{types: types, genres: genres}
}

// ResolveType returns the canonical type for name, creating it on first use.
func (r *Registry) ResolveType(ctx context.Context, name string) (store.MediaType, error) {
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		mt, err := r.types.GetMediaTypeByName(ctx, name)
		if err == nil {
			return mt, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return store.MediaType{}, fmt.Errorf("lookup type %q: %w", name, err)
		}

		mt, err = r.types.InsertMediaType(ctx, store.MediaType{ID: util.NewID("type"), Name: name})
		if err == nil {
			return mt, nil
		}
		if errors.Is(err, store.ErrDuplicateName) {
			// Lost the race: another request created the row. Re-read it.
			continue
		}
		return store.MediaType{}, fmt.Errorf("create type %q: %w", name, err)
	}
	return store.MediaType{}, fmt.Errorf("resolve type %q: %w", name, ErrRegistryConflict)
}

// ResolveGenre returns the canonical genre for name, creating it on first use.
func (r *Registry) ResolveGenre(ctx context.Context, name string) (store.Genre, error) {
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		genre, err := r.genres.GetGenreByName(ctx, name)
		if err == nil {
			return genre, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return store.Genre{}, fmt.Errorf("lookup genre %q: %w", name, err)
		}

		genre, err = r.genres.InsertGenre(ctx, store.Genre{ID: util.NewID("genre"), Name: name})
		if err == nil {
			return genre, nil
		}
		if errors.Is(err, store.ErrDuplicateName) {
			continue
		}
		return store.Genre{}, fmt.Errorf("create genre %q: %w", name, err)
	}
	return store.Genre{}, fmt.Errorf("resolve genre %q: %w", name, ErrRegistryConflict)
}
