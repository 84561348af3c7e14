package catalog

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/store"
)

// memRegistryStore implements TypeStore and GenreStore in memory with the
// same uniqueness semantics as the Postgres store.
type memRegistryStore struct {
	mu          sync.Mutex
	types       map[string]store.MediaType
	genres      map[string]store.Genre
	typeInserts int
	// forced error hooks
	failTypeInsert func() error
}

func newMemRegistryStore() *memRegistryStore {
	return &memRegistryStore{
		types:  make(map[string]store.MediaType),
		genres: make(map[string]store.Genre),
	}
}

func (m *memRegistryStore) GetMediaTypeByName(_ context.Context, name string) (store.MediaType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt, ok := m.types[name]; ok {
		return mt, nil
	}
	return store.MediaType{}, sql.ErrNoRows
}

func (m *memRegistryStore) InsertMediaType(_ context.Context, mt store.MediaType) (store.MediaType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typeInserts++
	if m.failTypeInsert != nil {
		if err := m.failTypeInsert(); err != nil {
			return store.MediaType{}, err
		}
	}
	if _, exists := m.types[mt.Name]; exists {
		return store.MediaType{}, store.ErrDuplicateName
	}
	m.types[mt.Name] = mt
	return mt, nil
}

func (m *memRegistryStore) GetGenreByName(_ context.Context, name string) (store.Genre, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if genre, ok := m.genres[name]; ok {
		return genre, nil
	}
	return store.Genre{}, sql.ErrNoRows
}

func (m *memRegistryStore) InsertGenre(_ context.Context, genre store.Genre) (store.Genre, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.genres[genre.Name]; exists {
		return store.Genre{}, store.ErrDuplicateName
	}
	m.genres[genre.Name] = genre
	return genre, nil
}

func TestResolveTypeCreatesThenReuses(t *testing.T) {
	ms := newMemRegistryStore()
	registry := NewRegistry(ms, ms)
	ctx := context.Background()

	first, err := registry.ResolveType(ctx, "Anime")
	if err != nil {
		t.Fatalf("ResolveType() error = %v", err)
	}
	if first.ID == "" || first.Name != "Anime" {
		t.Fatalf("unexpected type: %+v", first)
	}

	second, err := registry.ResolveType(ctx, "Anime")
	if err != nil {
		t.Fatalf("ResolveType() second call error = %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same name resolved to different identities: %s vs %s", first.ID, second.ID)
	}
	if ms.typeInserts != 1 {
		t.Fatalf("expected exactly one insert, got %d", ms.typeInserts)
	}
}

func TestResolveTypeFallsBackAfterLostRace(t *testing.T) {
	ms := newMemRegistryStore()
	winner := store.MediaType{ID: "type_winner", Name: "Game"}
	// Simulate another request inserting between our lookup and insert.
	ms.failTypeInsert = func() error {
		ms.failTypeInsert = nil
		ms.types["Game"] = winner
		return store.ErrDuplicateName
	}
	registry := NewRegistry(ms, ms)

	got, err := registry.ResolveType(context.Background(), "Game")
	if err != nil {
		t.Fatalf("ResolveType() error = %v", err)
	}
	if got.ID != winner.ID {
		t.Fatalf("expected the winning row %s, got %s", winner.ID, got.ID)
	}
}

func TestResolveTypeGivesUpAfterBoundedRetries(t *testing.T) {
	ms := newMemRegistryStore()
	// Always conflict without ever materializing the row.
	ms.failTypeInsert = func() error { return store.ErrDuplicateName }
	registry := NewRegistry(ms, ms)

	_, err := registry.ResolveType(context.Background(), "Show")
	if !errors.Is(err, ErrRegistryConflict) {
		t.Fatalf("expected ErrRegistryConflict, got %v", err)
	}
	if ms.typeInserts != resolveAttempts {
		t.Fatalf("expected %d attempts, got %d", resolveAttempts, ms.typeInserts)
	}
}

func TestResolveGenreIdempotent(t *testing.T) {
	ms := newMemRegistryStore()
	registry := NewRegistry(ms, ms)
	ctx := context.Background()

	first, err := registry.ResolveGenre(ctx, "Acción")
	if err != nil {
		t.Fatalf("ResolveGenre() error = %v", err)
	}
	second, err := registry.ResolveGenre(ctx, "Acción")
	if err != nil {
		t.Fatalf("ResolveGenre() second call error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same genre name resolved to different identities: %s vs %s", first.ID, second.ID)
	}
}

func TestResolveGenreConcurrentConvergesToOneEntity(t *testing.T) {
	ms := newMemRegistryStore()
	registry := NewRegistry(ms, ms)
	ctx := context.Background()

	const workers = 8
	results := make([]store.Genre, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot], errs[slot] = registry.ResolveGenre(ctx, "Fantasía")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d error: %v", i, errs[i])
		}
		if results[i].ID != results[0].ID {
			t.Fatalf("workers resolved different identities: %s vs %s", results[i].ID, results[0].ID)
		}
	}
	if len(ms.genres) != 1 {
		t.Fatalf("expected one genre row, got %d", len(ms.genres))
	}
}
