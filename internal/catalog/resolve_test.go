package catalog

import (
	"context"
	"errors"
	"testing"
)

func newTestEngine() (*Engine, *memRegistryStore) {
	ms := newMemRegistryStore()
	return NewEngine(NewRegistry(ms, ms)), ms
}

func TestResolveCreatesTypeAndGenres(t *testing.T) {
	engine, ms := newTestEngine()

	mediaType, genres, err := engine.Resolve(context.Background(), "Anime", "Acción, Fantasía, Acción")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if mediaType.Name != "Anime" {
		t.Fatalf("type name = %q, want Anime", mediaType.Name)
	}
	if len(genres) != 2 {
		t.Fatalf("expected 2 genres after dedupe, got %d", len(genres))
	}
	if genres[0].Name != "Acción" || genres[1].Name != "Fantasía" {
		t.Fatalf("genres out of order: %+v", genres)
	}
	if len(ms.genres) != 2 {
		t.Fatalf("expected 2 genre rows, got %d", len(ms.genres))
	}
}

func TestResolveBlankType(t *testing.T) {
	engine, ms := newTestEngine()

	_, _, err := engine.Resolve(context.Background(), "   ", "Drama")
	if !errors.Is(err, ErrBlankType) {
		t.Fatalf("expected ErrBlankType, got %v", err)
	}
	if len(ms.types) != 0 || len(ms.genres) != 0 {
		t.Fatal("blank type must not create registry rows")
	}
}

func TestResolveEmptyGenreList(t *testing.T) {
	engine, ms := newTestEngine()

	for _, raw := range []string{"", "   ", ", ,,"} {
		_, _, err := engine.Resolve(context.Background(), "Book", raw)
		if !errors.Is(err, ErrNoGenres) {
			t.Fatalf("genres %q: expected ErrNoGenres, got %v", raw, err)
		}
	}
	if len(ms.types) != 0 {
		t.Fatal("failed resolution must not create the type row")
	}
}

func TestResolveTrimsTypeName(t *testing.T) {
	engine, _ := newTestEngine()

	mediaType, _, err := engine.Resolve(context.Background(), "  Game  ", "Puzzle")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if mediaType.Name != "Game" {
		t.Fatalf("type name = %q, want Game", mediaType.Name)
	}
}

func TestResolveReusesExistingEntities(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	firstType, firstGenres, err := engine.Resolve(ctx, "Show", "Drama, Comedy")
	if err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	secondType, secondGenres, err := engine.Resolve(ctx, "Show", "Comedy, Thriller")
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if secondType.ID != firstType.ID {
		t.Fatal("type identity not reused across resolutions")
	}
	if secondGenres[0].ID != firstGenres[1].ID {
		t.Fatal("genre identity not reused across resolutions")
	}
}
