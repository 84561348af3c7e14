package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/store"
)

var (
	// ErrBlankType rejects proposals whose suggested type is empty or
	// whitespace.
	ErrBlankType = errors.New("suggested type is required")

	// ErrNoGenres rejects proposals whose suggested genre string parses
	// to nothing.
	ErrNoGenres = errors.New("at least one suggested genre is required")
)

// Engine turns a proposal's free-text suggestions into canonical entities.
// It decides nothing about the proposal itself and persists no proposal or
// catalog state; registry rows it creates along the way are kept even if
// the surrounding approval later fails (append-only, harmless when
// unreferenced).
type Engine struct {
	registry *Registry
}

func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Resolve maps a suggested type name and a raw comma-delimited genre string
// to their canonical records. Duplicate genre names collapse to a single
// entity while keeping first-seen order.
func (e *Engine) Resolve(ctx context.Context, typeName, genresRaw string) (store.MediaType, []store.Genre, error) {
	typeName = strings.TrimSpace(typeName)
	if typeName == "" {
		return store.MediaType{}, nil, ErrBlankType
	}

	genreNames := ParseNames(genresRaw)
	if len(genreNames) == 0 {
		return store.MediaType{}, nil, ErrNoGenres
	}

	mediaType, err := e.registry.ResolveType(ctx, typeName)
	if err != nil {
		return store.MediaType{}, nil, err
	}

	genres := make([]store.Genre, 0, len(genreNames))
	for _, name := range genreNames {
		genre, err := e.registry.ResolveGenre(ctx, name)
		if err != nil {
			return store.MediaType{}, nil, fmt.Errorf("resolve genres: %w", err)
		}
		genres = append(genres, genre)
	}

	return mediaType, genres, nil
}
