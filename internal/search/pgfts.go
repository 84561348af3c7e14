package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries catalog_items via plainto_tsquery with ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "ci.fts @@ plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	if q.FilterType != "" {
		where += fmt.Sprintf(" AND mt.name = $%d", argN)
		args = append(args, q.FilterType)
		argN++
	}
	if q.FilterOrigin != "" {
		where += fmt.Sprintf(" AND ci.origin = $%d", argN)
		args = append(args, q.FilterOrigin)
		argN++
	}

	ctx := context.Background()

	var total int
	countSQL := fmt.Sprintf(`
		SELECT count(*)
		FROM catalog_items ci
		JOIN media_types mt ON mt.id = ci.type_id
		WHERE %s`, where)
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT ci.id, ci.title,
			ts_headline('simple', ci.title, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			mt.name, ci.origin,
			string_agg(g.name, ',' ORDER BY g.name) AS genres,
			ts_rank(ci.fts, plainto_tsquery('simple', $1)) AS rank
		FROM catalog_items ci
		JOIN media_types mt ON mt.id = ci.type_id
		LEFT JOIN catalog_item_genres cig ON cig.item_id = ci.id
		LEFT JOIN genres g ON g.id = cig.genre_id
		WHERE %s
		GROUP BY ci.id, ci.title, mt.name, ci.origin, ci.fts
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var genres sql.NullString
		var rank float64
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.TypeName, &r.Origin, &genres, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Genres = splitAgg(genres)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every catalog item for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ItemRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ci.id, ci.title, mt.name, ci.origin,
			string_agg(g.name, ',' ORDER BY g.name) AS genres
		FROM catalog_items ci
		JOIN media_types mt ON mt.id = ci.type_id
		LEFT JOIN catalog_item_genres cig ON cig.item_id = ci.id
		LEFT JOIN genres g ON g.id = cig.genre_id
		GROUP BY ci.id, ci.title, mt.name, ci.origin
	`)
	if err != nil {
		return nil, fmt.Errorf("load catalog items: %w", err)
	}
	defer rows.Close()

	items := make([]ItemRecord, 0)
	for rows.Next() {
		var item ItemRecord
		var genres sql.NullString
		if err := rows.Scan(&item.ID, &item.Title, &item.TypeName, &item.Origin, &genres); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		item.Genres = splitAgg(genres)
		items = append(items, item)
	}
	return items, rows.Err()
}

// splitAgg turns a string_agg result back into a slice. Genre names cannot
// contain commas here because the proposal parser strips them on the way in.
func splitAgg(agg sql.NullString) []string {
	if !agg.Valid || agg.String == "" {
		return nil
	}
	return strings.Split(agg.String, ",")
}
