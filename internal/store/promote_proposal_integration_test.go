package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/util"
)

// Integration tests exercising the promotion transaction against real SQL.
// They require a reachable Postgres and are skipped in short mode. All rows
// use fresh random ids, so reruns do not collide.

func TestPromoteProposalDecidesExactlyOnce(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()

	proposer := insertTestUser(t, db, "member")
	reviewer := insertTestUser(t, db, "moderator")
	mediaType, genre := insertTestRegistry(t, st)
	proposalID := insertTestProposal(t, db, proposer, "Fullmetal Alchemist")

	item := CatalogItem{
		ID:        util.NewID("item"),
		Title:     "Fullmetal Alchemist",
		Type:      mediaType,
		Genres:    []Genre{genre},
		Origin:    OriginCommunity,
		CreatedBy: proposer,
	}

	promoted, err := st.PromoteProposal(ctx, item, proposalID, reviewer)
	if err != nil {
		t.Fatalf("first promotion failed: %v", err)
	}
	if promoted.CreatedAt.IsZero() {
		t.Error("promotion did not return the persisted created_at")
	}

	proposal, err := st.GetProposal(ctx, proposalID)
	if err != nil {
		t.Fatalf("reload proposal: %v", err)
	}
	if proposal.Status != ProposalApproved {
		t.Fatalf("status = %q, want APPROVED", proposal.Status)
	}
	if proposal.ReviewerID == nil || *proposal.ReviewerID != reviewer {
		t.Errorf("reviewer not recorded: %v", proposal.ReviewerID)
	}

	// A second promotion must roll back entirely: no new item row, status
	// untouched.
	second := item
	second.ID = util.NewID("item")
	if _, err := st.PromoteProposal(ctx, second, proposalID, reviewer); !errors.Is(err, ErrProposalDecided) {
		t.Fatalf("second promotion: got %v, want ErrProposalDecided", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM catalog_items WHERE id=$1`, second.ID).Scan(&count); err != nil {
		t.Fatalf("count second item: %v", err)
	}
	if count != 0 {
		t.Fatal("losing promotion left a catalog item behind")
	}
}

func TestPromoteProposalRollsBackOnItemConflict(t *testing.T) {
	db, st := openTestStore(t)
	ctx := context.Background()

	proposer := insertTestUser(t, db, "member")
	reviewer := insertTestUser(t, db, "moderator")
	mediaType, genre := insertTestRegistry(t, st)

	item := CatalogItem{
		ID:        util.NewID("item"),
		Title:     "The Hobbit",
		Type:      mediaType,
		Genres:    []Genre{genre},
		Origin:    OriginCommunity,
		CreatedBy: proposer,
	}

	first := insertTestProposal(t, db, proposer, "The Hobbit")
	if _, err := st.PromoteProposal(ctx, item, first, reviewer); err != nil {
		t.Fatalf("first promotion failed: %v", err)
	}

	// Promoting a fresh proposal with a colliding item id fails the insert;
	// the proposal must remain PENDING.
	second := insertTestProposal(t, db, proposer, "The Hobbit Again")
	if _, err := st.PromoteProposal(ctx, item, second, reviewer); err == nil {
		t.Fatal("expected duplicate item id to fail the promotion")
	}

	proposal, err := st.GetProposal(ctx, second)
	if err != nil {
		t.Fatalf("reload proposal: %v", err)
	}
	if proposal.Status != ProposalPending {
		t.Fatalf("status = %q, want PENDING after failed promotion", proposal.Status)
	}
	if proposal.ReviewerID != nil {
		t.Errorf("failed promotion recorded a reviewer: %v", *proposal.ReviewerID)
	}
}

func openTestStore(t *testing.T) (*sql.DB, *PostgresStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, testDatabaseURL(), 4, 2)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db, NewPostgresStore(db)
}

func insertTestUser(t *testing.T, db *sql.DB, role string) string {
	t.Helper()
	id := util.NewID("user")
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO users (id, display_name, email, role, is_email_verified)
		VALUES ($1, $2, $3, $4, TRUE)
	`, id, "Test "+role, id+"@test.local", role)
	if err != nil {
		t.Fatalf("insert test user: %v", err)
	}
	return id
}

func insertTestRegistry(t *testing.T, st *PostgresStore) (MediaType, Genre) {
	t.Helper()
	ctx := context.Background()

	mediaType, err := st.InsertMediaType(ctx, MediaType{ID: util.NewID("type"), Name: "Type " + util.NewID("")})
	if err != nil {
		t.Fatalf("insert test type: %v", err)
	}
	genre, err := st.InsertGenre(ctx, Genre{ID: util.NewID("genre"), Name: "Genre " + util.NewID("")})
	if err != nil {
		t.Fatalf("insert test genre: %v", err)
	}
	return mediaType, genre
}

func insertTestProposal(t *testing.T, db *sql.DB, proposerID, title string) string {
	t.Helper()
	id := util.NewID("prop")
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO proposals (id, proposer_id, title, suggested_type, suggested_genres, status)
		VALUES ($1, $2, $3, 'Anime', 'Drama', $4)
	`, id, proposerID, title, ProposalPending)
	if err != nil {
		t.Fatalf("insert test proposal: %v", err)
	}
	return id
}

// testDatabaseURL prefers TEST_DATABASE_URL, then standard Postgres env
// variables, then local development defaults.
func testDatabaseURL() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "libratrack")
	pass := envOr("POSTGRES_PASSWORD", "libratrack")
	dbname := envOr("POSTGRES_DB", "libratrack_test")
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
