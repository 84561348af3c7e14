package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicateName is returned when an insert loses a uniqueness race
	// on a canonical name. Callers re-read the winning row.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrProposalDecided is returned when a conditional status transition
	// finds the proposal no longer PENDING.
	ErrProposalDecided = errors.New("proposal already decided")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, COALESCE(password_hash, ''), role, is_email_verified, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, COALESCE(password_hash, ''), role, is_email_verified, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3 WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions and token revocation ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.role, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- canonical registry primitives ----

func (s *PostgresStore) GetMediaTypeByName(ctx context.Context, name string) (MediaType, error) {
	var mt MediaType
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM media_types WHERE name=$1
	`, name).Scan(&mt.ID, &mt.Name, &mt.CreatedAt)
	if err != nil {
		return MediaType{}, err
	}
	return mt, nil
}

// InsertMediaType persists a new canonical type. A uniqueness race on the
// name surfaces as ErrDuplicateName so the caller can re-read.
func (s *PostgresStore) InsertMediaType(ctx context.Context, mt MediaType) (MediaType, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO media_types (id, name) VALUES ($1, $2)
		RETURNING created_at
	`, mt.ID, mt.Name).Scan(&mt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return MediaType{}, ErrDuplicateName
		}
		return MediaType{}, fmt.Errorf("insert media type: %w", err)
	}
	return mt, nil
}

func (s *PostgresStore) GetGenreByName(ctx context.Context, name string) (Genre, error) {
	var genre Genre
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM genres WHERE name=$1
	`, name).Scan(&genre.ID, &genre.Name, &genre.CreatedAt)
	if err != nil {
		return Genre{}, err
	}
	return genre, nil
}

func (s *PostgresStore) InsertGenre(ctx context.Context, genre Genre) (Genre, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO genres (id, name) VALUES ($1, $2)
		RETURNING created_at
	`, genre.ID, genre.Name).Scan(&genre.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Genre{}, ErrDuplicateName
		}
		return Genre{}, fmt.Errorf("insert genre: %w", err)
	}
	return genre, nil
}

// ListAllowedGenres returns the genres observed on published items of a
// type. The set is recorded during publication and is informational;
// approval does not enforce membership.
func (s *PostgresStore) ListAllowedGenres(ctx context.Context, typeID string) ([]Genre, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.created_at
		FROM media_type_genres tg
		JOIN genres g ON g.id = tg.genre_id
		WHERE tg.type_id=$1
		ORDER BY g.name ASC
	`, typeID)
	if err != nil {
		return nil, fmt.Errorf("list allowed genres: %w", err)
	}
	defer rows.Close()

	genres := make([]Genre, 0)
	for rows.Next() {
		var genre Genre
		if err := rows.Scan(&genre.ID, &genre.Name, &genre.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan allowed genre: %w", err)
		}
		genres = append(genres, genre)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allowed genres: %w", err)
	}
	return genres, nil
}

// ---- proposals ----

func (s *PostgresStore) InsertProposal(ctx context.Context, proposal Proposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, proposer_id, title, description, suggested_type, suggested_genres, status, progress_unit, progress_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, proposal.ID, proposal.ProposerID, proposal.Title, proposal.Description, proposal.SuggestedType,
		proposal.SuggestedGenres, proposal.Status, proposal.ProgressUnit, proposal.ProgressTotal)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

const proposalColumns = `
	p.id, p.proposer_id, u.display_name, p.title, p.description,
	p.suggested_type, p.suggested_genres, p.status, p.reviewer_id,
	COALESCE(p.review_comments, ''), COALESCE(p.progress_unit, ''),
	COALESCE(p.progress_total, 0), p.created_at, p.reviewed_at
`

func scanProposal(row interface{ Scan(...any) error }) (Proposal, error) {
	var p Proposal
	err := row.Scan(
		&p.ID,
		&p.ProposerID,
		&p.ProposerName,
		&p.Title,
		&p.Description,
		&p.SuggestedType,
		&p.SuggestedGenres,
		&p.Status,
		&p.ReviewerID,
		&p.ReviewComments,
		&p.ProgressUnit,
		&p.ProgressTotal,
		&p.CreatedAt,
		&p.ReviewedAt,
	)
	return p, err
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals p
		JOIN users u ON u.id = p.proposer_id
		WHERE p.id=$1
	`, proposalID)
	return scanProposal(row)
}

func (s *PostgresStore) ListProposalsByStatus(ctx context.Context, status string) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals p
		JOIN users u ON u.id = p.proposer_id
		WHERE p.status=$1
		ORDER BY p.created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	proposals := make([]Proposal, 0)
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return proposals, nil
}

// PromoteProposal publishes a resolved catalog item and marks the proposal
// APPROVED in a single transaction. The status write is conditional on the
// proposal still being PENDING; a concurrent decision rolls everything back
// and surfaces ErrProposalDecided.
func (s *PostgresStore) PromoteProposal(ctx context.Context, item CatalogItem, proposalID, reviewerID string) (CatalogItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CatalogItem{}, fmt.Errorf("begin promote tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO catalog_items (id, title, description, type_id, origin, created_by, progress_unit, progress_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, item.ID, item.Title, item.Description, item.Type.ID, item.Origin, item.CreatedBy,
		item.ProgressUnit, item.ProgressTotal).Scan(&item.CreatedAt)
	if err != nil {
		return CatalogItem{}, fmt.Errorf("insert catalog item: %w", err)
	}

	if err := insertItemGenres(ctx, tx, item); err != nil {
		return CatalogItem{}, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE proposals
		SET status=$3, reviewer_id=$2, reviewed_at=NOW()
		WHERE id=$1 AND status=$4
	`, proposalID, reviewerID, ProposalApproved, ProposalPending)
	if err != nil {
		return CatalogItem{}, fmt.Errorf("mark proposal approved: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return CatalogItem{}, fmt.Errorf("mark proposal approved rows: %w", err)
	}
	if affected == 0 {
		return CatalogItem{}, ErrProposalDecided
	}

	if err := tx.Commit(); err != nil {
		return CatalogItem{}, fmt.Errorf("commit promote tx: %w", err)
	}
	return item, nil
}

// RejectProposal records a terminal rejection. Same PENDING guard as
// PromoteProposal, without producing a catalog item.
func (s *PostgresStore) RejectProposal(ctx context.Context, proposalID, reviewerID, comments string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET status=$3, reviewer_id=$2, review_comments=NULLIF($4, ''), reviewed_at=NOW()
		WHERE id=$1 AND status=$5
	`, proposalID, reviewerID, ProposalRejected, comments, ProposalPending)
	if err != nil {
		return fmt.Errorf("mark proposal rejected: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark proposal rejected rows: %w", err)
	}
	if affected == 0 {
		return ErrProposalDecided
	}
	return nil
}

// ---- catalog ----

// insertItemGenres links an item to its genres and records each observed
// type/genre pairing in the per-type allowed set.
func insertItemGenres(ctx context.Context, tx *sql.Tx, item CatalogItem) error {
	for _, genre := range item.Genres {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_item_genres (item_id, genre_id) VALUES ($1, $2)
		`, item.ID, genre.ID); err != nil {
			return fmt.Errorf("insert item genre: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO media_type_genres (type_id, genre_id)
			VALUES ($1, $2)
			ON CONFLICT (type_id, genre_id) DO NOTHING
		`, item.Type.ID, genre.ID); err != nil {
			return fmt.Errorf("record type genre: %w", err)
		}
	}
	return nil
}

// InsertCatalogItem persists a moderator-created item (origin OFFICIAL) with
// its genre links.
func (s *PostgresStore) InsertCatalogItem(ctx context.Context, item CatalogItem) (CatalogItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CatalogItem{}, fmt.Errorf("begin insert item tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO catalog_items (id, title, description, type_id, origin, created_by, progress_unit, progress_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, item.ID, item.Title, item.Description, item.Type.ID, item.Origin, item.CreatedBy,
		item.ProgressUnit, item.ProgressTotal).Scan(&item.CreatedAt)
	if err != nil {
		return CatalogItem{}, fmt.Errorf("insert catalog item: %w", err)
	}

	if err := insertItemGenres(ctx, tx, item); err != nil {
		return CatalogItem{}, err
	}

	if err := tx.Commit(); err != nil {
		return CatalogItem{}, fmt.Errorf("commit insert item tx: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetCatalogItem(ctx context.Context, itemID string) (CatalogItem, error) {
	var item CatalogItem
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.title, i.description, i.origin, i.created_by,
			COALESCE(i.cover_key, ''), COALESCE(i.progress_unit, ''),
			COALESCE(i.progress_total, 0), i.created_at,
			t.id, t.name, t.created_at
		FROM catalog_items i
		JOIN media_types t ON t.id = i.type_id
		WHERE i.id=$1
	`, itemID).Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.Origin,
		&item.CreatedBy,
		&item.CoverKey,
		&item.ProgressUnit,
		&item.ProgressTotal,
		&item.CreatedAt,
		&item.Type.ID,
		&item.Type.Name,
		&item.Type.CreatedAt,
	)
	if err != nil {
		return CatalogItem{}, err
	}

	genres, err := s.itemGenres(ctx, itemID)
	if err != nil {
		return CatalogItem{}, err
	}
	item.Genres = genres
	return item, nil
}

func (s *PostgresStore) itemGenres(ctx context.Context, itemID string) ([]Genre, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.created_at
		FROM catalog_item_genres ig
		JOIN genres g ON g.id = ig.genre_id
		WHERE ig.item_id=$1
		ORDER BY g.name ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list item genres: %w", err)
	}
	defer rows.Close()

	genres := make([]Genre, 0)
	for rows.Next() {
		var genre Genre
		if err := rows.Scan(&genre.ID, &genre.Name, &genre.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item genre: %w", err)
		}
		genres = append(genres, genre)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item genres: %w", err)
	}
	return genres, nil
}

func (s *PostgresStore) ListCatalogItems(ctx context.Context, limit, offset int) ([]CatalogItem, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.title, i.description, i.origin, i.created_by,
			COALESCE(i.cover_key, ''), COALESCE(i.progress_unit, ''),
			COALESCE(i.progress_total, 0), i.created_at,
			t.id, t.name, t.created_at
		FROM catalog_items i
		JOIN media_types t ON t.id = i.type_id
		ORDER BY i.created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list catalog items: %w", err)
	}
	defer rows.Close()

	items := make([]CatalogItem, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var item CatalogItem
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&item.Description,
			&item.Origin,
			&item.CreatedBy,
			&item.CoverKey,
			&item.ProgressUnit,
			&item.ProgressTotal,
			&item.CreatedAt,
			&item.Type.ID,
			&item.Type.Name,
			&item.Type.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		item.Genres = make([]Genre, 0)
		items = append(items, item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog items: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	genreRows, err := s.db.QueryContext(ctx, `
		SELECT ig.item_id, g.id, g.name, g.created_at
		FROM catalog_item_genres ig
		JOIN genres g ON g.id = ig.genre_id
		WHERE ig.item_id = ANY($1)
		ORDER BY g.name ASC
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list catalog genres: %w", err)
	}
	defer genreRows.Close()

	byItem := make(map[string][]Genre)
	for genreRows.Next() {
		var itemID string
		var genre Genre
		if err := genreRows.Scan(&itemID, &genre.ID, &genre.Name, &genre.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan catalog genre: %w", err)
		}
		byItem[itemID] = append(byItem[itemID], genre)
	}
	if err := genreRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog genres: %w", err)
	}
	for i := range items {
		if genres, ok := byItem[items[i].ID]; ok {
			items[i].Genres = genres
		}
	}
	return items, nil
}

func (s *PostgresStore) SetCatalogItemCover(ctx context.Context, itemID, coverKey string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE catalog_items SET cover_key=$2 WHERE id=$1`, itemID, coverKey)
	if err != nil {
		return fmt.Errorf("set item cover: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set item cover rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SummaryCounts(ctx context.Context) (catalogItems int, pendingProposals int, approvedProposals int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_items`).Scan(&catalogItems); err != nil {
		err = fmt.Errorf("count catalog items: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals WHERE status=$1`, ProposalPending).Scan(&pendingProposals); err != nil {
		err = fmt.Errorf("count pending proposals: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals WHERE status=$1`, ProposalApproved).Scan(&approvedProposals); err != nil {
		err = fmt.Errorf("count approved proposals: %w", err)
		return
	}
	return
}
