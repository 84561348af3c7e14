// Package app wires the HTTP surface to the proposal pipeline, catalog, and
// session handling.
package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/auth"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/authpw"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/catalog"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/config"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/email"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/media"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/rbac"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/search"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/session"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/store"
	"github.com/andreicolegio-lgtm/libratrack-api-sub000/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateProposalInput struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	SuggestedType   string `json:"suggestedType"`
	SuggestedGenres string `json:"suggestedGenres"`
	ProgressUnit    string `json:"progressUnit"`
	ProgressTotal   int    `json:"progressTotal"`
}

type CreateItemInput struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	TypeName      string `json:"typeName"`
	Genres        string `json:"genres"`
	ProgressUnit  string `json:"progressUnit"`
	ProgressTotal int    `json:"progressTotal"`
}

var allowedProposalStatuses = map[string]struct{}{
	store.ProposalPending:  {},
	store.ProposalApproved: {},
	store.ProposalRejected: {},
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	InsertProposal(context.Context, store.Proposal) error
	GetProposal(context.Context, string) (store.Proposal, error)
	ListProposalsByStatus(context.Context, string) ([]store.Proposal, error)
	PromoteProposal(context.Context, store.CatalogItem, string, string) (store.CatalogItem, error)
	RejectProposal(context.Context, string, string, string) error
	InsertCatalogItem(context.Context, store.CatalogItem) (store.CatalogItem, error)
	GetCatalogItem(context.Context, string) (store.CatalogItem, error)
	ListCatalogItems(context.Context, int, int) ([]store.CatalogItem, error)
	SetCatalogItemCover(context.Context, string, string) error
	ListAllowedGenres(context.Context, string) ([]store.Genre, error)
	SummaryCounts(context.Context) (int, int, int, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions session.Store
	engine   *catalog.Engine
	authpw   *authpw.Service
	email    *email.Service
	search   *search.Service
	media    *media.Service
}

// Options carries the optional collaborators. Nil fields disable the
// corresponding feature rather than failing startup.
type Options struct {
	AuthPW *authpw.Service
	Email  *email.Service
	Search *search.Service
	Media  *media.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions session.Store, engine *catalog.Engine, opts Options) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		engine:   engine,
		authpw:   opts.AuthPW,
		email:    opts.Email,
		search:   opts.Search,
		media:    opts.Media,
	}
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail delivers the activation link when SMTP is set up.
func (s *Service) SendVerificationEmail(userName, to, token string) error {
	if !s.SMTPConfigured() {
		return nil
	}
	return s.email.SendVerificationEmail(to, userName, s.cfg.CORSOrigin+"/verify?token="+token)
}

// SendPasswordResetEmail delivers the reset link when SMTP is set up.
func (s *Service) SendPasswordResetEmail(userName, to, token string) error {
	if !s.SMTPConfigured() {
		return nil
	}
	return s.email.SendPasswordResetEmail(to, userName, s.cfg.CORSOrigin+"/reset?token="+token)
}

// ---- sessions ----

// CreateSession issues an access/refresh token pair for a user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked before the new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and rehydrates the session.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes both halves of the token pair. Best effort; logout never
// fails.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---- proposals ----

// CreateProposal records a community suggestion as PENDING. The suggested
// type and genres are stored as raw text; they are only validated when a
// moderator approves, so a malformed proposal sits in the queue until then.
func (s *Service) CreateProposal(ctx context.Context, session Session, input CreateProposalInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	proposal := store.Proposal{
		ID:              util.NewID("prop"),
		ProposerID:      session.UserID,
		Title:           title,
		Description:     strings.TrimSpace(input.Description),
		SuggestedType:   input.SuggestedType,
		SuggestedGenres: input.SuggestedGenres,
		Status:          store.ProposalPending,
		ProgressUnit:    input.ProgressUnit,
		ProgressTotal:   input.ProgressTotal,
	}
	if err := s.store.InsertProposal(ctx, proposal); err != nil {
		return nil, err
	}

	stored, err := s.store.GetProposal(ctx, proposal.ID)
	if err != nil {
		return nil, err
	}
	return proposalPayload(stored), nil
}

// ListProposals returns proposals in a given status, oldest first. An empty
// status defaults to the moderation queue (PENDING).
func (s *Service) ListProposals(ctx context.Context, status string) (map[string]any, error) {
	if status == "" {
		status = store.ProposalPending
	}
	status = strings.ToUpper(status)
	if _, ok := allowedProposalStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be PENDING, APPROVED, or REJECTED", nil)
	}

	proposals, err := s.store.ListProposalsByStatus(ctx, status)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(proposals))
	for _, proposal := range proposals {
		items = append(items, proposalPayload(proposal))
	}
	return map[string]any{"proposals": items}, nil
}

// GetProposal returns a single proposal. Non-moderators only see their own.
func (s *Service) GetProposal(ctx context.Context, session Session, proposalID string) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !s.Can(session.Role, rbac.ActionModerate) && proposal.ProposerID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return proposalPayload(proposal), nil
}

// ApproveProposal resolves the proposal's suggested type and genres to
// canonical entities, then atomically publishes the catalog item and flips
// the proposal to APPROVED. Registry rows created during resolution are kept
// even when the final promotion fails; they are harmless while unreferenced.
//
// The published item is attributed to the proposer, not the approving
// moderator.
func (s *Service) ApproveProposal(ctx context.Context, proposalID string, reviewer Session) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != store.ProposalPending {
		return nil, errProposalDecided(proposal.Status)
	}

	mediaType, genres, err := s.engine.Resolve(ctx, proposal.SuggestedType, proposal.SuggestedGenres)
	if err != nil {
		return nil, mapResolveError(err)
	}

	item := store.CatalogItem{
		ID:            util.NewID("item"),
		Title:         proposal.Title,
		Description:   proposal.Description,
		Type:          mediaType,
		Genres:        genres,
		Origin:        store.OriginCommunity,
		CreatedBy:     proposal.ProposerID,
		ProgressUnit:  proposal.ProgressUnit,
		ProgressTotal: proposal.ProgressTotal,
	}

	item, err = s.store.PromoteProposal(ctx, item, proposalID, reviewer.UserID)
	if err != nil {
		if errors.Is(err, store.ErrProposalDecided) {
			return nil, errProposalDecided("")
		}
		return nil, err
	}

	s.indexItem(item)

	approved, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"proposal": proposalPayload(approved),
		"item":     itemPayload(item),
	}, nil
}

// RejectProposal records a terminal rejection with optional moderator
// comments. No catalog item or registry entries are created.
func (s *Service) RejectProposal(ctx context.Context, proposalID string, reviewer Session, comments string) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != store.ProposalPending {
		return nil, errProposalDecided(proposal.Status)
	}

	if err := s.store.RejectProposal(ctx, proposalID, reviewer.UserID, strings.TrimSpace(comments)); err != nil {
		if errors.Is(err, store.ErrProposalDecided) {
			return nil, errProposalDecided("")
		}
		return nil, err
	}

	rejected, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return proposalPayload(rejected), nil
}

// ---- catalog ----

// CreateOfficialItem publishes a moderator-authored item directly, skipping
// the proposal queue. Type and genres go through the same resolution as
// approvals.
func (s *Service) CreateOfficialItem(ctx context.Context, session Session, input CreateItemInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	mediaType, genres, err := s.engine.Resolve(ctx, input.TypeName, input.Genres)
	if err != nil {
		return nil, mapResolveError(err)
	}

	item := store.CatalogItem{
		ID:            util.NewID("item"),
		Title:         title,
		Description:   strings.TrimSpace(input.Description),
		Type:          mediaType,
		Genres:        genres,
		Origin:        store.OriginOfficial,
		CreatedBy:     session.UserID,
		ProgressUnit:  input.ProgressUnit,
		ProgressTotal: input.ProgressTotal,
	}

	item, err = s.store.InsertCatalogItem(ctx, item)
	if err != nil {
		return nil, err
	}

	s.indexItem(item)

	return itemPayload(item), nil
}

func (s *Service) ListCatalog(ctx context.Context, limit, offset int) (map[string]any, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.store.ListCatalogItems(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, itemPayload(item))
	}
	return map[string]any{"items": payloads}, nil
}

func (s *Service) GetCatalogItem(ctx context.Context, itemID string) (map[string]any, error) {
	item, err := s.store.GetCatalogItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	payload := itemPayload(item)
	if item.CoverKey != "" && s.media != nil {
		if coverURL, err := s.media.CoverURL(ctx, item.CoverKey, time.Hour); err == nil {
			payload["coverUrl"] = coverURL
		}
	}
	return payload, nil
}

// UploadCover stores a cover image for an item and records its object key.
// A previous cover is deleted only after the replacement is saved.
func (s *Service) UploadCover(ctx context.Context, itemID, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Cover storage is not configured", nil)
	}

	item, err := s.store.GetCatalogItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	key, err := s.media.UploadCover(ctx, item.ID, contentType, body, size)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedType) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "cover must be JPEG, PNG, or WebP", nil)
		}
		return nil, err
	}

	if err := s.store.SetCatalogItemCover(ctx, item.ID, key); err != nil {
		return nil, err
	}

	if item.CoverKey != "" {
		_ = s.media.DeleteCover(ctx, item.CoverKey)
	}

	return map[string]any{"itemId": item.ID, "coverKey": key}, nil
}

// TypeGenres returns the genres observed on published items of a type.
// Informational; approval never enforces membership.
func (s *Service) TypeGenres(ctx context.Context, typeID string) (map[string]any, error) {
	genres, err := s.store.ListAllowedGenres(ctx, typeID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(genres))
	for _, genre := range genres {
		payloads = append(payloads, map[string]any{"id": genre.ID, "name": genre.Name})
	}
	return map[string]any{"typeId": typeID, "genres": payloads}, nil
}

// Search runs a catalog full-text query.
func (s *Service) Search(ctx context.Context, text, filterType, filterOrigin string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:         text,
		FilterType:   filterType,
		FilterOrigin: strings.ToUpper(filterOrigin),
		Limit:        limit,
		Offset:       offset,
	}), nil
}

// Summary returns dashboard counts.
func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	catalogItems, pending, approved, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"catalogItems":      catalogItems,
		"pendingProposals":  pending,
		"approvedProposals": approved,
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) indexItem(item store.CatalogItem) {
	if s.search == nil {
		return
	}
	genres := make([]string, 0, len(item.Genres))
	for _, genre := range item.Genres {
		genres = append(genres, genre.Name)
	}
	s.search.IndexItem(search.ItemRecord{
		ID:       item.ID,
		Title:    item.Title,
		TypeName: item.Type.Name,
		Genres:   genres,
		Origin:   item.Origin,
	})
}

// ---- error mapping ----

func errProposalDecided(status string) *DomainError {
	message := "Proposal has already been decided"
	var details any
	if status != "" {
		details = map[string]any{"status": status}
	}
	return domainError(http.StatusUnprocessableEntity, "PROPOSAL_ALREADY_DECIDED", message, details)
}

func mapResolveError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrBlankType):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "suggested type is required", nil)
	case errors.Is(err, catalog.ErrNoGenres):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one genre is required", nil)
	case errors.Is(err, catalog.ErrRegistryConflict):
		return domainError(http.StatusConflict, "REGISTRY_CONFLICT", "Registry write conflict, retry the request", nil)
	default:
		return err
	}
}

// ---- payloads ----

func proposalPayload(p store.Proposal) map[string]any {
	payload := map[string]any{
		"id":              p.ID,
		"title":           p.Title,
		"description":     p.Description,
		"suggestedType":   p.SuggestedType,
		"suggestedGenres": p.SuggestedGenres,
		"status":          p.Status,
		"proposerId":      p.ProposerID,
		"proposerName":    p.ProposerName,
		"progressUnit":    p.ProgressUnit,
		"progressTotal":   p.ProgressTotal,
		"createdAt":       p.CreatedAt,
	}
	if p.ReviewerID != nil {
		payload["reviewerId"] = *p.ReviewerID
	}
	if p.ReviewComments != "" {
		payload["reviewComments"] = p.ReviewComments
	}
	if p.ReviewedAt != nil {
		payload["reviewedAt"] = *p.ReviewedAt
	}
	return payload
}

func itemPayload(item store.CatalogItem) map[string]any {
	genres := make([]map[string]any, 0, len(item.Genres))
	for _, genre := range item.Genres {
		genres = append(genres, map[string]any{"id": genre.ID, "name": genre.Name})
	}
	payload := map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"description": item.Description,
		"type":        map[string]any{"id": item.Type.ID, "name": item.Type.Name},
		"genres":      genres,
		"origin":      item.Origin,
		"createdBy":   item.CreatedBy,
		"createdAt":   item.CreatedAt,
	}
	if item.ProgressUnit != "" {
		payload["progressUnit"] = item.ProgressUnit
		payload["progressTotal"] = item.ProgressTotal
	}
	if item.CoverKey != "" {
		payload["coverKey"] = item.CoverKey
	}
	return payload
}
