package store

import "time"

// Proposal lifecycle. APPROVED and REJECTED are terminal.
const (
	ProposalPending  = "PENDING"
	ProposalApproved = "APPROVED"
	ProposalRejected = "REJECTED"
)

// CatalogItem origin markers.
const (
	OriginOfficial  = "OFFICIAL"
	OriginCommunity = "COMMUNITY"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
}

// MediaType is a canonical catalog type ("Book", "Anime", ...).
// Name is unique; rows are created lazily by the resolution engine and
// never deleted.
type MediaType struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Genre is a canonical genre. Name is unique, shared across all types.
type Genre struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Proposal struct {
	ID              string
	ProposerID      string
	ProposerName    string
	Title           string
	Description     string
	SuggestedType   string
	SuggestedGenres string
	Status          string
	ReviewerID      *string
	ReviewComments  string
	// Media-specific progress fields, copied verbatim into the catalog
	// item on approval.
	ProgressUnit  string
	ProgressTotal int
	CreatedAt     time.Time
	ReviewedAt    *time.Time
}

type CatalogItem struct {
	ID            string
	Title         string
	Description   string
	Type          MediaType
	Genres        []Genre
	Origin        string
	CreatedBy     string
	CoverKey      string
	ProgressUnit  string
	ProgressTotal int
	CreatedAt     time.Time
}
