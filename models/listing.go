package models

import (
	"time"

	"github.com/google/uuid"
)

type WorkflowState string

const (
	WorkflowDiscovered WorkflowState = "discovered"
	WorkflowEvaluating WorkflowState = "evaluating"
	WorkflowPreparing  WorkflowState = "preparing"
	WorkflowSubmitted  WorkflowState = "submitted"
	WorkflowDiscarded  WorkflowState = "discarded"
)

type ValidityState string

const (
	ValidityCurrent  ValidityState = "current"
	ValidityExpired  ValidityState = "expired"
	ValidityExtended ValidityState = "extended"
	ValidityArchived ValidityState = "archived"
)

type URLQuality string

const (
	URLQualityDirect  URLQuality = "direct"
	URLQualityProxy   URLQuality = "proxy"
	URLQualityPartial URLQuality = "partial"
)

// Enrichment levels
const (
	EnrichmentBasic     = 1
	EnrichmentDetailed  = 2
	EnrichmentDocuments = 3
)

// Listing is the unit of record: one procurement notice, possibly
// merged from several sources.
type Listing struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Source          string    `json:"source" db:"source"`
	SourceListingID string    `json:"source_listing_id" db:"source_listing_id"`

	SourceURL    string            `json:"source_url" db:"source_url"`
	CanonicalURL string            `json:"canonical_url" db:"canonical_url"`
	URLQuality   URLQuality        `json:"url_quality" db:"url_quality"`
	SourceURLs   map[string]string `json:"source_urls" db:"source_urls"` // per channel

	ExpedientNumber string `json:"expedient_number" db:"expedient_number"`
	ListingNumber   string `json:"listing_number" db:"listing_number"`
	ContentHash     string `json:"content_hash" db:"content_hash"`

	Title         string   `json:"title" db:"title"`
	Organization  string   `json:"organization" db:"organization"`
	Description   string   `json:"description" db:"description"`
	ObjectSummary string   `json:"object_summary" db:"object_summary"`
	Category      string   `json:"category" db:"category"`
	Jurisdiction  string   `json:"jurisdiction" db:"jurisdiction"`
	Keywords      []string `json:"keywords" db:"keywords"`
	Tags          []string `json:"tags" db:"tags"`

	AttachedFiles []AttachedFile `json:"attached_files" db:"attached_files"`

	PublicationDate *time.Time `json:"publication_date" db:"publication_date"`
	OpeningDate     *time.Time `json:"opening_date" db:"opening_date"`
	ExpirationDate  *time.Time `json:"expiration_date" db:"expiration_date"`
	ExtensionDate   *time.Time `json:"extension_date" db:"extension_date"`

	WorkflowState   WorkflowState        `json:"workflow_state" db:"workflow_state"`
	WorkflowHistory []WorkflowTransition `json:"workflow_history" db:"workflow_history"`
	ValidityState   ValidityState        `json:"validity_state" db:"validity_state"`
	EnrichmentLevel int                  `json:"enrichment_level" db:"enrichment_level"`

	AlertGroupIDs []string `json:"alert_group_ids" db:"alert_group_ids"`

	IsMerged      bool     `json:"is_merged" db:"is_merged"`
	MergedFromIDs []string `json:"merged_from_ids" db:"merged_from_ids"`

	FirstSeenAt      time.Time  `json:"first_seen_at" db:"first_seen_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	LastEnrichmentAt *time.Time `json:"last_enrichment_at" db:"last_enrichment_at"`
	LastAutoUpdateAt *time.Time `json:"last_auto_update_at" db:"last_auto_update_at"`
}

// AttachedFile is a document published alongside a listing.
type AttachedFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Kind string `json:"kind,omitempty"` // pliego, circular, annex
}

// WorkflowTransition is one entry of a listing's append-only review log.
type WorkflowTransition struct {
	From WorkflowState `json:"from"`
	To   WorkflowState `json:"to"`
	By   string        `json:"by,omitempty"`
	Note string        `json:"note,omitempty"`
	At   time.Time     `json:"at"`
}

// SearchQuery describes a combined filter/sort/paginate lookup over listings.
type SearchQuery struct {
	Source        string
	Jurisdiction  string
	Category      string
	WorkflowState WorkflowState
	ValidityState ValidityState
	AlertGroupID  string
	Text          string // matched against title and organization

	OrderBy   string // publication_date or opening_date
	Ascending bool
	NullsLast bool

	Limit  int
	Offset int
}
