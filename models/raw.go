package models

import (
	"encoding/json"
	"time"
)

// RawListing is what a source adapter emits: the Listing field set minus
// anything store-generated. Every field is optional; adapters fill in
// whatever the page exposes and leave the rest zero.
type RawListing struct {
	SourceListingID string `json:"source_listing_id"`

	Title         string `json:"title"`
	Organization  string `json:"organization"`
	Description   string `json:"description"`
	ObjectSummary string `json:"object_summary"`
	Category      string `json:"category"`
	Jurisdiction  string `json:"jurisdiction"`

	ExpedientNumber string `json:"expedient_number"`
	ListingNumber   string `json:"listing_number"`

	SourceURL  string            `json:"source_url"`
	SourceURLs map[string]string `json:"source_urls,omitempty"`

	PublicationDate *time.Time `json:"publication_date"`
	OpeningDate     *time.Time `json:"opening_date"`
	ExpirationDate  *time.Time `json:"expiration_date"`
	ExtensionDate   *time.Time `json:"extension_date"`

	Keywords      []string       `json:"keywords,omitempty"`
	AttachedFiles []AttachedFile `json:"attached_files,omitempty"`

	Data json.RawMessage `json:"data,omitempty"` // source payload, kept verbatim
}
