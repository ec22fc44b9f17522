package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"licitascan/config"
	"licitascan/identity"
	"licitascan/models"
)

// ListingStore is the slice of the store the ingest pipeline needs.
// *storage.PostgresStore satisfies it.
type ListingStore interface {
	GetListingBySourceID(ctx context.Context, source, sourceListingID string) (*models.Listing, error)
	GetListingByContentHash(ctx context.Context, hash string) (*models.Listing, error)
	GetListingByFamilyNumber(ctx context.Context, sources []string, listingNumber string) (*models.Listing, error)
	InsertListing(ctx context.Context, l *models.Listing) error
	UpdateListing(ctx context.Context, l *models.Listing) error
}

// IngestService turns one RawListing into store mutations: inline
// dedup, cheap enrichment, non-clobbering merge, keyword tagging.
type IngestService struct {
	store    ListingStore
	matcher  *MatcherService
	validity config.ValidityConfig

	// families maps a family name to the sources in it, for the
	// secondary dedup key shared within a family.
	families map[string][]string
}

func NewIngestService(store ListingStore, matcher *MatcherService, cfg *config.Config) *IngestService {
	families := make(map[string][]string)
	for name, src := range cfg.Sources {
		if src.Family != "" {
			families[src.Family] = append(families[src.Family], name)
		}
	}
	return &IngestService{
		store:    store,
		matcher:  matcher,
		validity: cfg.Validity,
		families: families,
	}
}

// ProcessResult is the outcome of processing one RawListing.
type ProcessResult struct {
	Listing          *models.Listing
	IsNew            bool
	IsUpdated        bool
	DuplicateSkipped bool
	AddedGroups      []string
	Warnings         []string
}

// ProcessStats aggregates results over one run.
type ProcessStats struct {
	Saved             int
	Updated           int
	DuplicatesSkipped int
}

func (s *ProcessStats) Aggregate(r *ProcessResult) {
	switch {
	case r.DuplicateSkipped:
		s.DuplicatesSkipped++
	case r.IsNew:
		s.Saved++
	case r.IsUpdated:
		s.Updated++
	}
}

// ProcessListing saves or updates one raw listing. Idempotent: feeding
// the same adapter output twice leaves the same final state, with the
// second pass updating in place.
func (s *IngestService) ProcessListing(ctx context.Context, raw *models.RawListing, source string, family string) (*ProcessResult, error) {
	if strings.TrimSpace(raw.SourceListingID) == "" {
		return nil, fmt.Errorf("raw listing has no source listing id")
	}

	result := &ProcessResult{}
	now := time.Now()
	hash := identity.ContentHash(raw.Title, raw.Organization, raw.PublicationDate)

	// Opening before publication is a source data defect. The record is
	// still saved; the run carries the warning.
	if raw.OpeningDate != nil && raw.PublicationDate != nil && raw.OpeningDate.Before(*raw.PublicationDate) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%s: opening date %s precedes publication date %s",
				raw.SourceListingID,
				raw.OpeningDate.Format("2006-01-02"),
				raw.PublicationDate.Format("2006-01-02")))
	}

	// Inline dedup, priority order: exact identity, then content hash
	// under a different identity, then the family secondary key.
	existing, err := s.store.GetListingBySourceID(ctx, source, raw.SourceListingID)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}

	if existing == nil {
		byHash, err := s.store.GetListingByContentHash(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("hash lookup: %w", err)
		}
		if byHash != nil && byHash.SourceListingID != raw.SourceListingID {
			// Same content under another identity: an accidental
			// duplicate, counted, never saved.
			result.Listing = byHash
			result.DuplicateSkipped = true
			return result, nil
		}

		if raw.ListingNumber != "" && family != "" {
			siblings := s.families[family]
			if len(siblings) > 0 {
				byNumber, err := s.store.GetListingByFamilyNumber(ctx, siblings, raw.ListingNumber)
				if err != nil {
					return nil, fmt.Errorf("family lookup: %w", err)
				}
				existing = byNumber
			}
		}
	}

	if existing == nil {
		listing := s.newListing(raw, source, hash, now)
		if err := s.store.InsertListing(ctx, listing); err != nil {
			return nil, fmt.Errorf("insert: %w", err)
		}
		result.Listing = listing
		result.IsNew = true
	} else {
		changed := applyRawUpdate(existing, raw, hash)
		if changed {
			existing.UpdatedAt = now
			existing.LastAutoUpdateAt = &now
			if err := s.store.UpdateListing(ctx, existing); err != nil {
				return nil, fmt.Errorf("update: %w", err)
			}
			result.IsUpdated = true
		}
		result.Listing = existing
	}

	// Tag against the compiled alert groups; membership only grows.
	if s.matcher != nil {
		matched := s.matcher.Evaluate(result.Listing)
		added := s.matcher.ApplyMatches(ctx, result.Listing, matched)
		if len(added) > 0 {
			result.AddedGroups = added
			result.Listing.UpdatedAt = now
			if err := s.store.UpdateListing(ctx, result.Listing); err != nil {
				return nil, fmt.Errorf("persist matches: %w", err)
			}
		}
	}

	return result, nil
}

func (s *IngestService) newListing(raw *models.RawListing, source, hash string, now time.Time) *models.Listing {
	objectSummary := raw.ObjectSummary
	if objectSummary == "" {
		objectSummary = ExtractObjectSummary(raw.Title, raw.Description)
	}
	category := raw.Category
	if category == "" {
		category = ClassifyCategory(raw.Title + " " + objectSummary)
	}

	l := &models.Listing{
		ID:              uuid.New(),
		Source:          source,
		SourceListingID: raw.SourceListingID,
		SourceURL:       raw.SourceURL,
		SourceURLs:      raw.SourceURLs,
		ExpedientNumber: raw.ExpedientNumber,
		ListingNumber:   raw.ListingNumber,
		ContentHash:     hash,
		Title:           raw.Title,
		Organization:    raw.Organization,
		Description:     raw.Description,
		ObjectSummary:   objectSummary,
		Category:        category,
		Jurisdiction:    raw.Jurisdiction,
		Keywords:        raw.Keywords,
		AttachedFiles:   raw.AttachedFiles,
		PublicationDate: raw.PublicationDate,
		OpeningDate:     raw.OpeningDate,
		ExpirationDate:  raw.ExpirationDate,
		ExtensionDate:   raw.ExtensionDate,
		WorkflowState:   models.WorkflowDiscovered,
		EnrichmentLevel: models.EnrichmentBasic,
		FirstSeenAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	l.ValidityState = ComputeValidity(s.validity, l.PublicationDate, l.OpeningDate, l.ExtensionDate, now)

	best, quality := BestURL(l)
	l.CanonicalURL = best
	l.URLQuality = quality

	return l
}

// applyRawUpdate folds adapter-supplied fields into an existing record.
// Empty raw fields never clobber stored values. Reports whether
// anything changed.
func applyRawUpdate(l *models.Listing, raw *models.RawListing, hash string) bool {
	changed := false

	setString := func(dst *string, v string) {
		if v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	setDate := func(dst **time.Time, v *time.Time) {
		if v != nil && (*dst == nil || !(*dst).Equal(*v)) {
			*dst = v
			changed = true
		}
	}

	setString(&l.Title, raw.Title)
	setString(&l.Organization, raw.Organization)
	setString(&l.Description, raw.Description)
	setString(&l.ObjectSummary, raw.ObjectSummary)
	setString(&l.Category, raw.Category)
	setString(&l.Jurisdiction, raw.Jurisdiction)
	setString(&l.ExpedientNumber, raw.ExpedientNumber)
	setString(&l.ListingNumber, raw.ListingNumber)
	setString(&l.SourceURL, raw.SourceURL)
	setString(&l.ContentHash, hash)

	setDate(&l.PublicationDate, raw.PublicationDate)
	setDate(&l.OpeningDate, raw.OpeningDate)
	setDate(&l.ExpirationDate, raw.ExpirationDate)
	setDate(&l.ExtensionDate, raw.ExtensionDate)

	if len(raw.Keywords) > 0 {
		merged := unionStrings(l.Keywords, raw.Keywords)
		if len(merged) != len(l.Keywords) {
			l.Keywords = merged
			changed = true
		}
	}
	if len(raw.AttachedFiles) > 0 {
		merged := unionFiles(l.AttachedFiles, raw.AttachedFiles)
		if len(merged) != len(l.AttachedFiles) {
			l.AttachedFiles = merged
			changed = true
		}
	}
	for channel, url := range raw.SourceURLs {
		if l.SourceURLs == nil {
			l.SourceURLs = make(map[string]string)
		}
		if l.SourceURLs[channel] != url {
			l.SourceURLs[channel] = url
			changed = true
		}
	}

	if changed {
		best, quality := BestURL(l)
		if best != "" && best != l.CanonicalURL {
			l.CanonicalURL = best
			l.URLQuality = quality
		}
	}

	return changed
}
