package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"licitascan/identity"
	"licitascan/models"
)

const (
	titleSimilarityMin = 85
	orgSimilarityMin   = 90
	publicationWindow  = 7 * 24 * time.Hour
)

// DedupStore is the slice of the store the dedup pass needs.
// *storage.PostgresStore satisfies it.
type DedupStore interface {
	GetListingsByExpedient(ctx context.Context, expedient string) ([]models.Listing, error)
	GetListingsByNumber(ctx context.Context, listingNumber string) ([]models.Listing, error)
	GetListingByContentHash(ctx context.Context, hash string) (*models.Listing, error)
	UpdateListing(ctx context.Context, l *models.Listing) error
	DeleteListing(ctx context.Context, id uuid.UUID) error
	ForEachListing(ctx context.Context, jurisdiction string, fn func(*models.Listing) error) error
}

// DedupService decides when two listings describe the same procurement
// and merges them into one canonical record.
type DedupService struct {
	store DedupStore
}

func NewDedupService(store DedupStore) *DedupService {
	return &DedupService{store: store}
}

// Similarity is a normalized edit-distance ratio on a 0-100 scale.
func Similarity(a, b string) int {
	a = identity.NormalizeText(a)
	b = identity.NormalizeText(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	return 100 - (100*dist)/maxLen
}

// IsSameListing applies the identity rules in confidence order; the
// first rule that can decide wins. A false negative here is accepted:
// wrongly merging two distinct listings would be destructive.
func IsSameListing(a, b *models.Listing) bool {
	expA := strings.ToLower(strings.TrimSpace(a.ExpedientNumber))
	expB := strings.ToLower(strings.TrimSpace(b.ExpedientNumber))
	if expA != "" && expA == expB {
		return true
	}

	if a.ListingNumber != "" && a.ListingNumber == b.ListingNumber {
		return true
	}

	if a.ContentHash != "" && a.ContentHash == b.ContentHash {
		return true
	}

	if Similarity(a.Title, b.Title) >= titleSimilarityMin &&
		Similarity(a.Organization, b.Organization) >= orgSimilarityMin &&
		publicationDatesClose(a.PublicationDate, b.PublicationDate) {
		return true
	}

	return false
}

// Both dates absent counts as a match for the fuzzy sub-condition.
func publicationDatesClose(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	diff := a.Sub(*b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= publicationWindow
}

// Merge folds duplicate into base in place: prefer the non-empty value,
// the longer string when both are set, base's dates, and the union of
// arrays. Sources are comma-joined. The caller is responsible for
// deleting the duplicate record afterwards.
func Merge(base, duplicate *models.Listing) {
	base.Title = preferLonger(base.Title, duplicate.Title)
	base.Organization = preferLonger(base.Organization, duplicate.Organization)
	base.Description = preferLonger(base.Description, duplicate.Description)
	base.ObjectSummary = preferLonger(base.ObjectSummary, duplicate.ObjectSummary)
	base.Category = preferNonEmpty(base.Category, duplicate.Category)
	base.Jurisdiction = preferNonEmpty(base.Jurisdiction, duplicate.Jurisdiction)
	base.ExpedientNumber = preferNonEmpty(base.ExpedientNumber, duplicate.ExpedientNumber)
	base.ListingNumber = preferNonEmpty(base.ListingNumber, duplicate.ListingNumber)
	base.ContentHash = preferNonEmpty(base.ContentHash, duplicate.ContentHash)
	base.SourceURL = preferNonEmpty(base.SourceURL, duplicate.SourceURL)

	base.PublicationDate = preferDate(base.PublicationDate, duplicate.PublicationDate)
	base.OpeningDate = preferDate(base.OpeningDate, duplicate.OpeningDate)
	base.ExpirationDate = preferDate(base.ExpirationDate, duplicate.ExpirationDate)
	base.ExtensionDate = preferDate(base.ExtensionDate, duplicate.ExtensionDate)

	base.Keywords = unionStrings(base.Keywords, duplicate.Keywords)
	base.Tags = unionStrings(base.Tags, duplicate.Tags)
	base.AlertGroupIDs = unionStrings(base.AlertGroupIDs, duplicate.AlertGroupIDs)
	base.AttachedFiles = unionFiles(base.AttachedFiles, duplicate.AttachedFiles)

	if base.SourceURLs == nil && len(duplicate.SourceURLs) > 0 {
		base.SourceURLs = make(map[string]string, len(duplicate.SourceURLs))
	}
	for channel, url := range duplicate.SourceURLs {
		if _, ok := base.SourceURLs[channel]; !ok {
			base.SourceURLs[channel] = url
		}
	}

	base.Source = joinSources(base.Source, duplicate.Source)

	if duplicate.EnrichmentLevel > base.EnrichmentLevel {
		base.EnrichmentLevel = duplicate.EnrichmentLevel
	}

	base.IsMerged = true
	base.MergedFromIDs = unionStrings(base.MergedFromIDs, append(duplicate.MergedFromIDs, duplicate.ID.String()))

	best, quality := BestURL(base)
	if best != "" {
		base.CanonicalURL = best
		base.URLQuality = quality
	}
}

// BatchResult reports an entire dedup pass. Record-level failures are
// collected here, not raised.
type BatchResult struct {
	Processed int      `json:"processed"`
	Merged    int      `json:"merged"`
	Deleted   int      `json:"deleted"`
	Errors    []string `json:"errors,omitempty"`
}

// FindCandidates looks up potential duplicates of a listing through the
// three exact-key indexes.
func (s *DedupService) FindCandidates(ctx context.Context, l *models.Listing) ([]models.Listing, error) {
	seen := map[uuid.UUID]bool{l.ID: true}
	var candidates []models.Listing

	add := func(rows []models.Listing) {
		for i := range rows {
			if !seen[rows[i].ID] {
				seen[rows[i].ID] = true
				candidates = append(candidates, rows[i])
			}
		}
	}

	if l.ExpedientNumber != "" {
		rows, err := s.store.GetListingsByExpedient(ctx, l.ExpedientNumber)
		if err != nil {
			return nil, fmt.Errorf("expedient lookup: %w", err)
		}
		add(rows)
	}
	if l.ListingNumber != "" {
		rows, err := s.store.GetListingsByNumber(ctx, l.ListingNumber)
		if err != nil {
			return nil, fmt.Errorf("number lookup: %w", err)
		}
		add(rows)
	}
	if l.ContentHash != "" {
		row, err := s.store.GetListingByContentHash(ctx, l.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("hash lookup: %w", err)
		}
		if row != nil {
			add([]models.Listing{*row})
		}
	}

	return candidates, nil
}

// MergeInto merges duplicate into base and deletes the duplicate. The
// loser is gone for good; its id survives in mergedFromIds.
func (s *DedupService) MergeInto(ctx context.Context, base, duplicate *models.Listing) error {
	Merge(base, duplicate)
	base.UpdatedAt = time.Now()

	if err := s.store.UpdateListing(ctx, base); err != nil {
		return fmt.Errorf("update merge target: %w", err)
	}
	if err := s.store.DeleteListing(ctx, duplicate.ID); err != nil {
		return fmt.Errorf("delete merge loser: %w", err)
	}
	return nil
}

// RunBatch reconciles cross-source duplicates over the whole store,
// optionally scoped to one jurisdiction. One record's failure is
// logged and does not abort the batch.
func (s *DedupService) RunBatch(ctx context.Context, jurisdiction string) (*BatchResult, error) {
	result := &BatchResult{}
	merged := make(map[uuid.UUID]bool)

	err := s.store.ForEachListing(ctx, jurisdiction, func(l *models.Listing) error {
		if merged[l.ID] {
			return nil
		}
		result.Processed++

		candidates, err := s.FindCandidates(ctx, l)
		if err != nil {
			log.Printf("dedup: candidates for %s: %v", l.ID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", l.ID, err))
			return nil
		}

		for i := range candidates {
			dup := &candidates[i]
			if merged[dup.ID] || !IsSameListing(l, dup) {
				continue
			}
			if err := s.MergeInto(ctx, l, dup); err != nil {
				log.Printf("dedup: merge %s into %s: %v", dup.ID, l.ID, err)
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", dup.ID, err))
				continue
			}
			merged[dup.ID] = true
			result.Merged++
			result.Deleted++
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func preferNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func preferLonger(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if len(b) > len(a) {
		return b
	}
	return a
}

func preferDate(base, dup *time.Time) *time.Time {
	if base != nil {
		return base
	}
	return dup
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func unionFiles(a, b []models.AttachedFile) []models.AttachedFile {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]models.AttachedFile, 0, len(a)+len(b))
	for _, f := range append(append([]models.AttachedFile{}, a...), b...) {
		key := f.URL
		if key == "" {
			key = f.Name
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

func joinSources(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	seen := make(map[string]bool)
	var parts []string
	for _, src := range strings.Split(a+","+b, ",") {
		src = strings.TrimSpace(src)
		if src != "" && !seen[src] {
			seen[src] = true
			parts = append(parts, src)
		}
	}
	return strings.Join(parts, ",")
}
