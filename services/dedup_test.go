package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"licitascan/models"
)

// memDedupStore is an in-memory DedupStore for batch-pass tests.
type memDedupStore struct {
	listings []*models.Listing
}

func (m *memDedupStore) GetListingsByExpedient(_ context.Context, expedient string) ([]models.Listing, error) {
	var out []models.Listing
	for _, l := range m.listings {
		if l.ExpedientNumber == expedient {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memDedupStore) GetListingsByNumber(_ context.Context, number string) ([]models.Listing, error) {
	var out []models.Listing
	for _, l := range m.listings {
		if l.ListingNumber == number {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memDedupStore) GetListingByContentHash(_ context.Context, hash string) (*models.Listing, error) {
	for _, l := range m.listings {
		if l.ContentHash == hash {
			return l, nil
		}
	}
	return nil, nil
}

func (m *memDedupStore) UpdateListing(_ context.Context, updated *models.Listing) error {
	for i, l := range m.listings {
		if l.ID == updated.ID {
			m.listings[i] = updated
			return nil
		}
	}
	return nil
}

func (m *memDedupStore) DeleteListing(_ context.Context, id uuid.UUID) error {
	kept := m.listings[:0]
	for _, l := range m.listings {
		if l.ID != id {
			kept = append(kept, l)
		}
	}
	m.listings = kept
	return nil
}

func (m *memDedupStore) ForEachListing(_ context.Context, jurisdiction string, fn func(*models.Listing) error) error {
	snapshot := append([]*models.Listing{}, m.listings...)
	for _, l := range snapshot {
		if jurisdiction != "" && l.Jurisdiction != jurisdiction {
			continue
		}
		// Rows deleted mid-pass are skipped, like a keyset cursor would.
		if !m.contains(l.ID) {
			continue
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func (m *memDedupStore) contains(id uuid.UUID) bool {
	for _, l := range m.listings {
		if l.ID == id {
			return true
		}
	}
	return false
}

func TestIsSameListing_ExpedientWins(t *testing.T) {
	a := &models.Listing{ExpedientNumber: "EX-2025-12345-APN", Title: "Compra de insumos"}
	b := &models.Listing{ExpedientNumber: "  ex-2025-12345-apn ", Title: "Algo completamente distinto"}

	if !IsSameListing(a, b) {
		t.Fatal("matching expedient numbers must identify the same listing")
	}
}

func TestIsSameListing_ExpedientOverridesHash(t *testing.T) {
	// Different hashes are irrelevant once the expedient matches.
	a := &models.Listing{ExpedientNumber: "EX-1", ContentHash: "aaaa"}
	b := &models.Listing{ExpedientNumber: "EX-1", ContentHash: "bbbb"}
	if !IsSameListing(a, b) {
		t.Fatal("expedient match must win over hash mismatch")
	}
}

func TestIsSameListing_ListingNumber(t *testing.T) {
	a := &models.Listing{ListingNumber: "LP 7/2025"}
	b := &models.Listing{ListingNumber: "LP 7/2025"}
	if !IsSameListing(a, b) {
		t.Fatal("matching listing numbers must identify the same listing")
	}
}

func TestIsSameListing_ContentHash(t *testing.T) {
	a := &models.Listing{ContentHash: "deadbeef"}
	b := &models.Listing{ContentHash: "deadbeef"}
	if !IsSameListing(a, b) {
		t.Fatal("matching content hashes must identify the same listing")
	}
}

func TestIsSameListing_Fuzzy(t *testing.T) {
	pub := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	pubClose := pub.AddDate(0, 0, 3)

	a := &models.Listing{
		Title:           "Adquisición de equipamiento informático para escuelas",
		Organization:    "Ministerio de Educación",
		PublicationDate: &pub,
	}
	b := &models.Listing{
		Title:           "Adquisicion de equipamiento informatico para escuelas",
		Organization:    "Ministerio de Educacion",
		PublicationDate: &pubClose,
	}
	if !IsSameListing(a, b) {
		t.Fatal("near-identical titles and orgs within the window must match")
	}

	// Same text but published a month apart: different procurement.
	pubFar := pub.AddDate(0, 1, 0)
	b.PublicationDate = &pubFar
	if IsSameListing(a, b) {
		t.Fatal("publication dates a month apart must not fuzzy-match")
	}
}

func TestIsSameListing_FuzzyBothDatesNil(t *testing.T) {
	a := &models.Listing{Title: "Provisión de gas natural", Organization: "Hospital Central"}
	b := &models.Listing{Title: "Provision de gas natural", Organization: "Hospital Central"}
	if !IsSameListing(a, b) {
		t.Fatal("two undated listings with matching text must fuzzy-match")
	}
}

func TestIsSameListing_Distinct(t *testing.T) {
	a := &models.Listing{Title: "Compra de ambulancias", Organization: "Ministerio de Salud"}
	b := &models.Listing{Title: "Pavimentación de rutas", Organization: "Vialidad Provincial"}
	if IsSameListing(a, b) {
		t.Fatal("unrelated listings must not match")
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("Licitación Pública", "licitacion publica"); got != 100 {
		t.Fatalf("normalized-identical strings should score 100, got %d", got)
	}
	if got := Similarity("", "algo"); got != 0 {
		t.Fatalf("empty string should score 0, got %d", got)
	}
	if got := Similarity("hospital regional", "hospital regionel"); got < 85 {
		t.Fatalf("one-letter difference should score high, got %d", got)
	}
}

func TestMerge_FieldPreferences(t *testing.T) {
	basePub := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	dupPub := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	dupOpening := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	dupID := uuid.New()
	base := &models.Listing{
		ID:              uuid.New(),
		Source:          "comprar",
		Title:           "Compra de insumos",
		Description:     "corta",
		ExpedientNumber: "EX-1",
		PublicationDate: &basePub,
		Keywords:        []string{"insumos"},
		AlertGroupIDs:   []string{"salud"},
		EnrichmentLevel: models.EnrichmentBasic,
	}
	duplicate := &models.Listing{
		ID:              dupID,
		Source:          "bac",
		Title:           "Compra de insumos hospitalarios descartables",
		Description:     "una descripción mucho más larga y completa",
		ListingNumber:   "LP 9/2025",
		PublicationDate: &dupPub,
		OpeningDate:     &dupOpening,
		Keywords:        []string{"insumos", "hospital"},
		AlertGroupIDs:   []string{"salud", "descartables"},
		EnrichmentLevel: models.EnrichmentDetailed,
	}

	Merge(base, duplicate)

	if base.Title != "Compra de insumos hospitalarios descartables" {
		t.Fatalf("longer title should win, got %q", base.Title)
	}
	if base.ExpedientNumber != "EX-1" || base.ListingNumber != "LP 9/2025" {
		t.Fatal("non-empty keys from both sides should survive")
	}
	if !base.PublicationDate.Equal(basePub) {
		t.Fatal("base publication date should win when both are set")
	}
	if base.OpeningDate == nil || !base.OpeningDate.Equal(dupOpening) {
		t.Fatal("duplicate opening date should fill the gap")
	}
	if len(base.Keywords) != 2 {
		t.Fatalf("keywords should union without repeats, got %v", base.Keywords)
	}
	if len(base.AlertGroupIDs) != 2 {
		t.Fatalf("alert groups should union, got %v", base.AlertGroupIDs)
	}
	if base.Source != "comprar,bac" {
		t.Fatalf("sources should join, got %q", base.Source)
	}
	if base.EnrichmentLevel != models.EnrichmentDetailed {
		t.Fatalf("higher enrichment level should win, got %d", base.EnrichmentLevel)
	}
	if !base.IsMerged {
		t.Fatal("merge target must be flagged merged")
	}
	if len(base.MergedFromIDs) != 1 || base.MergedFromIDs[0] != dupID.String() {
		t.Fatalf("loser id must be recorded, got %v", base.MergedFromIDs)
	}
}

func TestMerge_CarriesTransitiveMergeHistory(t *testing.T) {
	older := uuid.New().String()
	dup := &models.Listing{ID: uuid.New(), MergedFromIDs: []string{older}}
	base := &models.Listing{ID: uuid.New()}

	Merge(base, dup)

	if len(base.MergedFromIDs) != 2 {
		t.Fatalf("expected both the duplicate and its own history, got %v", base.MergedFromIDs)
	}
}

func TestPublicationDatesClose(t *testing.T) {
	a := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	within := a.AddDate(0, 0, 7)
	outside := a.AddDate(0, 0, 8)

	if !publicationDatesClose(&a, &within) {
		t.Fatal("dates exactly 7 days apart should be close")
	}
	if publicationDatesClose(&a, &outside) {
		t.Fatal("dates 8 days apart should not be close")
	}
	if !publicationDatesClose(nil, nil) {
		t.Fatal("two nil dates should count as close")
	}
	if publicationDatesClose(&a, nil) {
		t.Fatal("one nil date should not count as close")
	}
}

// The same procurement published by two portals collapses to one
// record during a batch pass: one merge, one delete.
func TestRunBatch_CrossSourceDuplicate(t *testing.T) {
	pub := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	keep := &models.Listing{
		ID:              uuid.New(),
		Source:          "comprar",
		ExpedientNumber: "EX-2025-777-APN",
		Title:           "Provisión de equipamiento médico",
		Jurisdiction:    "nacional",
		PublicationDate: &pub,
	}
	dup := &models.Listing{
		ID:              uuid.New(),
		Source:          "boletin",
		ExpedientNumber: "EX-2025-777-APN",
		Title:           "Provisión de equipamiento médico para hospitales públicos",
		Jurisdiction:    "nacional",
		PublicationDate: &pub,
	}
	distinct := &models.Listing{
		ID:              uuid.New(),
		Source:          "comprar",
		ExpedientNumber: "EX-2025-999-APN",
		Title:           "Obra de pavimentación urbana",
		Jurisdiction:    "nacional",
	}
	store := &memDedupStore{listings: []*models.Listing{keep, dup, distinct}}
	svc := NewDedupService(store)

	result, err := svc.RunBatch(context.Background(), "")
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Merged != 1 || result.Deleted != 1 {
		t.Fatalf("result = %+v, want merged=1 deleted=1", result)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(store.listings) != 2 {
		t.Fatalf("store has %d listings, want 2", len(store.listings))
	}

	merged, err := store.GetListingsByExpedient(context.Background(), "EX-2025-777-APN")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expedient now maps to %d rows, want 1", len(merged))
	}
	winner := merged[0]
	if !winner.IsMerged {
		t.Fatal("merge target must be flagged merged")
	}
	if len(winner.MergedFromIDs) != 1 || winner.MergedFromIDs[0] != dup.ID.String() {
		t.Fatalf("mergedFromIds = %v, want the absorbed id", winner.MergedFromIDs)
	}
	if winner.Source != "comprar,boletin" && winner.Source != "boletin,comprar" {
		t.Fatalf("sources not joined: %q", winner.Source)
	}
	if winner.Title != "Provisión de equipamiento médico para hospitales públicos" {
		t.Fatalf("longer title must win, got %q", winner.Title)
	}
}

// A jurisdiction-scoped pass leaves other jurisdictions untouched.
func TestRunBatch_JurisdictionScope(t *testing.T) {
	a := &models.Listing{ID: uuid.New(), Source: "comprar", ExpedientNumber: "EX-1", Jurisdiction: "caba"}
	b := &models.Listing{ID: uuid.New(), Source: "bac", ExpedientNumber: "EX-1", Jurisdiction: "caba"}
	c := &models.Listing{ID: uuid.New(), Source: "comprar", ExpedientNumber: "EX-2", Jurisdiction: "cordoba"}
	store := &memDedupStore{listings: []*models.Listing{a, b, c}}
	svc := NewDedupService(store)

	result, err := svc.RunBatch(context.Background(), "caba")
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("processed = %d, want 1 (the merge absorbs the sibling)", result.Processed)
	}
	if result.Merged != 1 {
		t.Fatalf("merged = %d, want 1", result.Merged)
	}
	if !store.contains(c.ID) {
		t.Fatal("other jurisdiction must be untouched")
	}
}
