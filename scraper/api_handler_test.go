package scraper

import (
	"testing"

	"licitascan/config"
)

func TestAPIHandler_ParseResponse(t *testing.T) {
	handler := NewAPIHandler(&config.SourceConfig{Name: "BAC", Jurisdiction: "caba"}, nil)
	data := loadFixture(t, "api_listings.json")

	listings, err := handler.parseResponse(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings (untitled entry dropped), got %d", len(listings))
	}

	first := listings[0]
	if first.SourceListingID != "proc-2025-771" {
		t.Fatalf("unexpected source id %q", first.SourceListingID)
	}
	if first.Title != "Servicio de limpieza integral" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	if first.ObjectSummary != "Limpieza de edificios administrativos" {
		t.Fatalf("unexpected object summary %q", first.ObjectSummary)
	}
	if first.ExpedientNumber != "EX-2025-00771" || first.ListingNumber != "CD 3/2025" {
		t.Fatal("expedient and listing numbers must carry through")
	}
	if first.Jurisdiction != "caba" {
		t.Fatalf("jurisdiction not applied, got %q", first.Jurisdiction)
	}
	if first.PublicationDate == nil || first.OpeningDate == nil {
		t.Fatal("both date formats must parse")
	}

	second := listings[1]
	if second.SourceListingID != "EX-2025-00772" {
		t.Fatalf("missing id must fall back to expedient, got %q", second.SourceListingID)
	}
}

func TestAPIHandler_ParseBareArray(t *testing.T) {
	handler := NewAPIHandler(&config.SourceConfig{Name: "BAC"}, nil)
	body := []byte(`[{"id":"x1","titulo":"Compra de mobiliario","organismo":"Hacienda"}]`)

	listings, err := handler.parseResponse(body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(listings) != 1 || listings[0].SourceListingID != "x1" {
		t.Fatalf("unexpected result %+v", listings)
	}
}

func TestAPIHandler_ParseInvalid(t *testing.T) {
	handler := NewAPIHandler(&config.SourceConfig{Name: "BAC"}, nil)
	if _, err := handler.parseResponse([]byte("<html>error</html>")); err == nil {
		t.Fatal("expected error for non-JSON body")
	}
}
