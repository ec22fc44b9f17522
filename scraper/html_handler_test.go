package scraper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"licitascan/config"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func portalConfig() *config.SourceConfig {
	return &config.SourceConfig{
		Name:         "Portal de prueba",
		URL:          "https://portal.gob.ar/licitaciones",
		Jurisdiction: "provincial",
		Selectors: map[string]string{
			"row":              "table#licitaciones tr.fila",
			"title":            "td.obj a",
			"organization":     "td.org",
			"expedient":        "td.exp",
			"number":           "td.num",
			"publication_date": "td.pub",
			"opening_date":     "td.ape",
			"link":             "td.obj a",
			"attachments":      "a.adjunto",
		},
	}
}

func TestHTMLHandler_ParseDocument(t *testing.T) {
	handler := NewHTMLHandler(portalConfig(), nil)
	data := loadFixture(t, "portal_table.html")

	listings, err := handler.parseDocument(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings (row without id and title dropped), got %d", len(listings))
	}

	first := listings[0]
	if first.SourceListingID != "EX-2025-04512345" {
		t.Fatalf("expected expedient as source id, got %q", first.SourceListingID)
	}
	if first.Title != "Adquisición de insumos hospitalarios" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	if first.Organization != "Ministerio de Salud" {
		t.Fatalf("unexpected organization %q", first.Organization)
	}
	if first.ListingNumber != "LP 12/2025" {
		t.Fatalf("unexpected listing number %q", first.ListingNumber)
	}
	if first.SourceURL != "https://portal.gob.ar/licitacion/4512345" {
		t.Fatalf("relative link not resolved, got %q", first.SourceURL)
	}
	if first.PublicationDate == nil || !first.PublicationDate.Equal(time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected publication date %v", first.PublicationDate)
	}
	if first.OpeningDate == nil || !first.OpeningDate.Equal(time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected opening date %v", first.OpeningDate)
	}
	if first.Jurisdiction != "provincial" {
		t.Fatalf("jurisdiction not applied, got %q", first.Jurisdiction)
	}

	second := listings[1]
	if second.SourceURL != "https://otro.gob.ar/detalle/99" {
		t.Fatalf("absolute link must pass through, got %q", second.SourceURL)
	}
	if second.OpeningDate != nil {
		t.Fatalf("empty opening date must stay nil, got %v", second.OpeningDate)
	}
	if len(second.AttachedFiles) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(second.AttachedFiles))
	}
	if second.AttachedFiles[0].URL != "https://portal.gob.ar/docs/pliego-99.pdf" {
		t.Fatalf("attachment URL not resolved, got %q", second.AttachedFiles[0].URL)
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want *time.Time
	}{
		{"05/05/2025", datePtr(time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC))},
		{"5/5/2025", datePtr(time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC))},
		{"2025-05-05", datePtr(time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC))},
		{" 05-05-2025 ", datePtr(time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC))},
		{"", nil},
		{"sin fecha", nil},
	}
	for _, c := range cases {
		got := parseDate(c.in)
		if (got == nil) != (c.want == nil) {
			t.Fatalf("parseDate(%q) = %v, want %v", c.in, got, c.want)
		}
		if got != nil && !got.Equal(*c.want) {
			t.Fatalf("parseDate(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func datePtr(t time.Time) *time.Time { return &t }
