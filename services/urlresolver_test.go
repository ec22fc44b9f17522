package services

import (
	"context"
	"testing"

	"licitascan/models"
)

func TestDetermineQuality(t *testing.T) {
	cases := []struct {
		url  string
		want models.URLQuality
	}{
		{"https://comprar.gob.ar/licitacion/123/pliego.pdf", models.URLQualityDirect},
		{"https://portal.gob.ar/detalle/EX-2025-1", models.URLQualityDirect},
		{"https://portal.gob.ar/proceso?id=99", models.URLQualityDirect},
		{"https://portal.gob.ar/visor?doc=abc", models.URLQualityProxy},
		{"https://portal.gob.ar/page.aspx?__doPostBack=1", models.URLQualityProxy},
		{"https://portal.gob.ar/busqueda", models.URLQualityPartial},
		{"", models.URLQualityPartial},
	}
	for _, c := range cases {
		if got := DetermineQuality(c.url); got != c.want {
			t.Fatalf("DetermineQuality(%q) = %s, want %s", c.url, got, c.want)
		}
	}
}

func TestBestURL_PrefersDirect(t *testing.T) {
	l := &models.Listing{
		SourceURL: "https://portal.gob.ar/visor?doc=abc",
		SourceURLs: map[string]string{
			"portal": "https://portal.gob.ar/licitacion/123/detalle.pdf",
			"lista":  "https://portal.gob.ar/busqueda",
		},
	}

	best, quality := BestURL(l)
	if best != "https://portal.gob.ar/licitacion/123/detalle.pdf" {
		t.Fatalf("expected direct channel URL, got %q", best)
	}
	if quality != models.URLQualityDirect {
		t.Fatalf("expected direct quality, got %s", quality)
	}
}

func TestBestURL_FallsBackToMainURL(t *testing.T) {
	l := &models.Listing{SourceURL: "https://portal.gob.ar/busqueda"}
	best, quality := BestURL(l)
	if best != l.SourceURL || quality != models.URLQualityPartial {
		t.Fatalf("expected the only URL back, got %q (%s)", best, quality)
	}
}

func TestResolveBestURL_PersistsOnlyOnChange(t *testing.T) {
	svc := NewURLService(nil)
	l := &models.Listing{
		SourceURL:    "https://portal.gob.ar/detalle/1",
		CanonicalURL: "https://portal.gob.ar/detalle/1",
		URLQuality:   models.URLQualityDirect,
	}

	changed, err := svc.ResolveBestURL(context.Background(), l)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if changed {
		t.Fatal("unchanged canonical URL must not report a change")
	}

	l.SourceURLs = map[string]string{"pliego": "https://portal.gob.ar/licitacion/1/pliego.pdf"}
	l.CanonicalURL = "https://portal.gob.ar/busqueda"
	l.URLQuality = models.URLQualityPartial

	changed, err = svc.ResolveBestURL(context.Background(), l)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !changed {
		t.Fatal("better candidate must report a change")
	}
	if l.URLQuality != models.URLQualityDirect {
		t.Fatalf("expected direct quality after resolve, got %s", l.URLQuality)
	}
}

type memURLStore struct {
	listings []*models.Listing
	updates  int
}

func (m *memURLStore) ForEachListing(_ context.Context, _ string, fn func(*models.Listing) error) error {
	for _, l := range m.listings {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func (m *memURLStore) UpdateListing(_ context.Context, _ *models.Listing) error {
	m.updates++
	return nil
}

func TestRecomputeAll_WritesOnlyChangedRows(t *testing.T) {
	settled := &models.Listing{
		SourceURL:    "https://portal.gob.ar/detalle/1",
		CanonicalURL: "https://portal.gob.ar/detalle/1",
		URLQuality:   models.URLQualityDirect,
	}
	stale := &models.Listing{
		SourceURL:    "https://portal.gob.ar/busqueda",
		CanonicalURL: "https://portal.gob.ar/busqueda",
		URLQuality:   models.URLQualityPartial,
		SourceURLs:   map[string]string{"pliego": "https://portal.gob.ar/licitacion/2/pliego.pdf"},
	}
	store := &memURLStore{listings: []*models.Listing{settled, stale}}
	svc := NewURLService(store)

	result, err := svc.RecomputeAll(context.Background(), "")
	if err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}
	if result.Checked != 2 {
		t.Fatalf("checked = %d, want 2", result.Checked)
	}
	if result.Changed != 1 {
		t.Fatalf("changed = %d, want 1", result.Changed)
	}
	if store.updates != 1 {
		t.Fatalf("updates = %d, only the stale row should be written", store.updates)
	}
	if stale.URLQuality != models.URLQualityDirect {
		t.Fatalf("stale row not promoted, quality %s", stale.URLQuality)
	}
}
