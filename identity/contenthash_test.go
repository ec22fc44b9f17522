package identity

import (
	"testing"
	"time"
)

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  Licitación Pública N° 5/2025  ", "licitacion publica n 5 2025"},
		{"MINISTERIO   DE   SALUD", "ministerio de salud"},
		{"Obra: \"Ruta 40\" (tramo sur)", "obra ruta 40 tramo sur"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeText(c.in); got != c.want {
			t.Fatalf("NormalizeText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestContentHash_CosmeticVariantsCollide(t *testing.T) {
	pub := time.Date(2025, 5, 1, 10, 30, 0, 0, time.UTC)
	samePub := time.Date(2025, 5, 1, 23, 59, 0, 0, time.UTC) // same day, different time

	a := ContentHash("Adquisición de Equipamiento Informático", "Ministerio de Educación", &pub)
	b := ContentHash("  adquisicion de equipamiento informatico ", "MINISTERIO DE EDUCACION", &samePub)
	if a != b {
		t.Fatalf("cosmetic variants must hash identically: %s vs %s", a, b)
	}
}

func TestContentHash_DistinctInputsDiffer(t *testing.T) {
	pub := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	otherDay := pub.AddDate(0, 0, 1)

	base := ContentHash("Compra de insumos", "Hospital Central", &pub)
	if got := ContentHash("Compra de insumos", "Hospital Central", &otherDay); got == base {
		t.Fatal("different publication days must hash differently")
	}
	if got := ContentHash("Compra de insumos", "Hospital Regional", &pub); got == base {
		t.Fatal("different organizations must hash differently")
	}
	if got := ContentHash("Compra de insumos", "Hospital Central", nil); got == base {
		t.Fatal("missing date must hash differently from a set date")
	}
}

func TestContentHash_Stable(t *testing.T) {
	pub := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	h := ContentHash("Compra de insumos", "Hospital Central", &pub)
	if len(h) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(h))
	}
	for i := 0; i < 3; i++ {
		if got := ContentHash("Compra de insumos", "Hospital Central", &pub); got != h {
			t.Fatal("hash must be stable across calls")
		}
	}
}
