package workers

import (
	"strings"
	"testing"

	"licitascan/models"
)

const detailFixture = `<!DOCTYPE html>
<html><body>
<nav>Inicio | Licitaciones</nav>
<article>
  <h1>Licitación Pública 12/2025</h1>
  <p>Objeto: Adquisición de insumos hospitalarios para el sistema provincial de salud,
  incluyendo material descartable y equipamiento menor para quirófanos.</p>
  <a href="/docs/pliego-12.pdf">Pliego de condiciones</a>
  <a href="/docs/circular-1.pdf?v=2">Circular aclaratoria 1</a>
  <a href="/docs/anexo-tecnico.docx">Anexo técnico</a>
  <a href="/docs/pliego-12.pdf">Pliego de condiciones (repetido)</a>
  <a href="/otras/licitaciones">Ver más</a>
</article>
</body></html>`

func TestParseDetailPage(t *testing.T) {
	detail, err := ParseDetailPage([]byte(detailFixture), "https://portal.gob.ar/licitacion/12")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if !strings.Contains(detail.Description, "insumos hospitalarios") {
		t.Fatalf("description not extracted: %q", detail.Description)
	}

	if len(detail.Attachments) != 3 {
		t.Fatalf("expected 3 unique attachments, got %d", len(detail.Attachments))
	}
	if detail.Attachments[0].URL != "https://portal.gob.ar/docs/pliego-12.pdf" {
		t.Fatalf("attachment URL not resolved, got %q", detail.Attachments[0].URL)
	}
	if detail.Attachments[0].Kind != "pliego" {
		t.Fatalf("expected kind pliego, got %q", detail.Attachments[0].Kind)
	}
	if detail.Attachments[1].Kind != "circular" {
		t.Fatalf("expected kind circular, got %q", detail.Attachments[1].Kind)
	}
	if detail.Attachments[2].Kind != "annex" {
		t.Fatalf("expected kind annex, got %q", detail.Attachments[2].Kind)
	}
}

func TestIsDocumentLink(t *testing.T) {
	cases := []struct {
		href string
		want bool
	}{
		{"/docs/pliego.pdf", true},
		{"/docs/pliego.PDF?download=1", true},
		{"/docs/planilla.xlsx", true},
		{"/licitacion/12", false},
		{"https://portal.gob.ar/detalle#seccion.pdf", false},
	}
	for _, c := range cases {
		if got := isDocumentLink(c.href); got != c.want {
			t.Fatalf("isDocumentLink(%q) = %v, want %v", c.href, got, c.want)
		}
	}
}

func TestAppendFile_Dedups(t *testing.T) {
	files := []models.AttachedFile{{Name: "a", URL: "https://x/a.pdf"}}
	files = appendFile(files, models.AttachedFile{Name: "a otra vez", URL: "https://x/a.pdf"})
	files = appendFile(files, models.AttachedFile{Name: "b", URL: "https://x/b.pdf"})
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
}
