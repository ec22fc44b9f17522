package services

import (
	"regexp"
	"strings"
)

// CPU-only enrichment applied before first insert: object-summary
// extraction and rule-table category classification. Anything that
// needs a network round-trip belongs to the enrichment worker.

var objectMarkerRegex = regexp.MustCompile(`(?i)objeto\s*(?:de\s+la\s+(?:contrataci[oó]n|licitaci[oó]n))?\s*[:\-]\s*`)

// ExtractObjectSummary tries the conventional "Objeto: ..." marker in
// the description first, then falls back to the first sentence, then
// the title.
func ExtractObjectSummary(title, description string) string {
	if loc := objectMarkerRegex.FindStringIndex(description); loc != nil {
		rest := description[loc[1]:]
		return truncateSentence(rest, 300)
	}
	if description != "" {
		return truncateSentence(description, 300)
	}
	return strings.TrimSpace(title)
}

func truncateSentence(s string, max int) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".\n"); idx > 20 {
		s = s[:idx]
	}
	r := []rune(s)
	if len(r) > max {
		s = strings.TrimSpace(string(r[:max]))
	}
	return strings.TrimSpace(s)
}

type categoryRule struct {
	category string
	pattern  *regexp.Regexp
}

// Rule table, first hit wins. Patterns run on lowercased,
// accent-folded text.
var categoryRules = []categoryRule{
	{"obra_publica", regexp.MustCompile(`\b(obras?|construccion(es)?|pavimentacion|remodelacion|refaccion(es)?|ampliacion|infraestructura)\b`)},
	{"salud", regexp.MustCompile(`\b(hospital(es)?|medicamentos?|insumos? medicos?|salud|farmac\w*|quirurgic\w*)\b`)},
	{"informatica", regexp.MustCompile(`\b(software|hardware|informatic\w*|computadoras?|servidor(es)?|licencias? de uso|equipamiento tecnologico)\b`)},
	{"alimentos", regexp.MustCompile(`\b(alimentos?|comedor(es)?|viandas?|racion(es)?)\b`)},
	{"transporte", regexp.MustCompile(`\b(vehiculos?|camion(es)?|transporte|combustibles?|automotor(es)?)\b`)},
	{"limpieza", regexp.MustCompile(`\b(limpieza|higiene|residuos?)\b`)},
	{"seguridad", regexp.MustCompile(`\b(vigilancia|seguridad privada|monitoreo)\b`)},
	{"servicios", regexp.MustCompile(`\b(servicios?|mantenimiento|alquiler(es)?|seguros?)\b`)},
	{"suministros", regexp.MustCompile(`\b(adquisicion(es)?|provision(es)?|suministros?|compras?)\b`)},
}

// ClassifyCategory maps listing text to a coarse category through the
// rule table; empty when nothing matches.
func ClassifyCategory(text string) string {
	folded := stripWordDiacritics(strings.ToLower(text))
	for _, rule := range categoryRules {
		if rule.pattern.MatchString(folded) {
			return rule.category
		}
	}
	return ""
}
