package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)

	deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// ContentHash derives the cross-source dedup key from the fields every
// source can supply: title, organization and publication date. Two
// records with the same hash describe the same notice regardless of
// which site published it.
func ContentHash(title, organization string, publicationDate *time.Time) string {
	date := ""
	if publicationDate != nil {
		date = publicationDate.Format("2006-01-02")
	}
	input := fmt.Sprintf("%s|%s|%s", NormalizeText(title), NormalizeText(organization), date)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// NormalizeText lowercases, strips diacritics and punctuation, and
// collapses whitespace so cosmetic differences between sources do not
// produce different hashes.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if folded, _, err := transform.String(deaccent, s); err == nil {
		s = folded
	}
	s = nonAlnumRegex.ReplaceAllString(s, " ")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
