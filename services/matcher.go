package services

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"licitascan/models"
	"licitascan/storage"
)

// descriptionSearchLimit caps how much of a long description feeds the
// match buffer.
const descriptionSearchLimit = 2000

// Go's \b is ASCII-only, so word boundaries are spelled out as
// non-letter/digit groups to stay correct next to accented characters.
const (
	boundaryLeft  = `(?:^|[^\p{L}\p{N}])`
	boundaryRight = `(?:$|[^\p{L}\p{N}])`
)

var (
	punctStripRegex   = regexp.MustCompile("['\"`´’‘“”«»]")
	punctSpaceRegex   = regexp.MustCompile(`[-.,;:()\[\]/\\]`)
	matcherSpaceRegex = regexp.MustCompile(`\s+`)

	foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	// Each unaccented character matches all its accented forms, so a
	// stemmed, diacritic-free pattern still hits accented text.
	diacriticClasses = map[rune]string{
		'a': "[aá]",
		'e': "[eé]",
		'i': "[ií]",
		'o': "[oó]",
		'u': "[uúü]",
		'n': "[nñ]",
	}
)

// CompiledGroup is one alert group's keyword set, compiled.
type CompiledGroup struct {
	ID       string
	Name     string
	Patterns []*regexp.Regexp
}

// Matches reports whether any keyword pattern hits the buffer. The
// first hit short-circuits the group.
func (g *CompiledGroup) Matches(buffer string) bool {
	for _, re := range g.Patterns {
		if re.MatchString(buffer) {
			return true
		}
	}
	return false
}

// NormalizeMatchText strips punctuation and collapses whitespace but
// keeps accents; accent tolerance lives in the patterns, not the buffer.
func NormalizeMatchText(s string) string {
	s = punctStripRegex.ReplaceAllString(s, "")
	s = punctSpaceRegex.ReplaceAllString(s, " ")
	s = matcherSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func stripWordDiacritics(w string) string {
	if folded, _, err := transform.String(foldDiacritics, w); err == nil {
		return folded
	}
	return w
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// StemSpanish applies the small suffix-rule stemmer: -iones to -ion,
// -ces to -z, -es dropped after a consonant, a bare trailing -s
// dropped. Input is expected lowercase and diacritic-free.
func StemSpanish(w string) string {
	r := []rune(w)
	n := len(r)
	switch {
	case n > 5 && strings.HasSuffix(w, "iones"):
		return string(r[:n-2])
	case n > 3 && strings.HasSuffix(w, "ces"):
		return string(r[:n-3]) + "z"
	case n > 4 && strings.HasSuffix(w, "es") && !isVowel(r[n-3]):
		return string(r[:n-2])
	case n > 3 && strings.HasSuffix(w, "s"):
		return string(r[:n-1])
	}
	return w
}

func wordPattern(stemmed string) string {
	var b strings.Builder
	for _, r := range stemmed {
		if class, ok := diacriticClasses[r]; ok {
			b.WriteString(class)
		} else {
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

func isAcronym(token string) bool {
	r := []rune(token)
	if len(r) < 2 || len(r) > 4 {
		return false
	}
	for _, c := range r {
		if !unicode.IsUpper(c) {
			return false
		}
	}
	return true
}

// CompileKeyword turns one keyword into its accent- and
// plural-tolerant regex. Short single tokens and acronyms are anchored
// to word boundaries so they cannot match inside longer words.
func CompileKeyword(keyword string) (*regexp.Regexp, error) {
	normalized := NormalizeMatchText(keyword)
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty keyword %q", keyword)
	}

	acronym := len(tokens) == 1 && isAcronym(tokens[0])
	shortToken := len(tokens) == 1 && len([]rune(tokens[0])) <= 4
	noPlural := acronym || (len(tokens) == 1 && len([]rune(tokens[0])) <= 3)

	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		stem := tok
		if !acronym {
			stem = StemSpanish(stripWordDiacritics(strings.ToLower(tok)))
		}
		parts = append(parts, wordPattern(stem))
	}

	body := strings.Join(parts, `\s*`)
	if !noPlural {
		body += `(?:es|s)?`
	}
	if acronym || shortToken {
		body = boundaryLeft + body + boundaryRight
	}

	return regexp.Compile(`(?i)` + body)
}

// CompileGroup compiles every keyword of an alert group. Keywords that
// fail to compile are logged and skipped, never fatal.
func CompileGroup(group *models.AlertGroup) CompiledGroup {
	compiled := CompiledGroup{ID: group.ID, Name: group.Name}
	for _, kw := range group.Keywords {
		re, err := CompileKeyword(kw)
		if err != nil {
			log.Printf("matcher: skipping keyword %q in group %s: %v", kw, group.Name, err)
			continue
		}
		compiled.Patterns = append(compiled.Patterns, re)
	}
	return compiled
}

// BuildMatchBuffer concatenates the searchable text of a listing into
// one normalized buffer.
func BuildMatchBuffer(title, objectSummary, description, organization string) string {
	desc := description
	if r := []rune(desc); len(r) > descriptionSearchLimit {
		desc = string(r[:descriptionSearchLimit])
	}
	return NormalizeMatchText(title + " " + objectSummary + " " + desc + " " + organization)
}

// MatchGroups evaluates a buffer against a compiled set. Pure read, no
// side effects.
func MatchGroups(groups []CompiledGroup, buffer string) []string {
	var matched []string
	for i := range groups {
		if groups[i].Matches(buffer) {
			matched = append(matched, groups[i].ID)
		}
	}
	return matched
}

// MatcherService keeps the compiled pattern cache and decides which
// alert groups a listing belongs to. The cache is rebuilt wholesale on
// Reload and swapped in atomically; reads during a rebuild see the old
// cache.
type MatcherService struct {
	store *storage.PostgresStore
	cache atomic.Pointer[[]CompiledGroup]
}

func NewMatcherService(store *storage.PostgresStore) *MatcherService {
	s := &MatcherService{store: store}
	empty := []CompiledGroup{}
	s.cache.Store(&empty)
	return s
}

// Reload recompiles all active alert groups. Must be called explicitly
// when keyword content changes; evaluation never triggers it.
func (s *MatcherService) Reload(ctx context.Context) error {
	groups, err := s.store.ListActiveAlertGroups(ctx)
	if err != nil {
		return fmt.Errorf("load alert groups: %w", err)
	}

	compiled := make([]CompiledGroup, 0, len(groups))
	for i := range groups {
		compiled = append(compiled, CompileGroup(&groups[i]))
	}

	s.cache.Store(&compiled)
	log.Printf("matcher: compiled %d alert groups", len(compiled))
	return nil
}

// SetGroups installs a compiled set directly; used by tests.
func (s *MatcherService) SetGroups(groups []CompiledGroup) {
	s.cache.Store(&groups)
}

// Evaluate returns the alert group IDs whose keywords hit the listing's
// text. Pure with respect to the store.
func (s *MatcherService) Evaluate(l *models.Listing) []string {
	buffer := BuildMatchBuffer(l.Title, l.ObjectSummary, l.Description, l.Organization)
	return MatchGroups(*s.cache.Load(), buffer)
}

// ApplyMatches adds matched group ids to the listing with set
// semantics and bumps per-group counters for the truly new ones.
// Membership only grows; existing ids are never pruned.
func (s *MatcherService) ApplyMatches(ctx context.Context, l *models.Listing, matched []string) []string {
	existing := make(map[string]bool, len(l.AlertGroupIDs))
	for _, id := range l.AlertGroupIDs {
		existing[id] = true
	}

	var added []string
	for _, id := range matched {
		if existing[id] {
			continue
		}
		existing[id] = true
		l.AlertGroupIDs = append(l.AlertGroupIDs, id)
		added = append(added, id)
	}

	for _, id := range added {
		if err := s.store.IncrementMatchedCount(ctx, id, 1); err != nil {
			log.Printf("matcher: bump count for %s: %v", id, err)
		}
	}

	return added
}

// ReloadInterval bounds how stale the compiled cache may get when the
// daemon refreshes it in the background.
const ReloadInterval = 15 * time.Minute
