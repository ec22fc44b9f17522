package services

import (
	"context"
	"regexp"
	"strings"

	"licitascan/models"
)

// URL shape tables. A "direct" URL lands on the specific notice; a
// "proxy" goes through a redirect or form-submission helper; anything
// else is a list or search page.
var (
	directURLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\.(pdf|doc|docx|xls|xlsx|zip)(\?|$)`),
		regexp.MustCompile(`(?i)/(licitacion|contratacion|expediente|detalle|ficha|proceso)[-_/]`),
		regexp.MustCompile(`(?i)[?&](id|idlicitacion|nroexpediente|procid)=\d`),
	}
	proxyURLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)/(redirect|redir|goto|visor|viewer|descarga)[/?]`),
		regexp.MustCompile(`(?i)(postback|formsubmit|__doPostBack)`),
	}
)

var qualityRank = map[models.URLQuality]int{
	models.URLQualityDirect:  3,
	models.URLQualityProxy:   2,
	models.URLQualityPartial: 1,
}

// DetermineQuality classifies a candidate URL by how directly it
// reaches the listing.
func DetermineQuality(url string) models.URLQuality {
	if strings.TrimSpace(url) == "" {
		return models.URLQualityPartial
	}
	for _, re := range directURLPatterns {
		if re.MatchString(url) {
			return models.URLQualityDirect
		}
	}
	for _, re := range proxyURLPatterns {
		if re.MatchString(url) {
			return models.URLQualityProxy
		}
	}
	return models.URLQualityPartial
}

// URLStore is the slice of the store the URL recompute pass needs.
// *storage.PostgresStore satisfies it.
type URLStore interface {
	ForEachListing(ctx context.Context, jurisdiction string, fn func(*models.Listing) error) error
	UpdateListing(ctx context.Context, l *models.Listing) error
}

// URLService picks the best canonical URL among a listing's candidates.
type URLService struct {
	store URLStore
}

func NewURLService(store URLStore) *URLService {
	return &URLService{store: store}
}

// BestURL returns the highest-quality candidate among the listing's
// main URL and per-channel URLs, with its quality.
func BestURL(l *models.Listing) (string, models.URLQuality) {
	best := l.SourceURL
	bestQuality := DetermineQuality(l.SourceURL)

	for _, candidate := range l.SourceURLs {
		if candidate == "" {
			continue
		}
		q := DetermineQuality(candidate)
		if qualityRank[q] > qualityRank[bestQuality] || best == "" {
			best = candidate
			bestQuality = q
		}
	}
	return best, bestQuality
}

// ResolveBestURL recomputes the canonical URL for a listing and
// persists it only when it changed.
func (s *URLService) ResolveBestURL(ctx context.Context, l *models.Listing) (bool, error) {
	best, quality := BestURL(l)
	if best == "" || (best == l.CanonicalURL && quality == l.URLQuality) {
		return false, nil
	}

	l.CanonicalURL = best
	l.URLQuality = quality
	if s.store == nil {
		return true, nil
	}
	return true, s.store.UpdateListing(ctx, l)
}

// URLRecomputeResult reports one canonical-URL recompute pass.
type URLRecomputeResult struct {
	Checked int      `json:"checked"`
	Changed int      `json:"changed"`
	Errors  []string `json:"errors,omitempty"`
}

// RecomputeAll re-resolves the canonical URL for every listing,
// optionally scoped to one jurisdiction. Source portals change their
// URL shapes; this pass re-applies the quality tables after a pattern
// update.
func (s *URLService) RecomputeAll(ctx context.Context, jurisdiction string) (*URLRecomputeResult, error) {
	result := &URLRecomputeResult{}
	err := s.store.ForEachListing(ctx, jurisdiction, func(l *models.Listing) error {
		result.Checked++
		changed, err := s.ResolveBestURL(ctx, l)
		if err != nil {
			result.Errors = append(result.Errors, l.ID.String()+": "+err.Error())
			return nil
		}
		if changed {
			result.Changed++
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}
