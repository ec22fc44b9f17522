package scraper

import (
	"context"
	"strings"
	"time"

	"licitascan/config"
	"licitascan/httputil"
	"licitascan/models"
)

// Handler is the source adapter seam: one per government source, given
// a start URL, produces raw listings. Adapters never touch the store.
type Handler interface {
	Name() string
	Run(ctx context.Context) ([]models.RawListing, error)
}

func NewHandler(cfg *config.SourceConfig, clients *httputil.Clients) Handler {
	switch cfg.Handler {
	case "api":
		return NewAPIHandler(cfg, clients)
	case "html":
		return NewHTMLHandler(cfg, clients)
	default:
		return NewHTMLHandler(cfg, clients)
	}
}

// Government portals publish dates in a handful of shapes.
var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2006-01-02",
	"02/01/2006 15:04",
	time.RFC3339,
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
