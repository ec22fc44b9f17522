package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"licitascan/config"
	"licitascan/httputil"
	"licitascan/models"
)

// HTMLHandler scrapes a listing table from a portal page. The row and
// field selectors come from the source's YAML so one handler covers
// the many near-identical provincial portals.
type HTMLHandler struct {
	cfg     *config.SourceConfig
	clients *httputil.Clients
}

func NewHTMLHandler(cfg *config.SourceConfig, clients *httputil.Clients) *HTMLHandler {
	return &HTMLHandler{cfg: cfg, clients: clients}
}

func (h *HTMLHandler) Name() string {
	return h.cfg.Name
}

func (h *HTMLHandler) Run(ctx context.Context) ([]models.RawListing, error) {
	body, err := h.clients.FetchBody(ctx, h.cfg.URL)
	if err != nil {
		return nil, err
	}

	listings, err := h.parseDocument(body)
	if err != nil {
		return nil, err
	}

	log.Printf("html: %s: %d listings from %s", h.cfg.Name, len(listings), h.cfg.URL)
	return listings, nil
}

func (h *HTMLHandler) parseDocument(body []byte) ([]models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	rowSelector := h.selector("row", "table tr")
	var listings []models.RawListing

	doc.Find(rowSelector).Each(func(i int, row *goquery.Selection) {
		raw, ok := h.parseRow(row)
		if !ok {
			return
		}
		listings = append(listings, raw)

		if h.cfg.RateLimitMS > 0 {
			time.Sleep(time.Duration(h.cfg.RateLimitMS) * time.Millisecond)
		}
	})

	return listings, nil
}

func (h *HTMLHandler) parseRow(row *goquery.Selection) (models.RawListing, bool) {
	raw := models.RawListing{
		SourceListingID: h.text(row, "id"),
		Title:           h.text(row, "title"),
		Organization:    h.text(row, "organization"),
		Description:     h.text(row, "description"),
		ExpedientNumber: h.text(row, "expedient"),
		ListingNumber:   h.text(row, "number"),
		Jurisdiction:    h.cfg.Jurisdiction,
		PublicationDate: parseDate(h.text(row, "publication_date")),
		OpeningDate:     parseDate(h.text(row, "opening_date")),
	}

	if link := row.Find(h.selector("link", "a")).First(); link.Length() > 0 {
		if href, ok := link.Attr("href"); ok {
			raw.SourceURL = h.absoluteURL(href)
		}
		if raw.Title == "" {
			raw.Title = strings.TrimSpace(link.Text())
		}
	}

	row.Find(h.selector("attachments", "a[href$='.pdf']")).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		raw.AttachedFiles = append(raw.AttachedFiles, models.AttachedFile{
			Name: strings.TrimSpace(a.Text()),
			URL:  h.absoluteURL(href),
		})
	})

	// Fall back to the expedient or listing number as the source id;
	// some portals expose no separate identifier.
	if raw.SourceListingID == "" {
		raw.SourceListingID = raw.ExpedientNumber
	}
	if raw.SourceListingID == "" {
		raw.SourceListingID = raw.ListingNumber
	}

	if raw.SourceListingID == "" || raw.Title == "" {
		return raw, false
	}
	return raw, true
}

func (h *HTMLHandler) text(row *goquery.Selection, field string) string {
	sel, ok := h.cfg.Selectors[field]
	if !ok {
		return ""
	}
	return strings.TrimSpace(row.Find(sel).First().Text())
}

func (h *HTMLHandler) selector(field, fallback string) string {
	if sel, ok := h.cfg.Selectors[field]; ok {
		return sel
	}
	return fallback
}

func (h *HTMLHandler) absoluteURL(href string) string {
	base, err := url.Parse(h.cfg.URL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
