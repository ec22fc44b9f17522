package workers

import (
	"bytes"
	"context"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"licitascan/httputil"
	"licitascan/models"
	"licitascan/storage"
)

const enrichmentConcurrency = 4

// EnrichmentWorker revisits listing detail pages to pull the fields a
// list view never shows: the full description and attached documents.
// Listings are promoted from the basic level once a detail fetch
// succeeds.
type EnrichmentWorker struct {
	store     *storage.PostgresStore
	clients   *httputil.Clients
	triggerCh chan struct{}
}

func NewEnrichmentWorker(store *storage.PostgresStore, clients *httputil.Clients) *EnrichmentWorker {
	return &EnrichmentWorker{
		store:     store,
		clients:   clients,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run immediately
func (w *EnrichmentWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *EnrichmentWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Enrichment worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		case <-w.triggerCh:
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *EnrichmentWorker) processBatch(ctx context.Context, batchSize int) {
	listings, err := w.store.GetListingsForEnrichment(ctx, models.EnrichmentBasic, batchSize)
	if err != nil {
		log.Printf("Enrichment: query error: %v", err)
		return
	}
	if len(listings) == 0 {
		return
	}

	log.Printf("Enrichment: processing %d listings", len(listings))

	sem := make(chan struct{}, enrichmentConcurrency)
	var wg sync.WaitGroup
	for i := range listings {
		l := &listings[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := w.enrichOne(ctx, l); err != nil {
				log.Printf("Enrichment: %s: %v", l.SourceListingID, err)
			}
		}()
	}
	wg.Wait()
}

func (w *EnrichmentWorker) enrichOne(ctx context.Context, l *models.Listing) error {
	pageURL := l.SourceURL
	if l.CanonicalURL != "" {
		pageURL = l.CanonicalURL
	}

	now := time.Now()
	body, err := w.clients.FetchBody(ctx, pageURL)
	if err != nil {
		// Stamp the attempt so the batch query rotates past this record.
		l.LastEnrichmentAt = &now
		if uerr := w.store.UpdateListing(ctx, l); uerr != nil {
			log.Printf("Enrichment: stamp %s: %v", l.SourceListingID, uerr)
		}
		return err
	}

	detail, err := ParseDetailPage(body, pageURL)
	if err != nil {
		return err
	}

	if len(detail.Description) > len(l.Description) {
		l.Description = detail.Description
	}
	for _, f := range detail.Attachments {
		l.AttachedFiles = appendFile(l.AttachedFiles, f)
	}

	if l.EnrichmentLevel < models.EnrichmentDetailed {
		l.EnrichmentLevel = models.EnrichmentDetailed
	}
	if len(detail.Attachments) > 0 && l.EnrichmentLevel < models.EnrichmentDocuments {
		l.EnrichmentLevel = models.EnrichmentDocuments
	}
	l.LastEnrichmentAt = &now
	l.UpdatedAt = now

	return w.store.UpdateListing(ctx, l)
}

// DetailPage is what a listing's own page yields beyond the list row.
type DetailPage struct {
	Description string
	Attachments []models.AttachedFile
}

var documentExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".zip", ".rar"}

// ParseDetailPage extracts the long-form description and document links
// from a listing detail page. Portals vary wildly, so the extraction is
// heuristic: longest text block wins, anchors to document files become
// attachments.
func ParseDetailPage(body []byte, baseURL string) (*DetailPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	detail := &DetailPage{}

	doc.Find("article, .detalle, .descripcion, #contenido, main, .content").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if len(text) > len(detail.Description) {
			detail.Description = text
		}
	})

	base, _ := url.Parse(baseURL)
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !isDocumentLink(href) {
			return
		}
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		if seen[href] {
			return
		}
		seen[href] = true

		name := strings.TrimSpace(s.Text())
		if name == "" {
			name = href[strings.LastIndex(href, "/")+1:]
		}
		detail.Attachments = append(detail.Attachments, models.AttachedFile{
			Name: name,
			URL:  href,
			Kind: classifyAttachment(name),
		})
	})

	return detail, nil
}

func isDocumentLink(href string) bool {
	lower := strings.ToLower(href)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range documentExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func classifyAttachment(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "pliego"):
		return "pliego"
	case strings.Contains(lower, "circular"):
		return "circular"
	case strings.Contains(lower, "anexo"):
		return "annex"
	default:
		return ""
	}
}

func appendFile(files []models.AttachedFile, f models.AttachedFile) []models.AttachedFile {
	for _, existing := range files {
		if existing.URL == f.URL {
			return files
		}
	}
	return append(files, f)
}
