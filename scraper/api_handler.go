package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"licitascan/config"
	"licitascan/httputil"
	"licitascan/models"
)

// APIHandler pulls listings from portals that expose a JSON endpoint.
type APIHandler struct {
	cfg     *config.SourceConfig
	clients *httputil.Clients
}

func NewAPIHandler(cfg *config.SourceConfig, clients *httputil.Clients) *APIHandler {
	return &APIHandler{cfg: cfg, clients: clients}
}

func (h *APIHandler) Name() string {
	return h.cfg.Name
}

// apiListing covers the field names seen across the JSON portals;
// aliases map onto the same RawListing shape.
type apiListing struct {
	ID               string `json:"id"`
	NumeroExpediente string `json:"numero_expediente"`
	NumeroLicitacion string `json:"numero_licitacion"`
	Titulo           string `json:"titulo"`
	Objeto           string `json:"objeto"`
	Organismo        string `json:"organismo"`
	Descripcion      string `json:"descripcion"`
	URL              string `json:"url"`
	FechaPublicacion string `json:"fecha_publicacion"`
	FechaApertura    string `json:"fecha_apertura"`
	FechaProrroga    string `json:"fecha_prorroga"`
}

type apiResponse struct {
	Listings []apiListing `json:"licitaciones"`
	Results  []apiListing `json:"resultados"`
}

func (h *APIHandler) Run(ctx context.Context) ([]models.RawListing, error) {
	body, err := h.clients.FetchBody(ctx, h.cfg.URL)
	if err != nil {
		return nil, err
	}

	listings, err := h.parseResponse(body)
	if err != nil {
		return nil, err
	}

	log.Printf("api: %s: %d listings", h.cfg.Name, len(listings))
	return listings, nil
}

func (h *APIHandler) parseResponse(body []byte) ([]models.RawListing, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Some portals return a bare array.
		var items []apiListing
		if err2 := json.Unmarshal(body, &items); err2 != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		resp.Listings = items
	}

	items := resp.Listings
	if len(items) == 0 {
		items = resp.Results
	}

	var listings []models.RawListing
	for _, item := range items {
		raw := models.RawListing{
			SourceListingID: item.ID,
			Title:           item.Titulo,
			Organization:    item.Organismo,
			Description:     item.Descripcion,
			ObjectSummary:   item.Objeto,
			ExpedientNumber: item.NumeroExpediente,
			ListingNumber:   item.NumeroLicitacion,
			SourceURL:       item.URL,
			Jurisdiction:    h.cfg.Jurisdiction,
			PublicationDate: parseDate(item.FechaPublicacion),
			OpeningDate:     parseDate(item.FechaApertura),
			ExtensionDate:   parseDate(item.FechaProrroga),
		}
		if raw.SourceListingID == "" {
			raw.SourceListingID = raw.ExpedientNumber
		}
		if raw.SourceListingID == "" || raw.Title == "" {
			continue
		}
		listings = append(listings, raw)
	}

	return listings, nil
}
