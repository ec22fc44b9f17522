package services

import (
	"context"
	"log"
	"time"

	"licitascan/config"
	"licitascan/models"
	"licitascan/storage"
)

// ComputeValidity derives a listing's lifecycle state from its dates.
// Pure: same inputs at the same instant always give the same answer.
// Rule order matters; the historical cutoff dominates everything else.
func ComputeValidity(cfg config.ValidityConfig, publicationDate, openingDate, extensionDate *time.Time, now time.Time) models.ValidityState {
	if publicationDate != nil && publicationDate.Before(cfg.HistoricalCutoff) {
		return models.ValidityArchived
	}
	if extensionDate != nil && extensionDate.After(now) {
		return models.ValidityExtended
	}
	if openingDate != nil && openingDate.Before(now) {
		return models.ValidityExpired
	}
	if openingDate == nil && publicationDate != nil {
		staleAge := time.Duration(cfg.StaleDays) * 24 * time.Hour
		if now.Sub(*publicationDate) > staleAge {
			return models.ValidityExpired
		}
	}
	return models.ValidityCurrent
}

// ValidityService runs the maintenance pass that keeps stored validity
// states in line with the calendar. Never called from the ingestion
// hot path.
type ValidityService struct {
	store *storage.PostgresStore
	cfg   config.ValidityConfig
}

func NewValidityService(store *storage.PostgresStore, cfg config.ValidityConfig) *ValidityService {
	return &ValidityService{store: store, cfg: cfg}
}

// RecomputeResult summarizes one recompute pass.
type RecomputeResult struct {
	Processed int      `json:"processed"`
	Updated   int      `json:"updated"`
	Errors    []string `json:"errors,omitempty"`
}

// RecomputeAll re-derives validity for every listing, writing only the
// rows whose state actually changed. Safe to re-run at any time.
func (s *ValidityService) RecomputeAll(ctx context.Context) (*RecomputeResult, error) {
	result := &RecomputeResult{}
	now := time.Now()

	err := s.store.ForEachListing(ctx, "", func(l *models.Listing) error {
		result.Processed++

		state := ComputeValidity(s.cfg, l.PublicationDate, l.OpeningDate, l.ExtensionDate, now)
		if state == l.ValidityState {
			return nil
		}

		if err := s.store.UpdateListingValidity(ctx, l.ID, state); err != nil {
			log.Printf("validity: update %s failed: %v", l.ID, err)
			result.Errors = append(result.Errors, err.Error())
			return nil
		}
		result.Updated++
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// Compute evaluates one listing against the service's thresholds.
func (s *ValidityService) Compute(l *models.Listing, now time.Time) models.ValidityState {
	return ComputeValidity(s.cfg, l.PublicationDate, l.OpeningDate, l.ExtensionDate, now)
}
