package notify

import (
	"context"

	"licitascan/models"
)

// Notifier is the outbound delivery seam. Implementations are
// fire-and-forget: failures are logged by the caller and never block
// ingestion.
type Notifier interface {
	NotifyNewListings(ctx context.Context, listings []*models.Listing, sourceName string) error
	NotifyAdapterError(ctx context.Context, sourceName, message string) error
	SendDigest(ctx context.Context, group *models.AlertGroup, listings []models.Listing) error
}

// NoOpNotifier drops everything; used when no transport is configured.
type NoOpNotifier struct{}

func (NoOpNotifier) NotifyNewListings(context.Context, []*models.Listing, string) error { return nil }
func (NoOpNotifier) NotifyAdapterError(context.Context, string, string) error           { return nil }
func (NoOpNotifier) SendDigest(context.Context, *models.AlertGroup, []models.Listing) error {
	return nil
}
