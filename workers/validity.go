package workers

import (
	"context"
	"log"
	"time"

	"licitascan/services"
)

// ValidityWorker periodically sweeps the catalog recomputing validity
// states, so listings expire even when their source never mentions
// them again.
type ValidityWorker struct {
	validity  *services.ValidityService
	triggerCh chan struct{}
}

func NewValidityWorker(validity *services.ValidityService) *ValidityWorker {
	return &ValidityWorker{
		validity:  validity,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run immediately
func (w *ValidityWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *ValidityWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Validity worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.triggerCh:
			w.sweep(ctx)
		}
	}
}

func (w *ValidityWorker) sweep(ctx context.Context) {
	result, err := w.validity.RecomputeAll(ctx)
	if err != nil {
		log.Printf("Validity sweep error: %v", err)
		return
	}
	if result.Updated > 0 || len(result.Errors) > 0 {
		log.Printf("Validity sweep: %d processed, %d updated, %d errors",
			result.Processed, result.Updated, len(result.Errors))
	}
}
