package scraper

import (
	"context"
	"fmt"
	"log"
	"time"

	"licitascan/config"
	"licitascan/httputil"
	"licitascan/models"
	"licitascan/notify"
	"licitascan/services"
)

// RunStore is the slice of the store the run lifecycle needs.
// *storage.PostgresStore satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
	BumpSourceStats(ctx context.Context, source string, status models.RunStatus) error
	AppendRunLog(ctx context.Context, entry *models.RunLog) error
}

// Orchestrator owns one handler per configured source and drives a full
// run: run record first, adapter fetch, sequential per-record ingest,
// status derivation, finalize.
type Orchestrator struct {
	cfg      *config.Config
	store    RunStore
	ingest   *services.IngestService
	notifier notify.Notifier
	handlers map[string]Handler
}

func NewOrchestrator(cfg *config.Config, store RunStore, ingest *services.IngestService, notifier notify.Notifier) *Orchestrator {
	clients := httputil.NewClients()
	handlers := make(map[string]Handler)
	for name, srcCfg := range cfg.Sources {
		handlers[name] = NewHandler(srcCfg, clients)
	}

	if notifier == nil {
		notifier = notify.NoOpNotifier{}
	}

	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		ingest:   ingest,
		notifier: notifier,
		handlers: handlers,
	}
}

func (o *Orchestrator) SourceNames() []string {
	var names []string
	for name := range o.cfg.Sources {
		names = append(names, name)
	}
	return names
}

// RunSource executes one run for the source. When run is nil a fresh
// record is created; the scheduler passes a pre-created pending run so
// the id exists before the adapter starts.
func (o *Orchestrator) RunSource(ctx context.Context, sourceName string, run *models.Run) error {
	srcCfg, ok := o.cfg.Sources[sourceName]
	if !ok {
		return fmt.Errorf("unknown source: %s", sourceName)
	}
	handler, ok := o.handlers[sourceName]
	if !ok {
		return fmt.Errorf("no handler for source: %s", sourceName)
	}

	if run == nil {
		run = &models.Run{
			Source:    sourceName,
			StartedAt: time.Now(),
			Status:    models.RunStatusRunning,
		}
		if err := o.store.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
	} else {
		run.Status = models.RunStatusRunning
		if run.StartedAt.IsZero() {
			run.StartedAt = time.Now()
		}
		if err := o.store.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("mark run running: %w", err)
		}
	}

	o.log(ctx, run, models.LogLevelInfo, fmt.Sprintf("Starting run for %s", srcCfg.Name))

	stats := &services.ProcessStats{}
	var newListings []*models.Listing
	adapterFailed := false

	defer func() {
		now := time.Now()
		run.EndedAt = &now
		run.ItemsSaved = stats.Saved
		run.ItemsUpdated = stats.Updated
		run.DuplicatesSkipped = stats.DuplicatesSkipped

		timedOut := ctx.Err() != nil && !adapterFailed
		run.Status = deriveStatus(adapterFailed, timedOut, stats, run.PerRecordErrors)
		if timedOut && run.ErrorMessage == "" {
			if ctx.Err() == context.DeadlineExceeded {
				run.ErrorMessage = fmt.Sprintf("run timed out after %s", time.Since(run.StartedAt).Round(time.Second))
			} else {
				run.ErrorMessage = "run cancelled"
			}
		}

		// The run context may already be dead here, after a timeout or
		// a shutdown. The finalize writes use their own context so the
		// terminal status always lands.
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := o.store.UpdateRun(fctx, run); err != nil {
			log.Printf("Error finalizing run %d: %v", run.ID, err)
		}
		if err := o.store.BumpSourceStats(fctx, sourceName, run.Status); err != nil {
			log.Printf("Error updating source stats for %s: %v", sourceName, err)
		}

		o.log(fctx, run, models.LogLevelInfo,
			fmt.Sprintf("Finished %s: %d found, %d saved, %d updated, %d duplicates, %d errors",
				sourceName, run.ItemsFound, run.ItemsSaved, run.ItemsUpdated,
				run.DuplicatesSkipped, len(run.PerRecordErrors)))

		if notifyEligible(run.Status, stats.Saved) && len(newListings) > 0 && !srcCfg.ManualCuration {
			// Fire and forget; a failed notification never fails the run.
			go func(listings []*models.Listing) {
				nctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := o.notifier.NotifyNewListings(nctx, listings, srcCfg.Name); err != nil {
					log.Printf("Error notifying new listings for %s: %v", sourceName, err)
				}
			}(newListings)
		}
	}()

	listings, err := handler.Run(ctx)
	if err != nil {
		adapterFailed = true
		run.ErrorMessage = err.Error()
		o.log(ctx, run, models.LogLevelError, fmt.Sprintf("Adapter error: %v", err))
		go func(msg string) {
			nctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if nerr := o.notifier.NotifyAdapterError(nctx, srcCfg.Name, msg); nerr != nil {
				log.Printf("Error notifying adapter failure for %s: %v", sourceName, nerr)
			}
		}(err.Error())
		return err
	}

	run.ItemsFound = len(listings)
	o.log(ctx, run, models.LogLevelInfo, fmt.Sprintf("%s: %d listings fetched", sourceName, len(listings)))

	for i := range listings {
		if ctx.Err() != nil {
			// Budget exhausted. Unprocessed records are not errors;
			// the finalize defer records the timeout.
			break
		}
		raw := &listings[i]
		result, err := o.ingest.ProcessListing(ctx, raw, sourceName, srcCfg.Family)
		if err != nil {
			// One bad record never aborts the run.
			run.PerRecordErrors = append(run.PerRecordErrors, models.RecordError{
				SourceListingID: raw.SourceListingID,
				Message:         err.Error(),
			})
			o.log(ctx, run, models.LogLevelError,
				fmt.Sprintf("Process error for %s: %v", raw.SourceListingID, err))
			continue
		}
		stats.Aggregate(result)
		run.Warnings = append(run.Warnings, result.Warnings...)
		if result.IsNew {
			newListings = append(newListings, result.Listing)
		}
	}

	return nil
}

// deriveStatus maps a finished run's outcome onto a terminal status.
// Clean runs are success. Runs that saved or updated something despite
// record errors are partial. An adapter failure, a timeout, or record
// errors with nothing persisted, is failed.
func deriveStatus(adapterFailed, timedOut bool, stats *services.ProcessStats, recordErrors []models.RecordError) models.RunStatus {
	if adapterFailed || timedOut {
		return models.RunStatusFailed
	}
	if len(recordErrors) == 0 {
		return models.RunStatusSuccess
	}
	if stats.Saved+stats.Updated > 0 {
		return models.RunStatusPartial
	}
	return models.RunStatusFailed
}

// notifyEligible gates the new-listing notification: only a clean run
// that actually saved something queues one.
func notifyEligible(status models.RunStatus, saved int) bool {
	return status == models.RunStatusSuccess && saved > 0
}

func (o *Orchestrator) log(ctx context.Context, run *models.Run, level models.LogLevel, message string) {
	log.Printf("[%s] %s: %s", level, run.Source, message)
	entry := &models.RunLog{
		RunID:     &run.ID,
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Source:    run.Source,
	}
	if err := o.store.AppendRunLog(ctx, entry); err != nil {
		log.Printf("Error appending run log: %v", err)
	}
}
