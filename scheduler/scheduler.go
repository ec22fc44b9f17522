package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"licitascan/config"
	"licitascan/models"
)

const (
	orphanSweepInterval = 10 * time.Minute
	orphanRunAge        = 15 * time.Minute
)

// Triggerable lets background workers be kicked outside their cadence.
type Triggerable interface {
	Trigger()
}

// SourceRunner executes one run for a named source.
// *scraper.Orchestrator satisfies it.
type SourceRunner interface {
	RunSource(ctx context.Context, sourceName string, run *models.Run) error
}

// RunStore is the slice of the store the scheduler needs.
// *storage.PostgresStore satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FailOrphanRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Scheduler owns the cron table: one entry per active source, single
// flight per source, an orphan-run sweep, and manual triggering.
type Scheduler struct {
	cfg          *config.Config
	orchestrator SourceRunner
	store        RunStore
	cron         *cron.Cron
	stopCh       chan struct{}
	stopOnce     sync.Once

	mu       sync.Mutex
	entries  map[string]cron.EntryID
	inFlight map[string]bool
	paused   bool

	workers []Triggerable
}

func New(cfg *config.Config, orchestrator SourceRunner, store RunStore) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		entries:      make(map[string]cron.EntryID),
		inFlight:     make(map[string]bool),
	}
}

// SetWorkers registers workers reachable through TriggerWorkers.
func (s *Scheduler) SetWorkers(workers ...Triggerable) {
	s.workers = workers
}

func (s *Scheduler) TriggerWorkers() {
	for _, w := range s.workers {
		if w != nil {
			w.Trigger()
		}
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	// Sweep first so runs stranded by a crash don't block single flight.
	s.sweepOrphans(ctx)
	go s.pollOrphans(ctx)

	for name, srcCfg := range s.cfg.Sources {
		if err := s.Register(ctx, name, srcCfg); err != nil {
			log.Printf("Skipping source %s: %v", name, err)
		}
	}

	s.cron.Start()
	log.Printf("Scheduler started with %d source entries", len(s.entries))
	return nil
}

// Register adds or replaces the cron entry for a source. A malformed
// cron expression leaves the previous entry (if any) intact.
func (s *Scheduler) Register(ctx context.Context, name string, srcCfg *config.SourceConfig) error {
	if !srcCfg.Active {
		s.unregister(name)
		log.Printf("Source %s inactive, no schedule", name)
		return nil
	}
	if srcCfg.Cron == "" {
		s.unregister(name)
		log.Printf("Source %s has no cron, manual trigger only", name)
		return nil
	}

	sourceName := name
	id, err := s.cron.AddFunc(srcCfg.Cron, func() {
		if _, err := s.runSource(ctx, sourceName, nil); err != nil {
			log.Printf("Scheduled run error for %s: %v", sourceName, err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", srcCfg.Cron, err)
	}

	s.mu.Lock()
	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old)
	}
	s.entries[name] = id
	s.mu.Unlock()

	log.Printf("Registered %s with cron %q", name, srcCfg.Cron)
	return nil
}

func (s *Scheduler) unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old)
		delete(s.entries, name)
	}
}

// TriggerNow starts a run for the source immediately and returns the
// run id. The pending record is created before the run goroutine starts
// so callers can poll it right away. A source already in flight is
// coalesced: the active run's behavior is unchanged and no new run is
// created.
func (s *Scheduler) TriggerNow(ctx context.Context, sourceName string) (int64, error) {
	srcCfg, ok := s.cfg.Sources[sourceName]
	if !ok {
		return 0, fmt.Errorf("unknown source: %s", sourceName)
	}

	s.mu.Lock()
	if s.inFlight[sourceName] {
		s.mu.Unlock()
		return 0, fmt.Errorf("source %s already running", sourceName)
	}
	s.inFlight[sourceName] = true
	s.mu.Unlock()

	run := &models.Run{
		Source:    sourceName,
		StartedAt: time.Now(),
		Status:    models.RunStatusPending,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.clearInFlight(sourceName)
		return 0, fmt.Errorf("create run: %w", err)
	}

	go func() {
		defer s.clearInFlight(sourceName)
		runCtx, cancel := context.WithTimeout(context.Background(), srcCfg.RunTimeout())
		defer cancel()
		if err := s.orchestrator.RunSource(runCtx, sourceName, run); err != nil {
			log.Printf("Triggered run error for %s: %v", sourceName, err)
		}
	}()

	return run.ID, nil
}

// Pause suspends scheduled runs; manual triggers still work.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	log.Println("Scheduler paused")
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	log.Println("Scheduler resumed")
}

func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// runSource is the scheduled path: single flight plus per-run timeout.
func (s *Scheduler) runSource(ctx context.Context, sourceName string, run *models.Run) (bool, error) {
	srcCfg, ok := s.cfg.Sources[sourceName]
	if !ok {
		return false, fmt.Errorf("unknown source: %s", sourceName)
	}

	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return false, nil
	}
	if s.inFlight[sourceName] {
		s.mu.Unlock()
		log.Printf("Run for %s still in flight, skipping tick", sourceName)
		return false, nil
	}
	s.inFlight[sourceName] = true
	s.mu.Unlock()
	defer s.clearInFlight(sourceName)

	runCtx, cancel := context.WithTimeout(ctx, srcCfg.RunTimeout())
	defer cancel()

	return true, s.orchestrator.RunSource(runCtx, sourceName, run)
}

func (s *Scheduler) clearInFlight(sourceName string) {
	s.mu.Lock()
	delete(s.inFlight, sourceName)
	s.mu.Unlock()
}

func (s *Scheduler) pollOrphans(ctx context.Context) {
	ticker := time.NewTicker(orphanSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOrphans(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) sweepOrphans(ctx context.Context) {
	swept, err := s.store.FailOrphanRuns(ctx, orphanRunAge)
	if err != nil {
		log.Printf("Error sweeping orphan runs: %v", err)
		return
	}
	if swept > 0 {
		log.Printf("Swept %d orphaned runs", swept)
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		close(s.stopCh)
	})
	log.Println("Scheduler stopped")
}
