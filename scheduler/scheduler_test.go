package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"licitascan/config"
	"licitascan/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Sources: map[string]*config.SourceConfig{
			"comprar": {Name: "COMPR.AR", Cron: "0 */4 * * *", Active: true},
		},
	}
}

func TestRegister_ValidCron(t *testing.T) {
	s := New(testConfig(), nil, nil)

	if err := s.Register(context.Background(), "comprar", s.cfg.Sources["comprar"]); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := s.entries["comprar"]; !ok {
		t.Fatal("expected a cron entry for comprar")
	}
}

func TestRegister_MalformedCron(t *testing.T) {
	s := New(testConfig(), nil, nil)

	bad := &config.SourceConfig{Name: "roto", Cron: "not a cron", Active: true}
	if err := s.Register(context.Background(), "roto", bad); err == nil {
		t.Fatal("expected error for malformed cron expression")
	}
	if _, ok := s.entries["roto"]; ok {
		t.Fatal("malformed cron must not leave an entry")
	}
}

func TestRegister_ReplacesExistingEntry(t *testing.T) {
	s := New(testConfig(), nil, nil)
	src := s.cfg.Sources["comprar"]

	if err := s.Register(context.Background(), "comprar", src); err != nil {
		t.Fatalf("first register: %v", err)
	}
	first := s.entries["comprar"]

	src.Cron = "30 */2 * * *"
	if err := s.Register(context.Background(), "comprar", src); err != nil {
		t.Fatalf("second register: %v", err)
	}
	second := s.entries["comprar"]

	if first == second {
		t.Fatal("re-registration must install a new entry")
	}
	if len(s.cron.Entries()) != 1 {
		t.Fatalf("old entry must be removed, have %d", len(s.cron.Entries()))
	}
}

func TestRegister_InactiveSourceUnschedules(t *testing.T) {
	s := New(testConfig(), nil, nil)
	src := s.cfg.Sources["comprar"]

	if err := s.Register(context.Background(), "comprar", src); err != nil {
		t.Fatalf("register: %v", err)
	}

	src.Active = false
	if err := s.Register(context.Background(), "comprar", src); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, ok := s.entries["comprar"]; ok {
		t.Fatal("inactive source must have no cron entry")
	}
}

func TestPauseResume(t *testing.T) {
	s := New(testConfig(), nil, nil)

	if s.IsPaused() {
		t.Fatal("scheduler must start unpaused")
	}
	s.Pause()
	if !s.IsPaused() {
		t.Fatal("Pause must take effect")
	}

	// While paused, the scheduled path declines to run.
	ran, err := s.runSource(context.Background(), "comprar", nil)
	if err != nil {
		t.Fatalf("runSource: %v", err)
	}
	if ran {
		t.Fatal("paused scheduler must skip scheduled runs")
	}

	s.Resume()
	if s.IsPaused() {
		t.Fatal("Resume must take effect")
	}
}

type memRunStore struct {
	mu     sync.Mutex
	nextID int64
}

func (m *memRunStore) CreateRun(_ context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	run.ID = m.nextID
	return nil
}

func (m *memRunStore) FailOrphanRuns(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

// blockingRunner holds a run open until released, signalling entry.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) RunSource(_ context.Context, _ string, _ *models.Run) error {
	r.started <- struct{}{}
	<-r.release
	return nil
}

// A second trigger while a run is in flight is rejected, never queued;
// the slot reopens once the run finishes.
func TestTriggerNow_SingleFlight(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	store := &memRunStore{}
	s := New(testConfig(), runner, store)
	ctx := context.Background()

	runID, err := s.TriggerNow(ctx, "comprar")
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if runID == 0 {
		t.Fatal("trigger must return the pending run id")
	}

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}

	if _, err := s.TriggerNow(ctx, "comprar"); err == nil {
		t.Fatal("concurrent trigger must be rejected")
	} else if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected rejection: %v", err)
	}

	close(runner.release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		id, err := s.TriggerNow(ctx, "comprar")
		if err == nil {
			if id <= runID {
				t.Fatalf("second run id %d not after first %d", id, runID)
			}
			<-runner.started
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("slot never reopened: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTriggerNow_UnknownSource(t *testing.T) {
	s := New(testConfig(), &blockingRunner{}, &memRunStore{})
	if _, err := s.TriggerNow(context.Background(), "inexistente"); err == nil {
		t.Fatal("unknown source must be rejected")
	}
}
