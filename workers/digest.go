package workers

import (
	"context"
	"log"
	"time"

	"licitascan/models"
	"licitascan/notify"
	"licitascan/storage"
)

// DigestWorker sends periodic summaries per alert group: everything
// that matched the group since its last digest went out.
type DigestWorker struct {
	store     *storage.PostgresStore
	notifier  notify.Notifier
	triggerCh chan struct{}
}

func NewDigestWorker(store *storage.PostgresStore, notifier notify.Notifier) *DigestWorker {
	if notifier == nil {
		notifier = notify.NoOpNotifier{}
	}
	return &DigestWorker{
		store:     store,
		notifier:  notifier,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run immediately
func (w *DigestWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *DigestWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Digest worker stopping")
			return
		case <-ticker.C:
			w.processDue(ctx)
		case <-w.triggerCh:
			w.processDue(ctx)
		}
	}
}

func (w *DigestWorker) processDue(ctx context.Context) {
	groups, err := w.store.ListActiveAlertGroups(ctx)
	if err != nil {
		log.Printf("Digest worker: listing groups: %v", err)
		return
	}

	now := time.Now()
	for i := range groups {
		group := &groups[i]
		if !digestDue(group, now) {
			continue
		}

		since := now.Add(-digestPeriod(group.DigestFrequency))
		if group.LastDigestAt != nil {
			since = *group.LastDigestAt
		}

		listings, err := w.store.GetListingsMatchedSince(ctx, group.ID, since)
		if err != nil {
			log.Printf("Digest worker: matches for %s: %v", group.Name, err)
			continue
		}
		if len(listings) == 0 {
			// Nothing new; still advance the clock so a later match
			// isn't re-reported across several periods.
			if err := w.store.SetAlertGroupDigestTime(ctx, group.ID, now); err != nil {
				log.Printf("Digest worker: stamp %s: %v", group.Name, err)
			}
			continue
		}

		if err := w.notifier.SendDigest(ctx, group, listings); err != nil {
			log.Printf("Digest worker: send for %s: %v", group.Name, err)
			continue
		}
		if err := w.store.SetAlertGroupDigestTime(ctx, group.ID, now); err != nil {
			log.Printf("Digest worker: stamp %s: %v", group.Name, err)
		}
		log.Printf("Digest sent for %s: %d listings", group.Name, len(listings))
	}
}

func digestDue(group *models.AlertGroup, now time.Time) bool {
	period := digestPeriod(group.DigestFrequency)
	if period == 0 {
		return false
	}
	if group.LastDigestAt == nil {
		return true
	}
	return now.Sub(*group.LastDigestAt) >= period
}

func digestPeriod(freq models.DigestFrequency) time.Duration {
	switch freq {
	case models.DigestDaily:
		return 24 * time.Hour
	case models.DigestTwiceDaily:
		return 12 * time.Hour
	default:
		return 0
	}
}
