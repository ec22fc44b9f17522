package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"licitascan/models"
	"licitascan/storage"
)

// WorkflowService drives the manual review lifecycle. Transitions are
// append-only: every change lands in workflowHistory.
type WorkflowService struct {
	store *storage.PostgresStore
}

func NewWorkflowService(store *storage.PostgresStore) *WorkflowService {
	return &WorkflowService{store: store}
}

var legalTransitions = map[models.WorkflowState][]models.WorkflowState{
	models.WorkflowDiscovered: {models.WorkflowEvaluating, models.WorkflowDiscarded},
	models.WorkflowEvaluating: {models.WorkflowPreparing, models.WorkflowDiscarded},
	models.WorkflowPreparing:  {models.WorkflowSubmitted, models.WorkflowDiscarded},
	models.WorkflowDiscarded:  {models.WorkflowEvaluating}, // a discard can be reconsidered
}

// CanTransition reports whether moving from one review stage to
// another is allowed.
func CanTransition(from, to models.WorkflowState) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves a listing to a new review stage, recording who and
// why in the history log.
func (s *WorkflowService) Transition(ctx context.Context, id uuid.UUID, to models.WorkflowState, by, note string) (*models.Listing, error) {
	l, err := s.store.GetListingByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if l == nil {
		return nil, fmt.Errorf("listing not found: %s", id)
	}

	if !CanTransition(l.WorkflowState, to) {
		return nil, fmt.Errorf("illegal transition %s -> %s", l.WorkflowState, to)
	}

	now := time.Now()
	l.WorkflowHistory = append(l.WorkflowHistory, models.WorkflowTransition{
		From: l.WorkflowState,
		To:   to,
		By:   by,
		Note: note,
		At:   now,
	})
	l.WorkflowState = to
	l.UpdatedAt = now

	if err := s.store.UpdateListing(ctx, l); err != nil {
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	return l, nil
}
