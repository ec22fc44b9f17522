package models

import "time"

type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// Run records one execution of a source adapter.
type Run struct {
	ID        int64      `json:"id" db:"id"`
	Source    string     `json:"source" db:"source"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at" db:"ended_at"`
	Status    RunStatus  `json:"status" db:"status"`

	ItemsFound        int `json:"items_found" db:"items_found"`
	ItemsSaved        int `json:"items_saved" db:"items_saved"`
	ItemsUpdated      int `json:"items_updated" db:"items_updated"`
	DuplicatesSkipped int `json:"duplicates_skipped" db:"duplicates_skipped"`

	ErrorMessage    string        `json:"error_message" db:"error_message"`
	Errors          []string      `json:"errors" db:"errors"`
	Warnings        []string      `json:"warnings" db:"warnings"`
	PerRecordErrors []RecordError `json:"per_record_errors" db:"per_record_errors"`
}

// RecordError attributes a soft failure to the record that caused it.
type RecordError struct {
	SourceListingID string `json:"source_listing_id"`
	Message         string `json:"message"`
}

// SourceStats is the per-source scheduling bookkeeping kept alongside runs.
type SourceStats struct {
	Source        string     `json:"source" db:"source"`
	LastRunAt     *time.Time `json:"last_run_at" db:"last_run_at"`
	LastRunStatus RunStatus  `json:"last_run_status" db:"last_run_status"`
	RunsCount     int        `json:"runs_count" db:"runs_count"`
	FailureStreak int        `json:"failure_streak" db:"failure_streak"`
}

// Healthy reports whether a source's recent runs look sound. Three
// consecutive failures mark it unhealthy.
func (s *SourceStats) Healthy() bool {
	return s.FailureStreak < 3
}
