package models

import "time"

type DigestFrequency string

const (
	DigestNone       DigestFrequency = "none"
	DigestDaily      DigestFrequency = "daily"
	DigestTwiceDaily DigestFrequency = "twice_daily"
)

// AlertGroup ("nodo") is a named keyword subscription that listings are
// matched against.
type AlertGroup struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Keywords        []string        `json:"keywords" db:"keywords"`
	Active          bool            `json:"active" db:"active"`
	DigestFrequency DigestFrequency `json:"digest_frequency" db:"digest_frequency"`
	LastDigestAt    *time.Time      `json:"last_digest_at" db:"last_digest_at"`
	MatchedCount    int64           `json:"matched_count" db:"matched_count"` // best-effort, monotonic
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}
