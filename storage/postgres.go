package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"licitascan/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `
	id, source, source_listing_id, source_url, canonical_url, url_quality,
	source_urls, expedient_number, listing_number, content_hash,
	title, organization, description, object_summary, category, jurisdiction,
	keywords, tags, attached_files,
	publication_date, opening_date, expiration_date, extension_date,
	workflow_state, workflow_history, validity_state, enrichment_level,
	alert_group_ids, is_merged, merged_from_ids,
	first_seen_at, created_at, updated_at, last_enrichment_at, last_auto_update_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var sourceURLs, attachedFiles, workflowHistory []byte

	err := row.Scan(
		&l.ID, &l.Source, &l.SourceListingID, &l.SourceURL, &l.CanonicalURL, &l.URLQuality,
		&sourceURLs, &l.ExpedientNumber, &l.ListingNumber, &l.ContentHash,
		&l.Title, &l.Organization, &l.Description, &l.ObjectSummary, &l.Category, &l.Jurisdiction,
		&l.Keywords, &l.Tags, &attachedFiles,
		&l.PublicationDate, &l.OpeningDate, &l.ExpirationDate, &l.ExtensionDate,
		&l.WorkflowState, &workflowHistory, &l.ValidityState, &l.EnrichmentLevel,
		&l.AlertGroupIDs, &l.IsMerged, &l.MergedFromIDs,
		&l.FirstSeenAt, &l.CreatedAt, &l.UpdatedAt, &l.LastEnrichmentAt, &l.LastAutoUpdateAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(sourceURLs) > 0 {
		if err := json.Unmarshal(sourceURLs, &l.SourceURLs); err != nil {
			return nil, fmt.Errorf("decode source_urls: %w", err)
		}
	}
	if len(attachedFiles) > 0 {
		if err := json.Unmarshal(attachedFiles, &l.AttachedFiles); err != nil {
			return nil, fmt.Errorf("decode attached_files: %w", err)
		}
	}
	if len(workflowHistory) > 0 {
		if err := json.Unmarshal(workflowHistory, &l.WorkflowHistory); err != nil {
			return nil, fmt.Errorf("decode workflow_history: %w", err)
		}
	}

	return &l, nil
}

func listingArgs(l *models.Listing) ([]interface{}, error) {
	sourceURLs, err := json.Marshal(l.SourceURLs)
	if err != nil {
		return nil, fmt.Errorf("encode source_urls: %w", err)
	}
	attachedFiles, err := json.Marshal(l.AttachedFiles)
	if err != nil {
		return nil, fmt.Errorf("encode attached_files: %w", err)
	}
	workflowHistory, err := json.Marshal(l.WorkflowHistory)
	if err != nil {
		return nil, fmt.Errorf("encode workflow_history: %w", err)
	}

	return []interface{}{
		l.ID, l.Source, l.SourceListingID, l.SourceURL, l.CanonicalURL, l.URLQuality,
		sourceURLs, l.ExpedientNumber, l.ListingNumber, l.ContentHash,
		l.Title, l.Organization, l.Description, l.ObjectSummary, l.Category, l.Jurisdiction,
		l.Keywords, l.Tags, attachedFiles,
		l.PublicationDate, l.OpeningDate, l.ExpirationDate, l.ExtensionDate,
		l.WorkflowState, workflowHistory, l.ValidityState, l.EnrichmentLevel,
		l.AlertGroupIDs, l.IsMerged, l.MergedFromIDs,
		l.FirstSeenAt, l.CreatedAt, l.UpdatedAt, l.LastEnrichmentAt, l.LastAutoUpdateAt,
	}, nil
}

func (s *PostgresStore) InsertListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35)`

	args, err := listingArgs(l)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return err
}

// UpdateListing rewrites a listing by id. first_seen_at is deliberately
// excluded: it never changes after creation.
func (s *PostgresStore) UpdateListing(ctx context.Context, l *models.Listing) error {
	query := `
		UPDATE listings SET
			source = $2, source_listing_id = $3, source_url = $4, canonical_url = $5,
			url_quality = $6, source_urls = $7, expedient_number = $8, listing_number = $9,
			content_hash = $10, title = $11, organization = $12, description = $13,
			object_summary = $14, category = $15, jurisdiction = $16, keywords = $17,
			tags = $18, attached_files = $19, publication_date = $20, opening_date = $21,
			expiration_date = $22, extension_date = $23, workflow_state = $24,
			workflow_history = $25, validity_state = $26, enrichment_level = $27,
			alert_group_ids = $28, is_merged = $29, merged_from_ids = $30,
			updated_at = $31, last_enrichment_at = $32, last_auto_update_at = $33
		WHERE id = $1`

	sourceURLs, err := json.Marshal(l.SourceURLs)
	if err != nil {
		return fmt.Errorf("encode source_urls: %w", err)
	}
	attachedFiles, err := json.Marshal(l.AttachedFiles)
	if err != nil {
		return fmt.Errorf("encode attached_files: %w", err)
	}
	workflowHistory, err := json.Marshal(l.WorkflowHistory)
	if err != nil {
		return fmt.Errorf("encode workflow_history: %w", err)
	}

	_, err = s.pool.Exec(ctx, query,
		l.ID, l.Source, l.SourceListingID, l.SourceURL, l.CanonicalURL,
		l.URLQuality, sourceURLs, l.ExpedientNumber, l.ListingNumber,
		l.ContentHash, l.Title, l.Organization, l.Description,
		l.ObjectSummary, l.Category, l.Jurisdiction, l.Keywords,
		l.Tags, attachedFiles, l.PublicationDate, l.OpeningDate,
		l.ExpirationDate, l.ExtensionDate, l.WorkflowState,
		workflowHistory, l.ValidityState, l.EnrichmentLevel,
		l.AlertGroupIDs, l.IsMerged, l.MergedFromIDs,
		l.UpdatedAt, l.LastEnrichmentAt, l.LastAutoUpdateAt,
	)
	return err
}

func (s *PostgresStore) DeleteListing(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`
	return scanListing(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) GetListingBySourceID(ctx context.Context, source, sourceListingID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE source = $1 AND source_listing_id = $2`
	return scanListing(s.pool.QueryRow(ctx, query, source, sourceListingID))
}

func (s *PostgresStore) GetListingByContentHash(ctx context.Context, hash string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE content_hash = $1 AND content_hash <> '' LIMIT 1`
	return scanListing(s.pool.QueryRow(ctx, query, hash))
}

// GetListingsByExpedient matches case-insensitively on the trimmed
// expedient number, the strongest cross-source identity.
func (s *PostgresStore) GetListingsByExpedient(ctx context.Context, expedient string) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM listings
		WHERE expedient_number <> '' AND LOWER(TRIM(expedient_number)) = LOWER(TRIM($1))`
	return s.queryListings(ctx, query, expedient)
}

func (s *PostgresStore) GetListingsByNumber(ctx context.Context, listingNumber string) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM listings
		WHERE listing_number <> '' AND listing_number = $1`
	return s.queryListings(ctx, query, listingNumber)
}

// GetListingByFamilyNumber finds a listing with the same listing number
// published by a sibling source of the same family.
func (s *PostgresStore) GetListingByFamilyNumber(ctx context.Context, sources []string, listingNumber string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM listings
		WHERE listing_number <> '' AND listing_number = $1 AND source = ANY($2)
		LIMIT 1`
	return scanListing(s.pool.QueryRow(ctx, query, listingNumber, sources))
}

// ForEachListing streams listings through fn, optionally scoped by
// jurisdiction. fn errors stop the iteration.
func (s *PostgresStore) ForEachListing(ctx context.Context, jurisdiction string, fn func(*models.Listing) error) error {
	query := `SELECT ` + listingColumns + ` FROM listings`
	args := []interface{}{}
	if jurisdiction != "" {
		query += ` WHERE jurisdiction = $1`
		args = append(args, jurisdiction)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *PostgresStore) UpdateListingValidity(ctx context.Context, id uuid.UUID, state models.ValidityState) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET validity_state = $2, updated_at = NOW() WHERE id = $1`,
		id, state)
	return err
}

func (s *PostgresStore) GetListingsForEnrichment(ctx context.Context, maxLevel, limit int) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM listings
		WHERE enrichment_level <= $1 AND validity_state = 'current' AND source_url <> ''
		ORDER BY last_enrichment_at NULLS FIRST, created_at
		LIMIT $2`
	return s.queryListings(ctx, query, maxLevel, limit)
}

// GetListingsMatchedSince returns listings tagged with the alert group
// that appeared or changed after the given instant. Used for digests.
func (s *PostgresStore) GetListingsMatchedSince(ctx context.Context, groupID string, since time.Time) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + `
		FROM listings
		WHERE $1 = ANY(alert_group_ids) AND updated_at > $2
		ORDER BY publication_date DESC NULLS LAST`
	return s.queryListings(ctx, query, groupID, since)
}

func (s *PostgresStore) queryListings(ctx context.Context, query string, args ...interface{}) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}
