package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"licitascan/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// SearchListings runs the combined filter/sort/paginate query the API
// layer exposes. Date ordering supports an explicit nulls-last mode
// since Postgres sorts nulls first on ASC by default.
func (s *PostgresStore) SearchListings(ctx context.Context, q models.SearchQuery) ([]models.Listing, error) {
	builder := psql.Select().Columns(listingColumns).From("listings")

	if q.Source != "" {
		builder = builder.Where(sq.Eq{"source": q.Source})
	}
	if q.Jurisdiction != "" {
		builder = builder.Where(sq.Eq{"jurisdiction": q.Jurisdiction})
	}
	if q.Category != "" {
		builder = builder.Where(sq.Eq{"category": q.Category})
	}
	if q.WorkflowState != "" {
		builder = builder.Where(sq.Eq{"workflow_state": q.WorkflowState})
	}
	if q.ValidityState != "" {
		builder = builder.Where(sq.Eq{"validity_state": q.ValidityState})
	}
	if q.AlertGroupID != "" {
		builder = builder.Where("? = ANY(alert_group_ids)", q.AlertGroupID)
	}
	if q.Text != "" {
		pattern := "%" + q.Text + "%"
		builder = builder.Where(sq.Or{
			sq.ILike{"title": pattern},
			sq.ILike{"organization": pattern},
		})
	}

	orderBy := q.OrderBy
	switch orderBy {
	case "", "publication_date":
		orderBy = "publication_date"
	case "opening_date":
	default:
		return nil, fmt.Errorf("unsupported order column: %s", q.OrderBy)
	}
	direction := "DESC"
	if q.Ascending {
		direction = "ASC"
	}
	order := orderBy + " " + direction
	if q.NullsLast {
		order += " NULLS LAST"
	}
	builder = builder.OrderBy(order, "created_at DESC")

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	builder = builder.Limit(uint64(limit))
	if q.Offset > 0 {
		builder = builder.Offset(uint64(q.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	return s.queryListings(ctx, query, args...)
}
