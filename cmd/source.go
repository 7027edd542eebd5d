package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/airframesio/query-exporter/cmd/formatters"
)

var (
	ErrCountQuery = errors.New("row count query failed")
	ErrQuery      = errors.New("data query failed")
)

// ColumnSkip is how many columns to drop from each end of a result row
type ColumnSkip struct {
	Leading  int
	Trailing int
}

var (
	// HeaderColumns drops the row number column of the header query
	HeaderColumns = ColumnSkip{Leading: 1}
	// DataColumns drops the row number column and the trailing bookkeeping column of the data query
	DataColumns = ColumnSkip{Leading: 1, Trailing: 1}
)

// Fetcher streams the rows of a range query in result order
type Fetcher interface {
	// Fetch binds start and end as the two range parameters of query and
	// calls fn once per row. An error returned by fn stops the walk and is
	// returned unchanged.
	Fetch(ctx context.Context, query string, start, end int64, skip ColumnSkip, fn func(formatters.Row) error) error
}

// QuerySource is everything an export job reads from the database
type QuerySource interface {
	Fetcher
	Header(ctx context.Context, query string) (HeaderFields, error)
	Count(ctx context.Context, query string) (int64, error)
}

// SQLSource runs export queries against a database/sql pool. Each call uses
// its own pooled connection so it is safe for concurrent use.
type SQLSource struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLSource creates a source over an open pool
func NewSQLSource(db *sql.DB, logger *slog.Logger) *SQLSource {
	return &SQLSource{db: db, logger: logger}
}

// Count runs a count query and returns its single value
func (s *SQLSource) Count(ctx context.Context, query string) (int64, error) {
	s.logger.Debug(fmt.Sprintf("Count query: %s", query))

	var total int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCountQuery, err)
	}
	return total, nil
}

// Fetch implements Fetcher
func (s *SQLSource) Fetch(ctx context.Context, query string, start, end int64, skip ColumnSkip, fn func(formatters.Row) error) error {
	return s.each(ctx, query, []any{start, end}, skip, fn)
}

// each walks every row of query. Values are scanned as nullable text so
// NULL stays distinguishable from an empty string.
func (s *SQLSource) each(ctx context.Context, query string, args []any, skip ColumnSkip, fn func(formatters.Row) error) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("%w: failed to read columns: %w", ErrQuery, err)
	}

	first := skip.Leading
	last := len(columns) - skip.Trailing
	if last < first {
		last = first
	}

	raw := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range raw {
		dest[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("%w: failed to scan row: %w", ErrQuery, err)
		}

		row := make(formatters.Row, 0, last-first)
		for i := first; i < last && i < len(raw); i++ {
			if raw[i].Valid {
				value := raw[i].String
				row = append(row, &value)
			} else {
				row = append(row, nil)
			}
		}

		if err := fn(row); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: error iterating rows: %w", ErrQuery, err)
	}
	return nil
}
