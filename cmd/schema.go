package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/airframesio/query-exporter/cmd/formatters"
)

var ErrHeaderQuery = errors.New("header query failed")

// ColumnInfo represents one output column name
type ColumnInfo struct {
	Name string
}

// GetName implements formatters.ColumnSchema
func (c *ColumnInfo) GetName() string {
	return c.Name
}

// HeaderFields is the ordered list of output column names. It is read once
// from the first row of the header query and shared read-only by every
// partition task.
type HeaderFields []string

// GetColumns implements formatters.TableSchema
func (h HeaderFields) GetColumns() []formatters.ColumnSchema {
	cols := make([]formatters.ColumnSchema, len(h))
	for i := range h {
		cols[i] = &ColumnInfo{Name: h[i]}
	}
	return cols
}

// errStopIteration ends a row walk after the first row
var errStopIteration = errors.New("stop iteration")

// Header runs the header query and returns the values of its first row with
// the leading row number column dropped. NULL values become empty names.
// A query that returns no rows yields an empty header.
func (s *SQLSource) Header(ctx context.Context, query string) (HeaderFields, error) {
	var header HeaderFields
	err := s.each(ctx, query, nil, HeaderColumns, func(row formatters.Row) error {
		header = make(HeaderFields, len(row))
		for i, v := range row {
			if v != nil {
				header[i] = *v
			}
		}
		return errStopIteration
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("%w: %w", ErrHeaderQuery, err)
	}

	if header == nil {
		s.logger.Warn("⚠️  Header query returned no rows, files will have an empty header line")
		header = HeaderFields{}
	}
	return header, nil
}
