package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/airframesio/query-exporter/cmd/formatters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockSource(t *testing.T) (*SQLSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLSource(db, testLogger()), mock
}

func rowValues(row formatters.Row) []any {
	values := make([]any, len(row))
	for i, v := range row {
		if v != nil {
			values[i] = *v
		}
	}
	return values
}

func TestSQLSourceHeader(t *testing.T) {
	t.Run("drops row number column", func(t *testing.T) {
		source, mock := newMockSource(t)
		mock.ExpectQuery("select header").WillReturnRows(
			sqlmock.NewRows([]string{"rn", "a", "b"}).
				AddRow(int64(0), "name", "amount").
				AddRow(int64(1), "ignored", "ignored"),
		)

		header, err := source.Header(context.Background(), "select header")
		require.NoError(t, err)
		assert.Equal(t, HeaderFields{"name", "amount"}, header)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null becomes empty name", func(t *testing.T) {
		source, mock := newMockSource(t)
		mock.ExpectQuery("select header").WillReturnRows(
			sqlmock.NewRows([]string{"rn", "a", "b"}).AddRow(int64(0), nil, "amount"),
		)

		header, err := source.Header(context.Background(), "select header")
		require.NoError(t, err)
		assert.Equal(t, HeaderFields{"", "amount"}, header)
	})

	t.Run("no rows yields empty header", func(t *testing.T) {
		source, mock := newMockSource(t)
		mock.ExpectQuery("select header").WillReturnRows(sqlmock.NewRows([]string{"rn", "a"}))

		header, err := source.Header(context.Background(), "select header")
		require.NoError(t, err)
		assert.Empty(t, header)
		assert.NotNil(t, header)
	})

	t.Run("query error", func(t *testing.T) {
		source, mock := newMockSource(t)
		mock.ExpectQuery("select header").WillReturnError(errors.New("syntax error"))

		_, err := source.Header(context.Background(), "select header")
		assert.ErrorIs(t, err, ErrHeaderQuery)
	})
}

func TestSQLSourceCount(t *testing.T) {
	source, mock := newMockSource(t)
	query := countQuery("select * from people")
	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(250001)))

	total, err := source.Count(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, int64(250001), total)

	mock.ExpectQuery(query).WillReturnError(errors.New("table does not exist"))
	_, err = source.Count(context.Background(), query)
	assert.ErrorIs(t, err, ErrCountQuery)
}

func TestSQLSourceFetch(t *testing.T) {
	query := rangeQuery("select * from people", "row_num", DriverMySQL)

	t.Run("drops first and last column and keeps nulls", func(t *testing.T) {
		source, mock := newMockSource(t)
		mock.ExpectQuery(query).
			WithArgs(int64(0), int64(99999)).
			WillReturnRows(sqlmock.NewRows([]string{"row_num", "name", "amount", "updated_at"}).
				AddRow(int64(0), "Alice", "10", "2024-01-01").
				AddRow(int64(1), nil, "5", "2024-01-01").
				AddRow(int64(2), "", "20", "2024-01-01"))

		var got [][]any
		err := source.Fetch(context.Background(), query, 0, 99999, DataColumns, func(row formatters.Row) error {
			require.Len(t, row, 2)
			got = append(got, rowValues(row))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, [][]any{{"Alice", "10"}, {nil, "5"}, {"", "20"}}, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("narrow result yields empty rows", func(t *testing.T) {
		source, mock := newMockSource(t)
		mock.ExpectQuery(query).
			WithArgs(int64(0), int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"row_num"}).AddRow(int64(0)))

		calls := 0
		err := source.Fetch(context.Background(), query, 0, 9, DataColumns, func(row formatters.Row) error {
			calls++
			assert.Empty(t, row)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("callback error is returned unchanged", func(t *testing.T) {
		source, mock := newMockSource(t)
		mock.ExpectQuery(query).
			WithArgs(int64(0), int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"row_num", "name", "x"}).
				AddRow(int64(0), "a", "x").
				AddRow(int64(1), "b", "x"))

		stop := errors.New("disk full")
		calls := 0
		err := source.Fetch(context.Background(), query, 0, 9, DataColumns, func(formatters.Row) error {
			calls++
			return stop
		})
		assert.Equal(t, stop, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("query error", func(t *testing.T) {
		source, mock := newMockSource(t)
		mock.ExpectQuery(query).WithArgs(int64(0), int64(9)).WillReturnError(errors.New("lost connection"))

		err := source.Fetch(context.Background(), query, 0, 9, DataColumns, func(formatters.Row) error { return nil })
		assert.ErrorIs(t, err, ErrQuery)
	})

	t.Run("iteration error", func(t *testing.T) {
		source, mock := newMockSource(t)
		mock.ExpectQuery(query).
			WithArgs(int64(0), int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"row_num", "name", "x"}).
				AddRow(int64(0), "a", "x").
				RowError(0, errors.New("connection reset")))

		err := source.Fetch(context.Background(), query, 0, 9, DataColumns, func(formatters.Row) error { return nil })
		assert.ErrorIs(t, err, ErrQuery)
	})
}
