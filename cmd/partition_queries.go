package cmd

import (
	"fmt"
	"strings"
)

// Wrapping aliases for the user supplied data query. The data query must
// expose a 0-based sequential row number column (row_num by default) that
// partitions filter on.
const (
	countQueryTemplate = "select count(*) from ( %s ) as export_rows"
	rangeQueryTemplate = "select * from ( %s ) as export_rows where %s between %s and %s"
)

// trimQuery strips whitespace and trailing statement terminators so the
// query can be nested as a derived table.
func trimQuery(query string) string {
	return strings.TrimRight(strings.TrimSpace(query), "; \t\r\n")
}

// countQuery wraps the data query to count every row it produces
func countQuery(dataSQL string) string {
	return fmt.Sprintf(countQueryTemplate, trimQuery(dataSQL))
}

// rangeQuery wraps the data query with an inclusive row number range.
// Its two bind parameters are the first and last row number of a partition.
func rangeQuery(dataSQL, rowColumn, driver string) string {
	lower, upper := "?", "?"
	if driver == DriverPostgres {
		lower, upper = "$1", "$2"
	}
	return fmt.Sprintf(rangeQueryTemplate, trimQuery(dataSQL), rowColumn, lower, upper)
}
