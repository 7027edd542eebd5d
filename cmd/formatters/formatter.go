package formatters

import (
	"errors"
	"fmt"
	"io"
)

// Format type constants
const (
	FormatCSV     = "csv"
	FormatJSONL   = "jsonl"
	FormatParquet = "parquet"
)

// ErrUnsupportedFormat is returned when an unknown output format is requested
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Row is one exported record. A nil entry is a SQL NULL.
type Row []*string

// ColumnSchema describes a single output column
type ColumnSchema interface {
	GetName() string
}

// TableSchema describes the ordered output columns shared by every writer
type TableSchema interface {
	GetColumns() []ColumnSchema
}

// StreamWriter writes rows one at a time to an underlying writer
type StreamWriter interface {
	// WriteRow encodes and writes a single row
	WriteRow(row Row) error

	// Close flushes buffered output. It does not close the underlying writer.
	Close() error
}

// StreamingFormatter creates stream writers for a specific output format
type StreamingFormatter interface {
	// NewWriter writes any format preamble (e.g. the CSV header line) and
	// returns a writer for the data rows
	NewWriter(w io.Writer, schema TableSchema) (StreamWriter, error)

	// Extension returns the file extension for this format (e.g., ".csv")
	Extension() string

	// MIMEType returns the MIME type for this format
	MIMEType() string
}

// GetStreamingFormatter returns the formatter for the given format string
func GetStreamingFormatter(format string) (StreamingFormatter, error) {
	switch format {
	case FormatCSV, "":
		return NewCSVStreamingFormatter(), nil
	case FormatJSONL:
		return NewJSONLStreamingFormatter(), nil
	case FormatParquet:
		return NewParquetStreamingFormatter(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// GetStreamingFormatterWithCompression returns the formatter with compression
// settings. Only Parquet compresses internally; other formats ignore it.
func GetStreamingFormatterWithCompression(format, compression string) (StreamingFormatter, error) {
	if format == FormatParquet {
		return NewParquetStreamingFormatterWithCompression(compression), nil
	}
	return GetStreamingFormatter(format)
}

// UsesInternalCompression returns true if the format handles compression internally
func UsesInternalCompression(format string) bool {
	return format == FormatParquet
}

// fieldNames returns the column names used as record keys. Empty names become
// column_N and a name may appear only once.
func fieldNames(schema TableSchema) ([]string, error) {
	names := columnNames(schema)
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
			names[i] = name
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, name)
		}
		seen[name] = true
	}
	return names, nil
}

// checkRowWidth rejects rows carrying more values than there are columns
func checkRowWidth(row Row, columns []string) error {
	if len(row) > len(columns) {
		return fmt.Errorf("%w: row has %d values for %d columns", ErrRowTooWide, len(row), len(columns))
	}
	return nil
}

func columnNames(schema TableSchema) []string {
	if schema == nil {
		return nil
	}
	columns := schema.GetColumns()
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.GetName()
	}
	return names
}
