package formatters

import (
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// Errors for keyed formats, where every value needs a distinct column name
var (
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrRowTooWide      = errors.New("row is wider than the header")
)

// parquetBatchSize bounds how many rows are held before handing them to the writer
const parquetBatchSize = 1024

// ParquetStreamingFormatter handles Parquet format output in streaming mode.
// Every column is an optional UTF-8 string, since rows arrive as text.
type ParquetStreamingFormatter struct {
	compression string
}

// NewParquetStreamingFormatter creates a new Parquet formatter
func NewParquetStreamingFormatter() *ParquetStreamingFormatter {
	return &ParquetStreamingFormatter{
		compression: "snappy", // Default Parquet compression
	}
}

// NewParquetStreamingFormatterWithCompression creates a Parquet formatter with specified compression
func NewParquetStreamingFormatterWithCompression(compression string) *ParquetStreamingFormatter {
	return &ParquetStreamingFormatter{
		compression: compression,
	}
}

// NewWriter creates a Parquet stream writer over w
func (f *ParquetStreamingFormatter) NewWriter(w io.Writer, schema TableSchema) (StreamWriter, error) {
	columns, err := fieldNames(schema)
	if err != nil {
		return nil, err
	}
	fields := make(parquet.Group, len(columns))
	for _, col := range columns {
		fields[col] = parquet.Optional(parquet.String())
	}
	pqSchema := parquet.NewSchema("query_export", fields)

	var codec parquet.WriterOption
	switch f.compression {
	case "zstd":
		codec = parquet.Compression(&parquet.Zstd)
	case "gzip":
		codec = parquet.Compression(&parquet.Gzip)
	case "lz4":
		codec = parquet.Compression(&parquet.Lz4Raw)
	case "none":
		codec = parquet.Compression(&parquet.Uncompressed)
	default:
		codec = parquet.Compression(&parquet.Snappy)
	}

	return &parquetStreamWriter{
		writer:  parquet.NewGenericWriter[map[string]any](w, pqSchema, codec),
		columns: columns,
		batch:   make([]map[string]any, 0, parquetBatchSize),
	}, nil
}

// Extension returns the file extension for Parquet files
func (f *ParquetStreamingFormatter) Extension() string {
	return ".parquet"
}

// MIMEType returns the MIME type for Parquet
func (f *ParquetStreamingFormatter) MIMEType() string {
	return "application/vnd.apache.parquet"
}

// parquetStreamWriter implements StreamWriter for Parquet format
type parquetStreamWriter struct {
	writer  *parquet.GenericWriter[map[string]any]
	columns []string
	batch   []map[string]any
}

// WriteRow buffers one row, handing a full batch to the Parquet writer
func (w *parquetStreamWriter) WriteRow(row Row) error {
	if err := checkRowWidth(row, w.columns); err != nil {
		return err
	}
	record := make(map[string]any, len(w.columns))
	for i, col := range w.columns {
		if i < len(row) && row[i] != nil {
			record[col] = *row[i]
		} else {
			record[col] = nil
		}
	}

	w.batch = append(w.batch, record)
	if len(w.batch) >= parquetBatchSize {
		return w.flushBatch()
	}
	return nil
}

func (w *parquetStreamWriter) flushBatch() error {
	if len(w.batch) == 0 {
		return nil
	}
	if _, err := w.writer.Write(w.batch); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	w.batch = w.batch[:0]
	return nil
}

// Close writes pending rows and the Parquet footer
func (w *parquetStreamWriter) Close() error {
	if err := w.flushBatch(); err != nil {
		return err
	}
	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
