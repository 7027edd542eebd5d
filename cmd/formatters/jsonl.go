package formatters

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// JSONLStreamingFormatter handles JSONL format output in streaming mode
type JSONLStreamingFormatter struct{}

// NewJSONLStreamingFormatter creates a new JSONL streaming formatter
func NewJSONLStreamingFormatter() *JSONLStreamingFormatter {
	return &JSONLStreamingFormatter{}
}

// NewWriter creates a new JSONL stream writer. JSONL has no header line;
// the column names become the object keys, in column order.
func (f *JSONLStreamingFormatter) NewWriter(w io.Writer, schema TableSchema) (StreamWriter, error) {
	columns, err := fieldNames(schema)
	if err != nil {
		return nil, err
	}

	keys := make([][]byte, len(columns))
	for i, col := range columns {
		key, err := json.Marshal(col)
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON key %q: %w", col, err)
		}
		keys[i] = key
	}

	return &jsonlStreamWriter{
		writer:  bufio.NewWriter(w),
		columns: columns,
		keys:    keys,
	}, nil
}

// Extension returns the file extension for JSONL files
func (f *JSONLStreamingFormatter) Extension() string {
	return ".jsonl"
}

// MIMEType returns the MIME type for JSONL
func (f *JSONLStreamingFormatter) MIMEType() string {
	return "application/x-ndjson"
}

// jsonlStreamWriter implements StreamWriter for JSONL format
type jsonlStreamWriter struct {
	writer  *bufio.Writer
	columns []string
	keys    [][]byte // JSON encoded column names
}

// WriteRow writes one JSON object followed by a newline
func (w *jsonlStreamWriter) WriteRow(row Row) error {
	if err := checkRowWidth(row, w.columns); err != nil {
		return err
	}

	w.writer.WriteByte('{')
	for i, key := range w.keys {
		if i > 0 {
			w.writer.WriteByte(',')
		}
		w.writer.Write(key)
		w.writer.WriteByte(':')

		var value *string
		if i < len(row) {
			value = row[i]
		}
		jsonData, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode JSON row: %w", err)
		}
		w.writer.Write(jsonData)
	}
	w.writer.WriteByte('}')

	// bufio.Writer keeps the first write error and returns it from here on
	return w.writer.WriteByte('\n')
}

// Close flushes the buffered writer
func (w *jsonlStreamWriter) Close() error {
	return w.writer.Flush()
}
