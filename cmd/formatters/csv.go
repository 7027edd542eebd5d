package formatters

import (
	"bufio"
	"io"
	"runtime"
	"strings"
)

// lineTerminator follows the platform convention, like a println would
var lineTerminator = func() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}()

// EncodeCSVField renders one value for a comma-delimited line.
// NULL becomes the empty string. A value is quoted only when it contains a
// comma, a double quote, CR or LF, and embedded quotes are doubled.
func EncodeCSVField(value *string) string {
	if value == nil {
		return ""
	}
	v := *value
	if !strings.ContainsAny(v, ",\"\r\n") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// EncodeCSVLine joins encoded fields with commas (no terminator)
func EncodeCSVLine(fields Row) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(EncodeCSVField(f))
	}
	return sb.String()
}

// CSVStreamingFormatter handles CSV format output in streaming mode.
// Lines are built with EncodeCSVField since encoding/csv also quotes fields
// with a leading space.
type CSVStreamingFormatter struct{}

// NewCSVStreamingFormatter creates a new CSV streaming formatter
func NewCSVStreamingFormatter() *CSVStreamingFormatter {
	return &CSVStreamingFormatter{}
}

// NewWriter writes the header line immediately, even when there are no
// columns, and returns a writer for the data rows
func (f *CSVStreamingFormatter) NewWriter(w io.Writer, schema TableSchema) (StreamWriter, error) {
	names := columnNames(schema)
	header := make(Row, len(names))
	for i := range names {
		header[i] = &names[i]
	}

	sw := &csvStreamWriter{writer: bufio.NewWriter(w)}
	if err := sw.WriteRow(header); err != nil {
		return nil, err
	}
	return sw, nil
}

// Extension returns the file extension for CSV files
func (f *CSVStreamingFormatter) Extension() string {
	return ".csv"
}

// MIMEType returns the MIME type for CSV
func (f *CSVStreamingFormatter) MIMEType() string {
	return "text/csv"
}

// csvStreamWriter implements StreamWriter for CSV format
type csvStreamWriter struct {
	writer *bufio.Writer
}

// WriteRow writes one comma-joined line
func (w *csvStreamWriter) WriteRow(row Row) error {
	if _, err := w.writer.WriteString(EncodeCSVLine(row)); err != nil {
		return err
	}
	_, err := w.writer.WriteString(lineTerminator)
	return err
}

// Close flushes the buffered writer
func (w *csvStreamWriter) Close() error {
	return w.writer.Flush()
}
