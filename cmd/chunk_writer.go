package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/airframesio/query-exporter/cmd/compressors"
	"github.com/airframesio/query-exporter/cmd/formatters"
)

var ErrOutput = errors.New("failed to write output file")

// ExportResult is the outcome of one partition task
type ExportResult struct {
	TaskID    string
	Partition Partition
	Path      string
	ObjectKey string // Set when the file was uploaded
	Rows      int64
	StartTime time.Time
	Duration  time.Duration
	Err       error
}

// Succeeded reports whether the partition was written (and uploaded, if enabled)
func (r ExportResult) Succeeded() bool {
	return r.Err == nil
}

// ChunkWriter writes one partition of the data query to its own file.
// A single ChunkWriter is shared by all partition tasks of a job; every call
// to WriteChunk owns its file and row stream.
type ChunkWriter struct {
	config       *Config
	query        string
	fetcher      Fetcher
	formatter    formatters.StreamingFormatter
	compressor   compressors.Compressor
	reporter     ProgressReporter
	uploader     Uploader
	pathTemplate *PathTemplate
	logger       *slog.Logger
}

// NewChunkWriter resolves the output format and compression for a job
func NewChunkWriter(config *Config, fetcher Fetcher, reporter ProgressReporter, logger *slog.Logger) (*ChunkWriter, error) {
	formatter, err := formatters.GetStreamingFormatterWithCompression(config.Output.Format, config.Output.Compression)
	if err != nil {
		return nil, err
	}

	compression := config.Output.Compression
	if formatters.UsesInternalCompression(config.Output.Format) {
		compression = "none"
	}
	compressor, err := compressors.GetCompressor(compression)
	if err != nil {
		return nil, err
	}

	return &ChunkWriter{
		config:     config,
		query:      rangeQuery(config.DataSQL, config.RowNumberColumn, config.Database.Driver),
		fetcher:    fetcher,
		formatter:  formatter,
		compressor: compressor,
		reporter:   reporter,
		logger:     logger,
	}, nil
}

// WithUploader uploads every successfully written file
func (w *ChunkWriter) WithUploader(uploader Uploader) *ChunkWriter {
	w.uploader = uploader
	w.pathTemplate = NewPathTemplate(w.config.S3.PathTemplate)
	return w
}

// FilePath returns where a partition's file is written
func (w *ChunkWriter) FilePath(p Partition) string {
	filename := GenerateFilename(w.config.Output.Prefix, p.Ordinal(), w.formatter.Extension(), w.compressor.Extension())
	return outputPath(w.config.Output.Dir, filename)
}

// WriteChunk exports one partition. Failures are recorded in the result and
// never affect other partitions.
func (w *ChunkWriter) WriteChunk(ctx context.Context, p Partition, header HeaderFields) ExportResult {
	result := ExportResult{
		TaskID:    p.TaskID(),
		Partition: p,
		Path:      w.FilePath(p),
		StartTime: time.Now(),
	}

	w.reporter.PartitionStarted(p, result.Path)

	result.Rows, result.Err = w.writeFile(ctx, p, header, result.Path)
	if result.Err != nil {
		w.discardPartial(result.Path)
	} else if w.uploader != nil {
		key := w.pathTemplate.Generate(w.config.Output.Prefix, p.Ordinal(), result.Path, result.StartTime)
		w.logger.Debug(fmt.Sprintf("%s: uploading %s to %s", result.TaskID, result.Path, key))
		if err := w.uploader.Upload(ctx, key, result.Path, w.contentType()); err != nil {
			result.Err = err
		} else {
			result.ObjectKey = key
		}
	}

	result.Duration = time.Since(result.StartTime)
	w.reporter.PartitionFinished(result)
	return result
}

func (w *ChunkWriter) contentType() string {
	if w.compressor.Extension() != "" {
		return "application/octet-stream"
	}
	return w.formatter.MIMEType()
}

// writeFile streams the partition's rows through formatter and compressor
// into a newly created file. Writers are closed innermost first.
func (w *ChunkWriter) writeFile(ctx context.Context, p Partition, header HeaderFields, path string) (count int64, err error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOutput, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrOutput, cerr)
		}
	}()

	compressed, err := w.compressor.NewWriter(file, w.config.Output.CompressionLevel)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOutput, err)
	}
	defer func() {
		if cerr := compressed.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrOutput, cerr)
		}
	}()

	stream, err := w.formatter.NewWriter(compressed, header)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOutput, err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrOutput, cerr)
		}
	}()

	size := p.Size()
	err = w.fetcher.Fetch(ctx, w.query, p.Start, p.End, DataColumns, func(row formatters.Row) error {
		if werr := stream.WriteRow(row); werr != nil {
			return fmt.Errorf("%w: %w", ErrOutput, werr)
		}
		count++
		if count%progressInterval == 0 || count == size {
			w.reporter.RowsWritten(p, count)
		}
		return nil
	})
	return count, err
}

// discardPartial applies the partial file policy to a failed partition
func (w *ChunkWriter) discardPartial(path string) {
	if w.config.Output.OnFailure != FailurePolicyDelete {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn(fmt.Sprintf("⚠️  Failed to remove partial file %s: %v", path, err))
	}
}
