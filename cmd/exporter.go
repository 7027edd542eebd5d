package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrPartitionsFailed = errors.New("one or more partitions failed")

// ExportState is the lifecycle stage of an export job
type ExportState int32

const (
	StateIdle ExportState = iota
	StateCountingRows
	StatePlanning
	StateRunning
	StateReporting
	StateDone
	StateFailed
)

func (s ExportState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCountingRows:
		return "Counting rows"
	case StatePlanning:
		return "Planning"
	case StateRunning:
		return "Running"
	case StateReporting:
		return "Reporting"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("ExportState(%d)", int32(s))
	}
}

// JobReport collects the outcome of every partition task, in partition order
type JobReport struct {
	JobID     string
	TotalRows int64
	Results   []ExportResult
	StartTime time.Time
	EndTime   time.Time
}

// Elapsed is the wall clock time of the whole job
func (r *JobReport) Elapsed() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Failed returns the results of partitions that did not complete
func (r *JobReport) Failed() []ExportResult {
	var failed []ExportResult
	for _, result := range r.Results {
		if !result.Succeeded() {
			failed = append(failed, result)
		}
	}
	return failed
}

// Succeeded reports whether every partition completed
func (r *JobReport) Succeeded() bool {
	return len(r.Failed()) == 0
}

// RowsWritten sums the rows written by all partitions, failed ones included
func (r *JobReport) RowsWritten() int64 {
	var total int64
	for _, result := range r.Results {
		total += result.Rows
	}
	return total
}

// Exporter runs one export job: read the header, count rows, plan
// partitions and write them concurrently under the worker limit.
type Exporter struct {
	config   *Config
	source   QuerySource
	reporter ProgressReporter
	uploader Uploader
	logger   *slog.Logger
	jobID    string
	state    atomic.Int32
}

// NewExporter creates an exporter for a validated configuration
func NewExporter(config *Config, source QuerySource, logger *slog.Logger) *Exporter {
	return &Exporter{
		config:   config,
		source:   source,
		reporter: NewLogReporter(logger),
		logger:   logger,
		jobID:    uuid.New().String(),
	}
}

// WithReporter replaces the default log reporter
func (e *Exporter) WithReporter(reporter ProgressReporter) *Exporter {
	e.reporter = reporter
	return e
}

// WithUploader enables uploading of finished files
func (e *Exporter) WithUploader(uploader Uploader) *Exporter {
	e.uploader = uploader
	return e
}

// JobID identifies this run in logs and task files
func (e *Exporter) JobID() string {
	return e.jobID
}

// State returns the current lifecycle stage
func (e *Exporter) State() ExportState {
	return ExportState(e.state.Load())
}

func (e *Exporter) setState(state ExportState) {
	e.state.Store(int32(state))
	e.reporter.StateChanged(state)
}

// fail moves the job to Failed and returns err
func (e *Exporter) fail(err error) (*JobReport, error) {
	e.setState(StateFailed)
	return nil, err
}

// Run executes the job. Partition failures do not stop other partitions;
// they are listed in the report and Run returns ErrPartitionsFailed after
// the summary. Any error before partitions start is returned with a nil report.
func (e *Exporter) Run(ctx context.Context) (*JobReport, error) {
	report := &JobReport{
		JobID:     e.jobID,
		StartTime: time.Now(),
	}
	e.logger.Info(fmt.Sprintf("🕐 Start time = %s", report.StartTime.Format(time.RFC3339)))

	writer, err := NewChunkWriter(e.config, e.source, e.reporter, e.logger)
	if err != nil {
		return e.fail(err)
	}
	if e.uploader != nil {
		writer.WithUploader(e.uploader)
	}

	e.setState(StateCountingRows)

	e.logger.Debug("Running header query...")
	header, err := e.source.Header(ctx, e.config.HeaderSQL)
	if err != nil {
		return e.fail(err)
	}
	e.logger.Debug(fmt.Sprintf("Header fields: %v", []string(header)))

	e.logger.Debug("Counting rows...")
	total, err := e.source.Count(ctx, countQuery(e.config.DataSQL))
	if err != nil {
		return e.fail(err)
	}
	report.TotalRows = total

	e.setState(StatePlanning)
	partitions := PlanPartitions(total, int64(e.config.ChunkSize))
	e.reporter.JobPlanned(total, partitions)

	if len(partitions) > 0 {
		if err := os.MkdirAll(e.config.Output.Dir, 0o755); err != nil {
			return e.fail(fmt.Errorf("%w: %w", ErrOutput, err))
		}
	}

	e.setState(StateRunning)
	report.Results = e.runPartitions(ctx, writer, partitions, header)

	e.setState(StateReporting)
	report.EndTime = time.Now()
	e.printSummary(report)
	e.setState(StateDone)

	if failed := report.Failed(); len(failed) > 0 {
		return report, fmt.Errorf("%w: %d of %d", ErrPartitionsFailed, len(failed), len(report.Results))
	}
	return report, nil
}

// runPartitions writes every partition with at most Workers running at once.
// Tasks never return an error, so one failure cannot cancel the others.
func (e *Exporter) runPartitions(ctx context.Context, writer *ChunkWriter, partitions []Partition, header HeaderFields) []ExportResult {
	results := make([]ExportResult, len(partitions))

	var g errgroup.Group
	g.SetLimit(e.config.Workers)
	for i, p := range partitions {
		g.Go(func() error {
			results[i] = writer.WriteChunk(ctx, p, header)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Exporter) printSummary(report *JobReport) {
	failed := report.Failed()

	e.logger.Info("")
	e.logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	e.logger.Info("📈 Summary")
	for _, r := range report.Results {
		if r.Succeeded() {
			e.logger.Info(fmt.Sprintf("✅ %s: %d rows → %s", r.TaskID, r.Rows, r.Path))
		} else {
			e.logger.Error(fmt.Sprintf("❌ %s: %v", r.TaskID, r.Err))
		}
	}
	e.logger.Info(fmt.Sprintf("📊 Rows: %d counted, %d written", report.TotalRows, report.RowsWritten()))
	e.logger.Info(fmt.Sprintf("✅ Successful: %d", len(report.Results)-len(failed)))
	if len(failed) > 0 {
		e.logger.Info(fmt.Sprintf("❌ Failed: %d", len(failed)))
	}
	e.logger.Info(fmt.Sprintf("🕐 End time = %s", report.EndTime.Format(time.RFC3339)))
	e.logger.Info(fmt.Sprintf("⏱️  Total time taken in seconds: %.3f", report.Elapsed().Seconds()))
}
