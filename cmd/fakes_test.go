package cmd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airframesio/query-exporter/cmd/formatters"
)

// fakeSource serves a synthetic data set of total rows. Row n has the values
// ("name_n", "n") after column skipping.
type fakeSource struct {
	header    HeaderFields
	headerErr error
	total     int64
	countErr  error
	delay     time.Duration
	// failAfter makes the partition starting at the key fail after that many rows
	failAfter map[int64]int

	active    atomic.Int32
	maxActive atomic.Int32

	mu      sync.Mutex
	fetched []int64
}

func (s *fakeSource) Header(context.Context, string) (HeaderFields, error) {
	if s.headerErr != nil {
		return nil, s.headerErr
	}
	return s.header, nil
}

func (s *fakeSource) Count(context.Context, string) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.total, nil
}

func (s *fakeSource) Fetch(_ context.Context, _ string, start, end int64, _ ColumnSkip, fn func(formatters.Row) error) error {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		peak := s.maxActive.Load()
		if n <= peak || s.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	s.mu.Lock()
	s.fetched = append(s.fetched, start)
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	failAfter, shouldFail := s.failAfter[start]
	written := 0
	for i := start; i <= end && i < s.total; i++ {
		if shouldFail && written == failAfter {
			return fmt.Errorf("%w: connection reset at row %d", ErrQuery, i)
		}
		name := fmt.Sprintf("name_%d", i)
		value := fmt.Sprintf("%d", i)
		if err := fn(formatters.Row{&name, &value}); err != nil {
			return err
		}
		written++
	}
	if shouldFail && written == failAfter {
		return fmt.Errorf("%w: connection reset at end of range", ErrQuery)
	}
	return nil
}

// recordingReporter captures every event for assertions
type recordingReporter struct {
	mu       sync.Mutex
	states   []ExportState
	planned  int
	started  []int
	progress map[int][]int64
	finished []ExportResult
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{progress: make(map[int][]int64)}
}

func (r *recordingReporter) StateChanged(state ExportState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingReporter) JobPlanned(_ int64, partitions []Partition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planned = len(partitions)
}

func (r *recordingReporter) PartitionStarted(p Partition, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, p.Index)
}

func (r *recordingReporter) RowsWritten(p Partition, rows int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[p.Index] = append(r.progress[p.Index], rows)
}

func (r *recordingReporter) PartitionFinished(result ExportResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, result)
}

// fakeUploader records uploaded keys
type fakeUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, key, _, _ string) error {
	if u.err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, u.err)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	return nil
}

func testExportConfig(t *testing.T, chunkSize int) *Config {
	t.Helper()
	config := &Config{
		HeaderSQL: "select 0, 'name', 'value'",
		DataSQL:   "select row_num, name, value, x from people",
		ChunkSize: chunkSize,
		Database: DatabaseConfig{
			Driver:   DriverMySQL,
			URL:      "mysql://localhost/crm",
			User:     "loader",
			Password: "secret",
		},
		Output: OutputConfig{
			Dir:    t.TempDir(),
			Prefix: "people",
		},
	}
	config.setDefaults()
	return config
}
