package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ErrExportRunning is returned when the PID file names another live exporter
var ErrExportRunning = errors.New("another export is already running")

// TaskInfo represents the current export job status
type TaskInfo struct {
	PID                 int       `json:"pid"`
	JobID               string    `json:"job_id"`
	StartTime           time.Time `json:"start_time"`
	Prefix              string    `json:"prefix"`
	State               string    `json:"state"`
	TotalRows           int64     `json:"total_rows"`
	RowsWritten         int64     `json:"rows_written"`
	TotalPartitions     int       `json:"total_partitions"`
	CompletedPartitions int       `json:"completed_partitions"`
	FailedPartitions    int       `json:"failed_partitions"`
	CurrentPartition    string    `json:"current_partition,omitempty"`
	Progress            float64   `json:"progress"`
	LastUpdate          time.Time `json:"last_update"`
}

// stateDir holds the PID and task files of a running export
func stateDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".query-exporter")
}

// GetPIDFilePath returns the path to the PID file
func GetPIDFilePath() string {
	return filepath.Join(stateDir(), "exporter.pid")
}

// GetTaskFilePath returns the path to the task info file
func GetTaskFilePath() string {
	return filepath.Join(stateDir(), "current_task.json")
}

// WritePIDFile writes the current process PID to a file
func WritePIDFile() error {
	pidPath := GetPIDFilePath()
	if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	pid := os.Getpid()
	return os.WriteFile(pidPath, []byte(strconv.Itoa(pid)), 0o600)
}

// RemovePIDFile removes the PID file
func RemovePIDFile() error {
	return os.Remove(GetPIDFilePath())
}

// ReadPIDFile reads the PID from file
func ReadPIDFile() (int, error) {
	data, err := os.ReadFile(GetPIDFilePath())
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// IsProcessRunning checks if a process with given PID is running
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 only checks that the process exists
	return process.Signal(syscall.Signal(0)) == nil
}

// checkRunningExport refuses to start while the PID file names another live
// process. A missing or stale PID file is ignored and later overwritten.
func checkRunningExport() error {
	pid, err := ReadPIDFile()
	if err != nil || pid == os.Getpid() || !IsProcessRunning(pid) {
		return nil
	}

	info, err := ReadTaskInfo()
	if err != nil || info.PID != pid {
		return fmt.Errorf("%w (pid %d)", ErrExportRunning, pid)
	}
	finished := info.CompletedPartitions + info.FailedPartitions
	return fmt.Errorf("%w (pid %d, job %s, prefix %s): %s, %d/%d partitions, %d/%d rows",
		ErrExportRunning, pid, info.JobID, info.Prefix, info.State,
		finished, info.TotalPartitions, info.RowsWritten, info.TotalRows)
}

// WriteTaskInfo writes current task information to file
func WriteTaskInfo(info *TaskInfo) error {
	taskPath := GetTaskFilePath()
	if err := os.MkdirAll(filepath.Dir(taskPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	info.LastUpdate = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task info: %w", err)
	}

	return os.WriteFile(taskPath, data, 0o600)
}

// ReadTaskInfo reads current task information from file
func ReadTaskInfo() (*TaskInfo, error) {
	data, err := os.ReadFile(GetTaskFilePath())
	if err != nil {
		return nil, err
	}

	var info TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task info: %w", err)
	}

	return &info, nil
}

// RemoveTaskFile removes the task info file
func RemoveTaskFile() error {
	return os.Remove(GetTaskFilePath())
}

// taskInfoReporter keeps the task info file in step with job progress.
// Row counts are folded in on the next partition or state event.
type taskInfoReporter struct {
	mu      sync.Mutex
	info    *TaskInfo
	rows    map[int]int64
	onError func(error)
}

func newTaskInfoReporter(info *TaskInfo, onError func(error)) *taskInfoReporter {
	return &taskInfoReporter{info: info, rows: make(map[int]int64), onError: onError}
}

// write must be called with mu held
func (r *taskInfoReporter) write() {
	var written int64
	for _, n := range r.rows {
		written += n
	}
	r.info.RowsWritten = written
	if r.info.TotalPartitions > 0 {
		finished := r.info.CompletedPartitions + r.info.FailedPartitions
		r.info.Progress = float64(finished) / float64(r.info.TotalPartitions) * 100
	}
	if err := WriteTaskInfo(r.info); err != nil && r.onError != nil {
		r.onError(err)
	}
}

func (r *taskInfoReporter) StateChanged(state ExportState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info.State = state.String()
	r.write()
}

func (r *taskInfoReporter) JobPlanned(total int64, partitions []Partition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info.TotalRows = total
	r.info.TotalPartitions = len(partitions)
	r.write()
}

func (r *taskInfoReporter) PartitionStarted(p Partition, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info.CurrentPartition = p.String()
	r.write()
}

func (r *taskInfoReporter) RowsWritten(p Partition, rows int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[p.Index] = rows
}

func (r *taskInfoReporter) PartitionFinished(result ExportResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[result.Partition.Index] = result.Rows
	if result.Err != nil {
		r.info.FailedPartitions++
	} else {
		r.info.CompletedPartitions++
	}
	r.write()
}
