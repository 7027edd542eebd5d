package cmd

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// progressInterval is how many rows a partition writes between progress updates
const progressInterval = 1000

// ProgressReporter receives job telemetry. Partition methods are called
// concurrently from partition tasks.
type ProgressReporter interface {
	StateChanged(state ExportState)
	JobPlanned(total int64, partitions []Partition)
	PartitionStarted(p Partition, path string)
	RowsWritten(p Partition, rows int64)
	PartitionFinished(result ExportResult)
}

// logReporter writes progress to the structured logger
type logReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter that logs every event
func NewLogReporter(logger *slog.Logger) ProgressReporter {
	return &logReporter{logger: logger}
}

func (r *logReporter) StateChanged(state ExportState) {
	r.logger.Debug(fmt.Sprintf("Export state: %s", state))
}

func (r *logReporter) JobPlanned(total int64, partitions []Partition) {
	r.logger.Info(fmt.Sprintf("📊 Found %d rows, exporting %d partition(s)", total, len(partitions)))
}

func (r *logReporter) PartitionStarted(p Partition, path string) {
	r.logger.Info(fmt.Sprintf("▶️  %s: exporting rows %d-%d to %s", p.TaskID(), p.Start, p.End, path))
}

func (r *logReporter) RowsWritten(p Partition, rows int64) {
	r.logger.Info(fmt.Sprintf("   %s: current row cnt = %d", p.TaskID(), rows))
}

func (r *logReporter) PartitionFinished(result ExportResult) {
	if result.Err != nil {
		r.logger.Error(fmt.Sprintf("❌ %s: failed after %d rows: %v", result.TaskID, result.Rows, result.Err))
		return
	}
	r.logger.Info(fmt.Sprintf("✅ %s: wrote %d rows to %s in %s", result.TaskID, result.Rows, result.Path, result.Duration.Round(time.Millisecond)))
}

// multiReporter fans every event out to several reporters
type multiReporter []ProgressReporter

func newMultiReporter(reporters ...ProgressReporter) ProgressReporter {
	return multiReporter(reporters)
}

func (m multiReporter) StateChanged(state ExportState) {
	for _, r := range m {
		r.StateChanged(state)
	}
}

func (m multiReporter) JobPlanned(total int64, partitions []Partition) {
	for _, r := range m {
		r.JobPlanned(total, partitions)
	}
}

func (m multiReporter) PartitionStarted(p Partition, path string) {
	for _, r := range m {
		r.PartitionStarted(p, path)
	}
}

func (m multiReporter) RowsWritten(p Partition, rows int64) {
	for _, r := range m {
		r.RowsWritten(p, rows)
	}
}

func (m multiReporter) PartitionFinished(result ExportResult) {
	for _, r := range m {
		r.PartitionFinished(result)
	}
}

// tuiReporter forwards events to a running bubbletea program
type tuiReporter struct {
	program *tea.Program
}

func newTUIReporter(program *tea.Program) ProgressReporter {
	return &tuiReporter{program: program}
}

func (r *tuiReporter) StateChanged(state ExportState) {
	r.program.Send(stateMsg{state: state})
}

func (r *tuiReporter) JobPlanned(total int64, partitions []Partition) {
	r.program.Send(jobPlannedMsg{total: total, partitions: partitions})
}

func (r *tuiReporter) PartitionStarted(p Partition, path string) {
	r.program.Send(partitionStartedMsg{partition: p, path: path})
}

func (r *tuiReporter) RowsWritten(p Partition, rows int64) {
	r.program.Send(rowsWrittenMsg{index: p.Index, rows: rows})
}

func (r *tuiReporter) PartitionFinished(result ExportResult) {
	r.program.Send(partitionFinishedMsg{result: result})
}

type partitionStatus struct {
	partition Partition
	path      string
	rows      int64
	running   bool
	finished  bool
	err       error
}

type progressModel struct {
	jobID           string
	prefix          string
	state           ExportState
	partitions      []partitionStatus
	totalRows       int64
	completed       int
	failed          int
	overallProgress progress.Model
	currentSpinner  spinner.Model
	startTime       time.Time
	width           int
	messages        []string
	done            bool
	interrupted     bool
}

type stateMsg struct {
	state ExportState
}

type jobPlannedMsg struct {
	total      int64
	partitions []Partition
}

type partitionStartedMsg struct {
	partition Partition
	path      string
}

type rowsWrittenMsg struct {
	index int
	rows  int64
}

type partitionFinishedMsg struct {
	result ExportResult
}

type jobDoneMsg struct {
	report *JobReport
	err    error
}

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Margin(0, 2)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFAA00")).
				Bold(true).
				Margin(0, 2)

	progressInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Margin(0, 2)
)

// maxMessages bounds the log section of the view
const maxMessages = 6

func newProgressModel(jobID, prefix string) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return progressModel{
		jobID:           jobID,
		prefix:          prefix,
		state:           StateIdle,
		overallProgress: progress.New(progress.WithDefaultGradient()),
		currentSpinner:  s,
		startTime:       time.Now(),
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.currentSpinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.WindowSizeMsg:
		return m.handleWindowSizeMsg(msg)
	case spinner.TickMsg:
		return m.handleSpinnerTickMsg(msg)
	case stateMsg:
		m.state = msg.state
		return m, nil
	case jobPlannedMsg:
		return m.handleJobPlannedMsg(msg)
	case partitionStartedMsg:
		return m.handlePartitionStartedMsg(msg)
	case rowsWrittenMsg:
		return m.handleRowsWrittenMsg(msg)
	case partitionFinishedMsg:
		return m.handlePartitionFinishedMsg(msg)
	case jobDoneMsg:
		return m.handleJobDoneMsg(msg)
	}
	return m, nil
}

func (m progressModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" || msg.String() == "q" {
		m.done = true
		m.interrupted = true
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) handleWindowSizeMsg(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.overallProgress.Width = msg.Width - 10
	return m, nil
}

func (m progressModel) handleSpinnerTickMsg(msg spinner.TickMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.currentSpinner, cmd = m.currentSpinner.Update(msg)
	return m, cmd
}

func (m progressModel) handleJobPlannedMsg(msg jobPlannedMsg) (tea.Model, tea.Cmd) {
	m.totalRows = msg.total
	m.partitions = make([]partitionStatus, len(msg.partitions))
	for i, p := range msg.partitions {
		m.partitions[i] = partitionStatus{partition: p}
	}
	m = m.addMessage(fmt.Sprintf("Found %d rows in %d partition(s)", msg.total, len(msg.partitions)))
	return m, nil
}

func (m progressModel) handlePartitionStartedMsg(msg partitionStartedMsg) (tea.Model, tea.Cmd) {
	if status := m.status(msg.partition.Index); status != nil {
		status.path = msg.path
		status.running = true
	}
	return m, nil
}

func (m progressModel) handleRowsWrittenMsg(msg rowsWrittenMsg) (tea.Model, tea.Cmd) {
	if status := m.status(msg.index); status != nil {
		status.rows = msg.rows
	}
	return m, nil
}

func (m progressModel) handlePartitionFinishedMsg(msg partitionFinishedMsg) (tea.Model, tea.Cmd) {
	result := msg.result
	if status := m.status(result.Partition.Index); status != nil {
		status.rows = result.Rows
		status.running = false
		status.finished = true
		status.err = result.Err
	}

	if result.Err != nil {
		m.failed++
		m = m.addMessage(fmt.Sprintf("❌ %s failed: %v", result.TaskID, result.Err))
	} else {
		m.completed++
		m = m.addMessage(fmt.Sprintf("✅ %s wrote %d rows", result.TaskID, result.Rows))
	}
	return m, nil
}

func (m progressModel) handleJobDoneMsg(msg jobDoneMsg) (tea.Model, tea.Cmd) {
	m.done = true
	if msg.report != nil {
		m.state = StateDone
	} else {
		m.state = StateFailed
	}
	return m, tea.Quit
}

// status returns the tracked status of a partition, or nil before planning
func (m *progressModel) status(index int) *partitionStatus {
	if index < 0 || index >= len(m.partitions) {
		return nil
	}
	return &m.partitions[index]
}

func (m progressModel) addMessage(message string) progressModel {
	m.messages = append(m.messages, message)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
	return m
}

// rowsWritten sums the latest row count of every partition
func (m progressModel) rowsWritten() int64 {
	var total int64
	for _, s := range m.partitions {
		total += s.rows
	}
	return total
}

// renderBanner renders the job title
func (m progressModel) renderBanner() []string {
	return []string{
		"",
		titleStyle.Render(fmt.Sprintf("   Query Exporter v%s", Version)),
		helpStyle.Render(fmt.Sprintf("   job %s → %s_*", m.jobID, m.prefix)),
		"",
	}
}

// renderMessages renders the message log section
func (m progressModel) renderMessages() []string {
	var sections []string
	sections = append(sections, helpStyle.Render("   Log:"))
	if len(m.messages) == 0 {
		sections = append(sections, "     (waiting for operations...)")
	} else {
		for _, msg := range m.messages {
			sections = append(sections, "     "+msg)
		}
	}
	return sections
}

// renderSeparator renders a horizontal separator
func (m progressModel) renderSeparator() []string {
	separatorWidth := 80
	if m.width > 0 && m.width < 200 {
		separatorWidth = m.width - 6
	}
	separator := "   " + strings.Repeat("─", separatorWidth)
	return []string{"", lipgloss.NewStyle().Foreground(lipgloss.Color("#444")).Render(separator), ""}
}

// renderRunning renders overall and per partition progress
func (m progressModel) renderRunning() []string {
	var sections []string
	if len(m.partitions) == 0 {
		return sections
	}

	sections = append(sections, tableHeaderStyle.Render("   Exporting Partitions"))
	sections = append(sections, "")

	finished := m.completed + m.failed
	overallInfo := fmt.Sprintf("   Overall: %d/%d partitions, %d/%d rows, %s elapsed",
		finished, len(m.partitions), m.rowsWritten(), m.totalRows, time.Since(m.startTime).Round(time.Second))
	sections = append(sections, progressInfoStyle.Render(overallInfo))
	sections = append(sections, "   "+m.overallProgress.ViewAs(float64(finished)/float64(len(m.partitions))))
	sections = append(sections, "")

	var running []partitionStatus
	for _, s := range m.partitions {
		if s.running {
			running = append(running, s)
		}
	}
	sort.Slice(running, func(i, j int) bool { return running[i].partition.Index < running[j].partition.Index })

	for _, s := range running {
		line := fmt.Sprintf("   %s %s: %d/%d rows", m.currentSpinner.View(), s.partition.TaskID(), s.rows, s.partition.Size())
		sections = append(sections, stageStyle.Render(line))
	}
	return sections
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}

	var sections []string
	sections = append(sections, m.renderBanner()...)
	sections = append(sections, m.renderMessages()...)
	sections = append(sections, m.renderSeparator()...)

	switch m.state { //nolint:exhaustive // terminal states render nothing extra
	case StateIdle, StateCountingRows, StatePlanning:
		sections = append(sections, stageStyle.Render(fmt.Sprintf("   %s %s...", m.currentSpinner.View(), m.state)))
	case StateRunning, StateReporting:
		sections = append(sections, m.renderRunning()...)
	}

	sections = append(sections, "")
	sections = append(sections, helpStyle.Render("   Press Ctrl+C or 'q' to quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
