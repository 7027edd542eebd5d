package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/airframesio/query-exporter/cmd.Version=1.2.3"
	Version = "dev"

	ErrConfigRead = errors.New("failed to read config file")

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	logger *slog.Logger
)

const usageMessage = "Invalid number of args, correct usage is query-exporter /usr/local/loader.properties"

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
	mu     *sync.Mutex
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
		mu:     &sync.Mutex{},
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")

	// Partition tasks log concurrently
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, r.Level.String(), r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	// Attributes are not rendered in text-only mode
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// newLogger builds the slog logger for the debug flag and log format
func newLogger(isDebug bool, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "logfmt":
		// logfmt uses slog.TextHandler which outputs key=value pairs
		handler = slog.NewTextHandler(w, opts)
	default: // "text" or anything else
		handler = newTextOnlyHandler(w, opts)
	}

	return slog.New(handler)
}

// initLogger initializes the package logger
func initLogger(isDebug bool, format string, w io.Writer) {
	logger = newLogger(isDebug, format, w)
}

// syncBuffer collects log output while the TUI owns the terminal
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.WriteTo(w)
}

var rootCmd = &cobra.Command{
	Use:     "query-exporter [flags] <config-file>",
	Version: Version,
	Short:   "📦 Export a SQL query to partitioned CSV files in parallel",
	Long: titleStyle.Render("Query Exporter") + `

Runs a header query and a row-numbered data query against MySQL, PostgreSQL
or SQLite, splits the data query into fixed-size row ranges and writes each
range to its own file (<prefix>_<n>.csv) using a bounded pool of workers.

The settings file (.properties, .yaml, .json or .toml) must provide
headerSql, dataSql, db.url, db.username, db.password and
personCompanyExportFileName. Any key can be overridden with an EXPORT_
environment variable (EXPORT_DB_PASSWORD) or a flag.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			fmt.Fprintln(cmd.OutOrStdout(), usageMessage)
			return nil
		}
		return runExport(cmd.Context(), args[0], cmd.Flags(), cmd.OutOrStdout())
	},
}

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolP("debug", "d", false, "enable debug output")
	flags.String("log-format", "text", "log format (text, logfmt, json)")
	flags.Bool("tui", false, "show an interactive progress view")
	flags.String("db-driver", "", "database driver: mysql, postgres, sqlite3 (default: inferred from db.url)")
	flags.Int("workers", DefaultWorkers, "number of partitions exported concurrently")
	flags.Int("chunk-size", DefaultChunkSize, "rows per partition file")
	flags.String("row-column", DefaultRowNumberColumn, "row number column of the data query")
	flags.String("output-dir", ".", "directory for output files")
	flags.String("output-format", "csv", "output format: csv, jsonl, parquet")
	flags.String("compression", "none", "compression type: zstd, lz4, gzip, none")
	flags.Int("compression-level", 0, "compression level (zstd: 1-22, lz4/gzip: 1-9, 0 = codec default)")
	flags.String("on-failure", FailurePolicyLeave, "partial file policy for failed partitions: leave, delete")
	flags.String("s3-endpoint", "", "S3-compatible endpoint URL")
	flags.String("s3-bucket", "", "S3 bucket to upload finished files to (optional)")
	flags.String("s3-access-key", "", "S3 access key")
	flags.String("s3-secret-key", "", "S3 secret key")
	flags.String("s3-region", "", "S3 region (default us-east-1)")
	flags.String("path-template", "", "S3 key template with placeholders: {prefix}, {ordinal}, {file}, {YYYY}, {MM}, {DD}, {HH}")

	// Note: We don't use MarkFlagRequired; required keys come from the settings
	// file and are checked by Config.Validate once every source is loaded.
}

// flagKeys maps settings keys to the flags that override them
var flagKeys = map[string]string{
	"debug":             "debug",
	"log_format":        "log-format",
	"tui":               "tui",
	"db.driver":         "db-driver",
	"workers":           "workers",
	"chunk_size":        "chunk-size",
	"row_number_column": "row-column",
	"output.dir":        "output-dir",
	"output.format":     "output-format",
	"compression":       "compression",
	"compression_level": "compression-level",
	"on_failure":        "on-failure",
	"s3.endpoint":       "s3-endpoint",
	"s3.bucket":         "s3-bucket",
	"s3.access_key":     "s3-access-key",
	"s3.secret_key":     "s3-secret-key",
	"s3.region":         "s3-region",
	"s3.path_template":  "path-template",
}

// loadConfig reads the settings file, environment and flags into a Config
// with defaults applied. It does not validate.
func loadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("properties")
	}

	v.SetEnvPrefix("EXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				_ = v.BindPFlag(key, flag)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrConfigRead, path, err)
	}

	prefix := v.GetString("personCompanyExportFileName")
	if prefix == "" {
		prefix = v.GetString("output.prefix")
	}

	config := &Config{
		Debug:           v.GetBool("debug"),
		LogFormat:       v.GetString("log_format"),
		TUI:             v.GetBool("tui"),
		Workers:         v.GetInt("workers"),
		ChunkSize:       v.GetInt("chunk_size"),
		HeaderSQL:       v.GetString("headerSql"),
		DataSQL:         v.GetString("dataSql"),
		RowNumberColumn: v.GetString("row_number_column"),
		Database: DatabaseConfig{
			Driver:   v.GetString("db.driver"),
			URL:      v.GetString("db.url"),
			User:     v.GetString("db.username"),
			Password: v.GetString("db.password"),
			// Passwordless local databases write "db.password=" with no value
			PasswordSet: v.IsSet("db.password"),
		},
		Output: OutputConfig{
			Dir:              v.GetString("output.dir"),
			Prefix:           prefix,
			Format:           v.GetString("output.format"),
			Compression:      v.GetString("compression"),
			CompressionLevel: v.GetInt("compression_level"),
			OnFailure:        v.GetString("on_failure"),
		},
		S3: S3Config{
			Endpoint:     v.GetString("s3.endpoint"),
			Bucket:       v.GetString("s3.bucket"),
			AccessKey:    v.GetString("s3.access_key"),
			SecretKey:    v.GetString("s3.secret_key"),
			Region:       v.GetString("s3.region"),
			PathTemplate: v.GetString("s3.path_template"),
		},
	}
	config.setDefaults()

	return config, nil
}

func runExport(ctx context.Context, path string, flags *pflag.FlagSet, out io.Writer) (err error) {
	// Add panic recovery to catch any unexpected crashes
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	config, err := loadConfig(path, flags)
	if err != nil {
		return err
	}

	// The TUI owns the terminal; logs are replayed once it exits
	var logBuffer *syncBuffer
	logOut := out
	if config.TUI {
		logBuffer = &syncBuffer{}
		logOut = logBuffer
	}
	initLogger(config.Debug, config.LogFormat, logOut)
	if logBuffer != nil {
		// Replays whatever the TUI path has not replayed yet
		defer func() { _, _ = logBuffer.WriteTo(out) }()
	}

	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 Query Exporter v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Debug(fmt.Sprintf("📄 Using config file: %s", path))

	logger.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	if err := checkRunningExport(); err != nil {
		return err
	}

	if err := WritePIDFile(); err != nil {
		logger.Warn(fmt.Sprintf("⚠️  Could not write PID file: %v", err))
	} else {
		defer func() { _ = RemovePIDFile() }()
	}

	logger.Debug(fmt.Sprintf("Connecting to %s database...", config.Database.Driver))
	db, err := openDatabase(ctx, config.Database, config.Workers, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("✅ Connected to database")

	exporter := NewExporter(config, NewSQLSource(db, logger), logger)
	logger.Debug(fmt.Sprintf("Job ID: %s", exporter.JobID()))

	if config.UploadEnabled() {
		uploader, err := NewS3Uploader(config.S3)
		if err != nil {
			return err
		}
		exporter.WithUploader(uploader)
	}

	taskInfo := &TaskInfo{
		PID:       os.Getpid(),
		JobID:     exporter.JobID(),
		StartTime: time.Now(),
		Prefix:    config.Output.Prefix,
		State:     StateIdle.String(),
	}
	taskReporter := newTaskInfoReporter(taskInfo, func(err error) {
		logger.Debug(fmt.Sprintf("Task info update failed: %v", err))
	})
	defer func() { _ = RemoveTaskFile() }()

	if !config.TUI {
		exporter.WithReporter(newMultiReporter(NewLogReporter(logger), taskReporter))
		_, err = exporter.Run(ctx)
		if err == nil {
			logger.Info("")
			logger.Info("✅ Export completed successfully!")
		}
		return err
	}

	return runWithTUI(ctx, exporter, taskReporter, config, logBuffer, out)
}

// runWithTUI runs the export while a bubbletea program renders progress.
// Quitting the view exits the process without waiting for running partitions.
func runWithTUI(ctx context.Context, exporter *Exporter, taskReporter ProgressReporter, config *Config, logBuffer *syncBuffer, out io.Writer) error {
	program := tea.NewProgram(newProgressModel(exporter.JobID(), config.Output.Prefix), tea.WithOutput(out))
	exporter.WithReporter(newMultiReporter(NewLogReporter(logger), taskReporter, newTUIReporter(program)))

	uiDone := make(chan struct{})
	go func() {
		defer close(uiDone)
		final, err := program.Run()
		if err != nil {
			logger.Error(fmt.Sprintf("❌ Progress view failed: %v", err))
			return
		}
		if m, ok := final.(progressModel); ok && m.interrupted {
			_, _ = logBuffer.WriteTo(out)
			fmt.Fprintln(out, "\n⚠️  Export interrupted by user")
			_ = RemoveTaskFile()
			_ = RemovePIDFile()
			os.Exit(130)
		}
	}()

	report, err := exporter.Run(ctx)
	program.Send(jobDoneMsg{report: report, err: err})
	<-uiDone

	_, _ = logBuffer.WriteTo(out)
	if err == nil {
		fmt.Fprintln(out, "\n✅ Export completed successfully!")
	}
	return err
}
