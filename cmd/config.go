package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/airframesio/query-exporter/cmd/compressors"
	"github.com/airframesio/query-exporter/cmd/formatters"
)

// Static errors for configuration validation
var (
	ErrDatabaseURLRequired      = errors.New("db.url is not provided in input file")
	ErrDatabaseUserRequired     = errors.New("db.username is not provided in input file")
	ErrDatabasePasswordRequired = errors.New("db.password is not provided in input file")
	ErrHeaderSQLRequired        = errors.New("headerSql is not given in input file")
	ErrDataSQLRequired          = errors.New("dataSql is not given in input file")
	ErrOutputPrefixRequired     = errors.New("personCompanyExportFileName is not given in input file")
	ErrDriverInvalid            = errors.New("database driver must be one of: mysql, postgres, sqlite3")
	ErrRowColumnInvalid         = errors.New("row number column is invalid: must start with a letter or underscore, and contain only letters, numbers, and underscores")
	ErrWorkersMinimum           = errors.New("workers must be at least 1")
	ErrWorkersMaximum           = errors.New("workers must not exceed 1000")
	ErrChunkSizeMinimum         = errors.New("chunk size must be at least 100")
	ErrChunkSizeMaximum         = errors.New("chunk size must not exceed 10000000")
	ErrOutputFormatInvalid      = errors.New("output format must be one of: csv, jsonl, parquet")
	ErrCompressionInvalid       = errors.New("compression must be one of: zstd, lz4, gzip, none")
	ErrCompressionLevelInvalid  = errors.New("compression level must be between 1 and 22 (zstd), 1-9 (lz4/gzip)")
	ErrFailurePolicyInvalid     = errors.New("on_failure must be one of: leave, delete")
	ErrS3AccessKeyRequired      = errors.New("S3 access key is required when an S3 bucket is set")
	ErrS3SecretKeyRequired      = errors.New("S3 secret key is required when an S3 bucket is set")
	ErrS3RegionInvalid          = errors.New("S3 region contains invalid characters or is too long")
	ErrPathTemplateInvalid      = errors.New("path template must contain {file} or {ordinal} placeholder")
)

// Defaults for an export job
const (
	DefaultChunkSize       = 100000
	DefaultWorkers         = 4
	DefaultRowNumberColumn = "row_num"
	DefaultPathTemplate    = "{prefix}/{file}"
	defaultS3Region        = "us-east-1"
)

// Partial file policies
const (
	FailurePolicyLeave  = "leave"
	FailurePolicyDelete = "delete"
)

// Config is the resolved export job. It is built once at startup, validated,
// and then shared read-only by the exporter and every partition task.
type Config struct {
	Debug           bool
	LogFormat       string
	TUI             bool
	Workers         int
	ChunkSize       int
	HeaderSQL       string
	DataSQL         string
	RowNumberColumn string // Column the range predicate filters on
	Database        DatabaseConfig
	Output          OutputConfig
	S3              S3Config
}

type DatabaseConfig struct {
	Driver   string // mysql, postgres or sqlite3; inferred from URL when empty
	URL      string
	User     string
	Password string
	// PasswordSet records that db.password is present, even if empty
	PasswordSet bool
}

type OutputConfig struct {
	Dir              string
	Prefix           string
	Format           string
	Compression      string
	CompressionLevel int
	OnFailure        string // What to do with a partial file when its partition fails
}

type S3Config struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	PathTemplate string
}

// UploadEnabled reports whether finished files should be copied to S3
func (c *Config) UploadEnabled() bool {
	return c.S3.Bucket != ""
}

// validSQLIdentifier checks if a string is a plain SQL identifier
var validSQLIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var validRegion = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	if region == "" || len(region) > 50 {
		return false
	}
	return validRegion.MatchString(region)
}

// isValidPathTemplate validates that a key template yields a distinct key per partition
func isValidPathTemplate(template string) bool {
	return strings.Contains(template, "{file}") || strings.Contains(template, "{ordinal}")
}

// isValidOutputFormat validates the output format
func isValidOutputFormat(format string) bool {
	validFormats := map[string]bool{
		formatters.FormatCSV:     true,
		formatters.FormatJSONL:   true,
		formatters.FormatParquet: true,
	}
	return validFormats[format]
}

// isValidCompression validates the compression type
func isValidCompression(compression string) bool {
	validCompressions := map[string]bool{
		"zstd": true,
		"lz4":  true,
		"gzip": true,
		"none": true,
	}
	return validCompressions[compression]
}

// isValidCompressionLevel validates compression level based on compression type
func isValidCompressionLevel(compression string, level int) bool {
	switch compression {
	case "zstd":
		return level >= 1 && level <= 22
	case "lz4", "gzip":
		return level >= 1 && level <= 9
	case "none":
		return level == 0 // no compression, level should be 0
	default:
		return false
	}
}

// driverFromURL infers the database/sql driver name from a connection URL.
// JDBC style URLs ("jdbc:mysql://...") are accepted.
func driverFromURL(rawURL string) string {
	u, err := url.Parse(strings.TrimPrefix(rawURL, "jdbc:"))
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "mysql", "mariadb":
		return DriverMySQL
	case "postgres", "postgresql":
		return DriverPostgres
	case "sqlite", "sqlite3", "file":
		return DriverSQLite
	default:
		return ""
	}
}

// setDefaults fills in optional settings that were left empty
func (c *Config) setDefaults() {
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.RowNumberColumn == "" {
		c.RowNumberColumn = DefaultRowNumberColumn
	}
	if c.Database.Driver == "" {
		c.Database.Driver = driverFromURL(c.Database.URL)
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "."
	}
	if c.Output.Format == "" {
		c.Output.Format = formatters.FormatCSV
	}
	if c.Output.Compression == "" {
		c.Output.Compression = "none"
	}
	if c.Output.CompressionLevel == 0 && c.Output.Compression != "none" {
		if comp, err := compressors.GetCompressor(c.Output.Compression); err == nil {
			c.Output.CompressionLevel = comp.DefaultLevel()
		}
	}
	if c.Output.OnFailure == "" {
		c.Output.OnFailure = FailurePolicyLeave
	}
	if c.UploadEnabled() {
		if c.S3.Region == "" {
			c.S3.Region = defaultS3Region
		}
		if c.S3.PathTemplate == "" {
			c.S3.PathTemplate = DefaultPathTemplate
		}
	}
}

func (c *Config) Validate() error {
	// Required keys, in the order the settings file is documented
	if c.Database.URL == "" {
		return ErrDatabaseURLRequired
	}
	if c.Database.User == "" {
		return ErrDatabaseUserRequired
	}
	if c.Database.Password == "" && !c.Database.PasswordSet {
		return ErrDatabasePasswordRequired
	}
	if strings.TrimSpace(c.HeaderSQL) == "" {
		return ErrHeaderSQLRequired
	}
	if strings.TrimSpace(c.DataSQL) == "" {
		return ErrDataSQLRequired
	}
	if c.Output.Prefix == "" {
		return ErrOutputPrefixRequired
	}

	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: '%s'", ErrDriverInvalid, c.Database.Driver)
	}

	if !validSQLIdentifier.MatchString(c.RowNumberColumn) {
		return fmt.Errorf("%w: '%s'", ErrRowColumnInvalid, c.RowNumberColumn)
	}

	if c.Workers < 1 {
		return ErrWorkersMinimum
	}
	if c.Workers > 1000 {
		return fmt.Errorf("%w, got %d", ErrWorkersMaximum, c.Workers)
	}

	if c.ChunkSize < 100 {
		return fmt.Errorf("%w, got %d", ErrChunkSizeMinimum, c.ChunkSize)
	}
	if c.ChunkSize > 10000000 {
		return fmt.Errorf("%w, got %d", ErrChunkSizeMaximum, c.ChunkSize)
	}

	if !isValidOutputFormat(c.Output.Format) {
		return fmt.Errorf("%w: '%s'", ErrOutputFormatInvalid, c.Output.Format)
	}
	if !isValidCompression(c.Output.Compression) {
		return fmt.Errorf("%w: '%s'", ErrCompressionInvalid, c.Output.Compression)
	}
	if !isValidCompressionLevel(c.Output.Compression, c.Output.CompressionLevel) {
		return fmt.Errorf("%w for compression %s: got %d", ErrCompressionLevelInvalid, c.Output.Compression, c.Output.CompressionLevel)
	}

	switch c.Output.OnFailure {
	case FailurePolicyLeave, FailurePolicyDelete:
	default:
		return fmt.Errorf("%w: '%s'", ErrFailurePolicyInvalid, c.Output.OnFailure)
	}

	// S3 upload is optional
	if c.UploadEnabled() {
		if c.S3.AccessKey == "" {
			return ErrS3AccessKeyRequired
		}
		if c.S3.SecretKey == "" {
			return ErrS3SecretKeyRequired
		}
		if !isValidRegion(c.S3.Region) {
			return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
		}
		if !isValidPathTemplate(c.S3.PathTemplate) {
			return fmt.Errorf("%w: '%s'", ErrPathTemplateInvalid, c.S3.PathTemplate)
		}
	}

	return nil
}
