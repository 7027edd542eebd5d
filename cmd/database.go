package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql drivers
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var (
	ErrConnection        = errors.New("failed to connect to database")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrInvalidURL        = errors.New("invalid database URL")
)

const connectTimeout = 30 * time.Second

// buildDSN turns the configured URL and credentials into a driver specific
// data source name. JDBC prefixes are stripped.
func buildDSN(cfg DatabaseConfig) (string, error) {
	raw := strings.TrimPrefix(cfg.URL, "jdbc:")
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	switch cfg.Driver {
	case DriverMySQL:
		return mysqlDSN(u, cfg)
	case DriverPostgres:
		return postgresDSN(u, cfg)
	case DriverSQLite:
		return sqliteDSN(u), nil
	default:
		return "", fmt.Errorf("%w: '%s'", ErrUnsupportedDriver, cfg.Driver)
	}
}

func mysqlDSN(u *url.URL, cfg DatabaseConfig) (string, error) {
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %s", ErrInvalidURL, cfg.URL)
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = u.Host
	if u.Port() == "" {
		mc.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	mc.DBName = strings.TrimPrefix(u.Path, "/")
	mc.Timeout = connectTimeout
	// JDBC URL parameters (useSSL, serverTimezone, ...) are not server variables
	// and are not forwarded.
	return mc.FormatDSN(), nil
}

func postgresDSN(u *url.URL, cfg DatabaseConfig) (string, error) {
	u.Scheme = "postgres"
	u.User = url.UserPassword(cfg.User, cfg.Password)

	query := u.Query()
	if query.Get("sslmode") == "" {
		query.Set("sslmode", "disable")
	}
	u.RawQuery = query.Encode()

	connStr, err := pq.ParseURL(u.String())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	return connStr + fmt.Sprintf(" connect_timeout=%d", int(connectTimeout.Seconds())), nil
}

func sqliteDSN(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Host + u.Path
}

// openDatabase opens a pool sized for the worker count and verifies it with a ping
func openDatabase(ctx context.Context, cfg DatabaseConfig, workers int, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug(fmt.Sprintf("Opening %s connection pool", cfg.Driver))
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	// One connection per partition task, plus one for the header and count queries
	db.SetMaxOpenConns(workers + 1)
	db.SetMaxIdleConns(workers + 1)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	return db, nil
}
