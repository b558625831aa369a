package credstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseType selects the SQL backend.
type DatabaseType string

const (
	// DatabaseTypeSQLite is the single-node default.
	DatabaseTypeSQLite DatabaseType = "sqlite"

	// DatabaseTypePostgres is the shared backend used when the web app
	// and several auth workers write to the same database.
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file location.
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig contains PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config selects and configures the credential database.
//
// URI is a shorthand accepted for compatibility with existing
// deployments: a value starting with "postgres://" or "postgresql://"
// is passed to the postgres driver verbatim, anything else is treated
// as an SQLite file path. When URI is empty the structured fields
// apply.
type Config struct {
	Type     DatabaseType   `mapstructure:"type" yaml:"type"`
	URI      string         `mapstructure:"uri" yaml:"uri,omitempty"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.URI != "" {
		return
	}
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}
	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.SQLite.Path = filepath.Join(configDir, "authd", "credentials.db")
	}
	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
	}
}

// Validate checks the configuration before a connection is attempted.
func (c *Config) Validate() error {
	if c.URI != "" {
		return nil
	}
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("credstore: sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("credstore: postgres host is required")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("credstore: postgres database is required")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("credstore: postgres user is required")
		}
	default:
		return fmt.Errorf("credstore: unsupported database type: %s", c.Type)
	}
	return nil
}

// GORMStore implements the credential store on GORM, serving both
// SQLite and PostgreSQL through the same code.
type GORMStore struct {
	db *gorm.DB
}

// New opens the configured database and migrates the schema.
func New(config *Config) (*GORMStore, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(config.URI, "postgres://"), strings.HasPrefix(config.URI, "postgresql://"):
		dialector = postgres.Open(config.URI)

	case config.URI != "":
		dialector = sqlite.Open(sqliteDSN(config.URI))

	case config.Type == DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())

	default:
		if err := os.MkdirAll(filepath.Dir(config.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("credstore: create database directory: %w", err)
		}
		dialector = sqlite.Open(sqliteDSN(config.SQLite.Path))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("credstore: connect: %w", err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("credstore: migrate: %w", err)
	}

	return &GORMStore{db: db}, nil
}

// sqliteDSN appends pragmas for concurrent access: WAL journaling and a
// busy timeout so a web-app write does not fail a daemon read.
func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// DB exposes the underlying connection for advanced queries and tests.
func (s *GORMStore) DB() *gorm.DB {
	return s.db
}

// Ping checks database connectivity. Used by the readiness probe.
func (s *GORMStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("credstore: ping: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying database connection.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// convertNotFoundError maps gorm.ErrRecordNotFound onto the domain
// error.
func convertNotFoundError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}

// isUniqueConstraintError matches SQLite and PostgreSQL duplicate-key
// failures.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
