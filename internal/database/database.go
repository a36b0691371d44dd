package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	// DriverSQLite opens an embedded SQLite file.
	DriverSQLite = "sqlite"
	// DriverPostgres opens a PostgreSQL server.
	DriverPostgres = "postgres"

	sqliteForeignKeysPragma = "_pragma=foreign_keys(1)"
	postgresMaxOpenConns    = 20
	postgresMaxIdleConns    = 5
)

// Options selects the store backing the convoy tables.
type Options struct {
	Driver string
	Path   string
	DSN    string
	Logger *zap.Logger
}

// Open establishes the configured connection and performs schema migrations.
func Open(options Options) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case DriverSQLite, "":
		return OpenSQLite(options.Path, options.Logger)
	case DriverPostgres:
		return OpenPostgres(options.DSN, options.Logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}

// OpenSQLite establishes a SQLite connection with foreign keys enforced and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), gormConfig(logger))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := prepare(db, logger); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	loggerOrNop(logger).Info("database initialized", zap.String("driver", DriverSQLite), zap.String("path", path))
	return db, nil
}

// OpenPostgres establishes a PostgreSQL connection and performs schema migrations.
func OpenPostgres(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig(logger))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(postgresMaxOpenConns)
	sqlDB.SetMaxIdleConns(postgresMaxIdleConns)

	if err := prepare(db, logger); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	loggerOrNop(logger).Info("database initialized", zap.String("driver", DriverPostgres))
	return db, nil
}

func prepare(db *gorm.DB, logger *zap.Logger) error {
	if err := applyMigrations(db, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func gormConfig(logger *zap.Logger) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(loggerOrNop(logger)),
	}
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=foreign_keys") {
		return path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + sqliteForeignKeysPragma
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
