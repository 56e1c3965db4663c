package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"chanrelay/work/logger"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps the sql.DB holding the directory snapshot
type DB struct {
	*sql.DB
	path string
}

// Open creates a new database connection in WAL mode and applies pending migrations
func Open(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	wrapper := &DB{
		DB:   db,
		path: dbPath,
	}

	if err := wrapper.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Debug("{database/database - Open} SQLite snapshot opened with WAL mode: %s", dbPath)

	return wrapper, nil
}

// migrate runs all migration files not yet recorded in schema_migrations
func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// Extract version from filename (e.g., "001_channels.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("invalid migration name %s: %w", entry.Name(), err)
		}

		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if exists {
			continue
		}

		// embed.FS paths always use forward slashes
		content, err := migrations.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", entry.Name(), err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", entry.Name(), err)
		}

		logger.Debug("{database/database - migrate} Applied migration: %s", entry.Name())
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	logger.Debug("{database/database - Close} Closing database connection: %s", db.path)
	return db.DB.Close()
}

// Stats describes the snapshot currently on disk
type Stats struct {
	Generation int64     `json:"generation"`
	Records    int       `json:"records"`
	BuiltAt    time.Time `json:"builtAt"`
	SizeBytes  int64     `json:"sizeBytes"`
}

// GetStats returns snapshot statistics. Generation is 0 before the first write.
func (db *DB) GetStats() (Stats, error) {
	var stats Stats

	err := db.QueryRow("SELECT COUNT(*) FROM channels").Scan(&stats.Records)
	if err != nil {
		return stats, fmt.Errorf("failed to count channels: %w", err)
	}

	// built_at is stored as unix milliseconds
	var builtAt int64
	err = db.QueryRow("SELECT generation, built_at FROM snapshots WHERE id = 1").Scan(&stats.Generation, &builtAt)
	switch {
	case err == nil:
		stats.BuiltAt = time.UnixMilli(builtAt)
	case !errors.Is(err, sql.ErrNoRows):
		return stats, fmt.Errorf("failed to read snapshot info: %w", err)
	}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return stats, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return stats, fmt.Errorf("failed to get page size: %w", err)
	}
	stats.SizeBytes = pageCount * pageSize

	return stats, nil
}
