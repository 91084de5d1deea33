package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteConfig holds configuration for embedded SQLite connections.
type SQLiteConfig struct {
	DatabasePath  string // Path to .db file, or ":memory:"
	BusyTimeoutMs int
	MaxOpenConns  int
}

// ConnectToDB opens the database at path with default pragmas.
func ConnectToDB(path string, logger zerolog.Logger) (*sql.DB, error) {
	return ConnectToDBWithConfig(&SQLiteConfig{DatabasePath: path}, logger)
}

func ConnectToDBWithConfig(config *SQLiteConfig, logger zerolog.Logger) (*sql.DB, error) {
	inMemory := config.DatabasePath == ":memory:"

	if !inMemory {
		dir := filepath.Dir(config.DatabasePath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
		if _, err := os.Stat(config.DatabasePath); os.IsNotExist(err) {
			logger.Info().Str("path", config.DatabasePath).Msg("Database not found, creating a new one")
		}
	}

	dsn := buildDSN(config)
	logger.Debug().Str("dsn", dsn).Msg("Connecting to embedded sqlite")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if inMemory {
		// each connection to :memory: is a separate database
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}

	if err := verifyConnection(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func buildDSN(config *SQLiteConfig) string {
	busy := config.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy),
		"_pragma=foreign_keys(1)",
	}
	if config.DatabasePath != ":memory:" {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return fmt.Sprintf("file:%s?%s", config.DatabasePath, strings.Join(pragmas, "&"))
}

// verifyConnection runs a trivial query so a bad path fails at startup, not on first turn.
func verifyConnection(db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(context.Background(), "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}
