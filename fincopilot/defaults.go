package fincopilot

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName      = "fincopilot"
	DefaultDatabaseType = "sqlite"
	DefaultDatabaseFile = "fincopilot.db"
	DefaultLogLevel     = "info"
)

var (
	// DefaultConfigPath is $HOME/.fincopilot, or ./.fincopilot when no home is resolvable.
	DefaultConfigPath  = defaultHomeDir()
	DefaultDatabaseDir = filepath.Join(DefaultConfigPath, "data")
	DefaultDatabaseDSN = filepath.Join(DefaultDatabaseDir, DefaultDatabaseFile)
)

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "." + DefaultAppName
	}
	return filepath.Join(home, "."+DefaultAppName)
}
