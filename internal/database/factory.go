package database

import (
	"fmt"
	"os"
	"path/filepath"

	"st-go/internal/config"
	"st-go/internal/st"
)

// NewDatabaseFromConfig creates the metadata database based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, deviceID string, clock st.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, deviceID+".db")
		return NewSQLiteDatabase(dbPath, clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
