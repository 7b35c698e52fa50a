package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Every data path is derived from base_dir.
// Environment variables:
//   - ST_CONFIG_PATH: config file location (default: ~/.config/st.toml)
//   - ST_HOME: base directory for st data (default: ~/.local/share/st)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"db_dir":      filepath.Join(baseDir, "db"),
		"root_dir":    filepath.Join(baseDir, "root"),
		"aux_dir":     filepath.Join(baseDir, "aux"),
		"history_dir": filepath.Join(baseDir, "history"),
		"keys_dir":    filepath.Join(baseDir, "keys"),
	}, nil
}

// getConfigPath returns the config file path, checking ST_CONFIG_PATH env var first,
// then falling back to the default ~/.config/st.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("ST_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "st.toml"), nil
}

// getBaseDir returns the base directory for st data, checking ST_HOME env var first,
// then falling back to the XDG default ~/.local/share/st.
func getBaseDir() (string, error) {
	if path := os.Getenv("ST_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "st"), nil
}
