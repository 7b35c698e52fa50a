package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Default drain settings applied when the staging section leaves them unset.
const (
	DefaultDrainInterval = 30 * time.Second
	DefaultBatchLimit    = 16
)

// Config represents the main configuration for st.
type Config struct {
	DeviceID   string           `toml:"device_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info" (default), "warn" or "error"
	Database   DatabaseConfig   `toml:"database"`
	Staging    StagingConfig    `toml:"staging"`
	Physical   PhysicalConfig   `toml:"physical"`
	History    HistoryConfig    `toml:"history"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig holds paths to the age key pair used for encrypting
// history revisions.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// StagingConfig represents configuration for the staging area.
type StagingConfig struct {
	Type            string        `toml:"type"` // "sqlite" (default) or "memory"
	DrainInterval   time.Duration `toml:"drain_interval"`
	BatchLimit      int           `toml:"batch_limit"`
	PreserveHistory bool          `toml:"preserve_history"`
}

// Interval returns the drain interval, falling back to the default.
func (c StagingConfig) Interval() time.Duration {
	if c.DrainInterval <= 0 {
		return DefaultDrainInterval
	}
	return c.DrainInterval
}

// Batch returns the number of entries processed per drain tick.
func (c StagingConfig) Batch() int {
	if c.BatchLimit <= 0 {
		return DefaultBatchLimit
	}
	return c.BatchLimit
}

// PhysicalConfig describes where materialized objects live.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PhysicalConfig struct {
	Type          string   `toml:"type"` // "os" or "memory"
	Root          string   `toml:"root"`
	AuxDir        string   `toml:"aux_dir"`
	HistoryIgnore []string `toml:"history_ignore"`
}

// HistoryConfig represents configuration for the history vault that keeps
// revisions of scrubbed files.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type HistoryConfig struct {
	Type      string `toml:"type"` // "memory", "filesystem" or "s3"
	Encrypted bool   `toml:"encrypted"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// NewConfig creates a new Config with the provided values and defaults
// rooted at baseDir.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Staging: StagingConfig{
			Type:          "sqlite",
			DrainInterval: DefaultDrainInterval,
			BatchLimit:    DefaultBatchLimit,
		},
		Physical: PhysicalConfig{
			Type:   "os",
			Root:   filepath.Join(baseDir, "root"),
			AuxDir: filepath.Join(baseDir, "aux"),
		},
		History: HistoryConfig{Type: "filesystem", FSRoot: filepath.Join(baseDir, "history")},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "st.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "st.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
