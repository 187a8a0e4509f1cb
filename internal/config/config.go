package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for svld.
type Config struct {
	HostID   string `toml:"host_id"`
	BaseDir  string `toml:"base_dir"`
	LogDir   string `toml:"log_dir"`
	LogLevel string `toml:"log_level,omitempty"` // "debug", "info" (default), "warn" or "error"

	// SourcePath is the game save directory that save and restore act on
	// when no path is given on the command line.
	SourcePath string `toml:"source_path"`

	// LockTimeoutSeconds is how long to wait for another svld process to
	// release the backup root. 0 fails immediately.
	LockTimeoutSeconds int `toml:"lock_timeout_seconds"`

	Vault      VaultConfig      `toml:"vault"`
	Database   DatabaseConfig   `toml:"database"`
	Copy       CopyConfig       `toml:"copy"`
	Validation ValidationConfig `toml:"validation"`
	Mirror     MirrorConfig     `toml:"mirror"`
}

// VaultConfig represents configuration for the snapshot store.
type VaultConfig struct {
	Type string `toml:"type"` // "filesystem"
	Root string `toml:"root"` // backup root holding backup_<digest> directories
}

// DatabaseConfig represents configuration for the snapshot catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CopyConfig tunes the copy engine.
type CopyConfig struct {
	Workers    int      `toml:"workers"`              // 0 uses one worker per CPU
	Strategies []string `toml:"strategies,omitempty"` // tried in order; empty uses the platform default
}

// ValidationConfig lists what a save directory must contain.
type ValidationConfig struct {
	RequiredEntries []string `toml:"required_entries"`
}

// MirrorConfig represents configuration for the off-site snapshot mirror.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MirrorConfig struct {
	Type string `toml:"type"` // "none" (default) or "s3"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket        string `toml:"s3_bucket,omitempty"`
	S3Prefix        string `toml:"s3_prefix,omitempty"`
	S3Region        string `toml:"s3_region,omitempty"`
	S3Endpoint      string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
}

// DefaultRequiredEntries are the top-level entries of a game save directory.
var DefaultRequiredEntries = []string{"persistent", "stats", "world"}

// NewConfig creates a new Config with the provided values and default paths under baseDir.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:             hostID,
		BaseDir:            baseDir,
		LogDir:             filepath.Join(baseDir, "log"),
		LogLevel:           "info",
		LockTimeoutSeconds: 30,
		Vault: VaultConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "backups"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Validation: ValidationConfig{
			RequiredEntries: append([]string(nil), DefaultRequiredEntries...),
		},
		Mirror: MirrorConfig{Type: "none"},
	}
}

// LockTimeout returns LockTimeoutSeconds as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// SourcePathProvider serves the configured save directory.
type SourcePathProvider struct {
	cfg *Config
}

// NewSourcePathProvider returns a path provider backed by cfg.
func NewSourcePathProvider(cfg *Config) *SourcePathProvider {
	return &SourcePathProvider{cfg: cfg}
}

// SourcePath returns the configured save directory, or an error if none is set.
func (p *SourcePathProvider) SourcePath() (string, error) {
	if p.cfg.SourcePath == "" {
		return "", fmt.Errorf("source_path is not set in the config")
	}
	return p.cfg.SourcePath, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
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

// writeToFile writes cfg to path via a temp file and rename.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".svld-config-*")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	tmpPath := f.Name()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
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
