package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SVLD_CONFIG_PATH: config file location (default: ~/.config/svld.toml)
//   - SVLD_HOME: base directory for svld data (default: ~/.local/share/svld)
func GetDefaults() (map[string]string, error) {
	configPath, err := envOrHome("SVLD_CONFIG_PATH", ".config", "svld.toml")
	if err != nil {
		return nil, err
	}

	baseDir, err := envOrHome("SVLD_HOME", ".local", "share", "svld")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// envOrHome returns the value of env if set, otherwise the path formed by
// joining the user's home directory with elem.
func envOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
