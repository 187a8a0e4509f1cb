package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("SVLD_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("SVLD_HOME", "/custom/svld")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		want := map[string]string{
			"config_path": "/custom/config.toml",
			"base_dir":    "/custom/svld",
			"log_dir":     "/custom/svld/log",
		}
		for k, v := range want {
			if defaults[k] != v {
				t.Errorf("%s = %q, want %q", k, defaults[k], v)
			}
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("SVLD_CONFIG_PATH", "")
		t.Setenv("SVLD_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		wantBase := filepath.Join(homeDir, ".local", "share", "svld")
		want := map[string]string{
			"config_path": filepath.Join(homeDir, ".config", "svld.toml"),
			"base_dir":    wantBase,
			"log_dir":     filepath.Join(wantBase, "log"),
		}
		for k, v := range want {
			if defaults[k] != v {
				t.Errorf("%s = %q, want %q", k, defaults[k], v)
			}
		}
	})
}
