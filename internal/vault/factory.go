package vault

import (
	"fmt"

	"svld/internal/config"
	"svld/internal/svld"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
func NewVaultFromConfig(cfg config.VaultConfig) (svld.Vault, error) {
	switch cfg.Type {
	case "filesystem", "":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem vault requires root to be set")
		}
		return NewFileSystemVault("local", cfg.Root)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
