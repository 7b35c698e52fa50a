package physical

import (
	"fmt"

	"github.com/spf13/afero"

	"st-go/internal/config"
	"st-go/internal/st"
)

// NewStorageFromConfig creates physical storage based on the physical config type.
func NewStorageFromConfig(cfg config.PhysicalConfig, vault st.HistoryVault, logger st.Logger) (*Storage, error) {
	var fs afero.Fs
	switch cfg.Type {
	case "os", "":
		fs = afero.NewOsFs()
	case "memory":
		fs = afero.NewMemMapFs()
	default:
		return nil, fmt.Errorf("unknown physical storage type: %s", cfg.Type)
	}
	return NewStorage(fs, Options{
		Root:          cfg.Root,
		AuxDir:        cfg.AuxDir,
		HistoryIgnore: cfg.HistoryIgnore,
		Vault:         vault,
		Logger:        logger,
	})
}
