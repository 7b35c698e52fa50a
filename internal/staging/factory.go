package staging

import (
	"fmt"

	"st-go/internal/config"
)

// NewStagingAreaFromConfig creates an Area backed by the store named in cfg.
func NewStagingAreaFromConfig(cfg config.StagingConfig, deps Deps) (*Area, error) {
	switch cfg.Type {
	case "sqlite", "":
		if deps.TxManager == nil {
			return nil, fmt.Errorf("sqlite staging area requires a transaction manager")
		}
		return NewSQLiteStagingArea(deps), nil
	case "memory":
		return NewMemoryStagingArea(deps), nil
	default:
		return nil, fmt.Errorf("unknown staging area type: %s", cfg.Type)
	}
}
