package testutil

import (
	"st-go/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing. Revision IDs are
// stamped with a fixed clock.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVaultWithClock("test-vault", FixedClock())
}
