package vault

import (
	"context"
	"fmt"

	"st-go/internal/config"
	"st-go/internal/st"
)

// NewVaultFromConfig creates a history vault based on the history config
// type. When cfg.Encrypted is set the vault is wrapped with encryptor.
func NewVaultFromConfig(cfg config.HistoryConfig, encryptor st.Encryptor, clock st.Clock) (st.HistoryVault, error) {
	var v st.HistoryVault
	switch cfg.Type {
	case "memory":
		v = NewMemoryVaultWithClock("history", clock)
	case "s3":
		s3v, err := NewS3Vault(context.Background(), "history", S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, clock)
		if err != nil {
			return nil, err
		}
		v = s3v
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem history vault requires fs_root to be set")
		}
		fsv, err := NewFileSystemVault("history", cfg.FSRoot, clock)
		if err != nil {
			return nil, err
		}
		v = fsv
	default:
		return nil, fmt.Errorf("unknown history vault type: %s", cfg.Type)
	}

	if cfg.Encrypted {
		if encryptor == nil {
			return nil, fmt.Errorf("encrypted history vault requires an encryptor")
		}
		v = NewEncryptingVault(v, encryptor)
	}
	return v, nil
}
