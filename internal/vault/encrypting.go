package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"st-go/internal/st"
)

// ErrLocked is returned when reading from an encrypting vault that has not
// been unlocked.
var ErrLocked = errors.New("history vault is locked")

// EncryptingVault encrypts revisions before handing them to the wrapped
// vault. Reading requires Unlock.
type EncryptingVault struct {
	inner     st.HistoryVault
	encryptor st.Encryptor

	mu   sync.Mutex
	dctx st.DecryptionContext
}

var _ st.HistoryVault = (*EncryptingVault)(nil)

// NewEncryptingVault wraps inner.
func NewEncryptingVault(inner st.HistoryVault, encryptor st.Encryptor) *EncryptingVault {
	return &EncryptingVault{inner: inner, encryptor: encryptor}
}

// Unlock prepares the vault for reading.
func (v *EncryptingVault) Unlock(passphrase string) error {
	dctx, err := v.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking history vault: %w", err)
	}
	v.mu.Lock()
	v.dctx = dctx
	v.mu.Unlock()
	return nil
}

// PutRevision encrypts r and stores the ciphertext. The stored size is
// that of the ciphertext.
func (v *EncryptingVault) PutRevision(path string, r io.Reader, size int64) (string, error) {
	counted := &countingReader{r: r}
	var sealed bytes.Buffer
	if err := v.encryptor.Encrypt(counted, &sealed); err != nil {
		return "", fmt.Errorf("encrypting revision of %q: %w", path, err)
	}
	if counted.n != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counted.n)
	}
	return v.inner.PutRevision(path, &sealed, int64(sealed.Len()))
}

func (v *EncryptingVault) ListRevisions(path string) ([]*st.Revision, error) {
	return v.inner.ListRevisions(path)
}

// GetRevision decrypts a revision into w.
func (v *EncryptingVault) GetRevision(path string, id string, w io.Writer) error {
	v.mu.Lock()
	dctx := v.dctx
	v.mu.Unlock()
	if dctx == nil {
		return ErrLocked
	}

	var sealed bytes.Buffer
	if err := v.inner.GetRevision(path, id, &sealed); err != nil {
		return err
	}
	if err := dctx.Decrypt(&sealed, w); err != nil {
		return fmt.Errorf("decrypting revision %s: %w", id, err)
	}
	return nil
}

func (v *EncryptingVault) ValidateSetup() error {
	if !v.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys are not configured (run 'st keys init')")
	}
	return v.inner.ValidateSetup()
}
