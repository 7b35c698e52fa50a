package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
	"github.com/spf13/afero"

	"st-go/internal/config"
	"st-go/internal/st"
)

// errNoKey is returned when a key file holds no usable key.
var errNoKey = errors.New("no key in file")

// AgeEncryptor seals history revisions for the vault with an X25519 key
// pair. Scrubbing only needs the public half, which is kept in plaintext.
// The private half is itself sealed with the user's passphrase and is
// only opened to restore a revision.
type AgeEncryptor struct {
	fs      afero.Fs
	pubPath string
	keyPath string

	mu        sync.Mutex
	recipient age.Recipient // cached public key
}

var _ st.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor returns an AgeEncryptor with its key files on disk.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return NewAgeEncryptorOnFs(afero.NewOsFs(), cfg)
}

// NewAgeEncryptorOnFs returns an AgeEncryptor with its key files on fs.
func NewAgeEncryptorOnFs(fs afero.Fs, cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{fs: fs, pubPath: cfg.PublicKeyPath, keyPath: cfg.PrivateKeyPath}
}

// Setup creates the revision key pair. The private key is written sealed
// with passphrase.
func (e *AgeEncryptor) Setup(passphrase string) error {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating revision key: %w", err)
	}
	lock, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("deriving passphrase key: %w", err)
	}

	var sealedKey bytes.Buffer
	if err := seal(&sealedKey, lock, strings.NewReader(id.String()+"\n")); err != nil {
		return fmt.Errorf("sealing revision key: %w", err)
	}
	if err := e.writeKey(e.pubPath, []byte(id.Recipient().String()+"\n"), 0644); err != nil {
		return err
	}
	if err := e.writeKey(e.keyPath, sealedKey.Bytes(), 0600); err != nil {
		return err
	}

	e.mu.Lock()
	e.recipient = id.Recipient()
	e.mu.Unlock()
	return nil
}

func (e *AgeEncryptor) writeKey(name string, data []byte, perm os.FileMode) error {
	if err := e.fs.MkdirAll(filepath.Dir(name), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := afero.WriteFile(e.fs, name, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Encrypt seals one revision read from r into w.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	rcpt, err := e.publicKey()
	if err != nil {
		return err
	}
	if err := seal(w, rcpt, r); err != nil {
		return fmt.Errorf("sealing revision: %w", err)
	}
	return nil
}

// Unlock opens the private key with passphrase. The returned context can
// decrypt any revision sealed with the matching public key.
func (e *AgeEncryptor) Unlock(passphrase string) (st.DecryptionContext, error) {
	sealedKey, err := afero.ReadFile(e.fs, e.keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading revision key: %w", err)
	}
	lock, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}
	plain, err := age.Decrypt(bytes.NewReader(sealedKey), lock)
	if err != nil {
		return nil, fmt.Errorf("opening revision key: %w", err)
	}
	ids, err := age.ParseIdentities(plain)
	if err != nil {
		return nil, fmt.Errorf("parsing revision key: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("revision key: %w", errNoKey)
	}
	return &AgeDecryptionContext{identity: ids[0]}, nil
}

// IsConfigured reports whether both halves of the key pair are on disk.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, name := range []string{e.pubPath, e.keyPath} {
		if ok, err := afero.Exists(e.fs, name); err != nil || !ok {
			return false
		}
	}
	return true
}

func (e *AgeEncryptor) publicKey() (age.Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}

	data, err := afero.ReadFile(e.fs, e.pubPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	rcpts, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(rcpts) == 0 {
		return nil, fmt.Errorf("public key: %w", errNoKey)
	}
	e.recipient = rcpts[0]
	return e.recipient, nil
}

// AgeDecryptionContext restores revisions with an unlocked private key.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ st.DecryptionContext = (*AgeDecryptionContext)(nil)

// Decrypt writes the plaintext of the revision read from r to w.
func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	plain, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("opening revision: %w", err)
	}
	if _, err := io.Copy(w, plain); err != nil {
		return fmt.Errorf("reading revision: %w", err)
	}
	return nil
}

// seal streams r through an age writer for rcpt into w.
func seal(w io.Writer, rcpt age.Recipient, r io.Reader) error {
	aw, err := age.Encrypt(w, rcpt)
	if err != nil {
		return err
	}
	if _, err := io.Copy(aw, r); err != nil {
		return err
	}
	return aw.Close()
}
