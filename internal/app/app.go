package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"st-go/internal/config"
	"st-go/internal/core"
	"st-go/internal/database"
	"st-go/internal/encryption"
	"st-go/internal/expulsion"
	"st-go/internal/physical"
	"st-go/internal/st"
	"st-go/internal/staging"
	"st-go/internal/stores"
	"st-go/internal/txn"
	"st-go/internal/vault"
)

// STApp is the application layer between the CLI and STService.
// It constructs all dependencies from config, records mutating commands in
// the operation log, and manages the DB lifecycle on Close.
type STApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	vault     st.HistoryVault
	staging   *staging.Area
	encryptor st.Encryptor
	service   *st.STService
	logger    st.Logger
	op        *Operation
	logFile   *os.File
}

// NewSTApp creates a fully wired STApp from the given config.
// operation identifies the CLI command being run (e.g. "Exclude", "Drain").
// The caller must call Close when done.
func NewSTApp(cfg *config.Config, operation string) (*STApp, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, cfg.LogLevel, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a, err := newSTApp(cfg, operation, &slogAdapter{l: logger})
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newSTApp(cfg *config.Config, operation string, logger st.Logger) (*STApp, error) {
	clock := st.RealClock{}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	v, err := vault.NewVaultFromConfig(cfg.History, enc, clock)
	if err != nil {
		return nil, fmt.Errorf("creating history vault: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.DeviceID, clock)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	// An in-memory database starts empty every run.
	if cfg.Database.Type == "memory" {
		err = db.Migrate()
	} else {
		err = db.CheckMigrations()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	ps, err := physical.NewStorageFromConfig(cfg.Physical, v, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating physical storage: %w", err)
	}

	tm := db.TxManager()
	registry := stores.NewRegistry(tm, clock, logger)
	if err := tm.Run(func(t *txn.Trans) error {
		return registry.CreateWithIndex(st.RootSIndex, "root", t)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating root store: %w", err)
	}

	sa, err := staging.NewStagingAreaFromConfig(cfg.Staging, staging.Deps{
		TxManager: tm,
		Directory: db.Directory(),
		Physical:  ps,
		Versions:  db.Versions(),
		Stores:    registry,
		Logger:    logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	coordinator := expulsion.NewCoordinator(expulsion.Deps{
		Directory:       db.Directory(),
		Exclusions:      db.Exclusions(),
		Staging:         sa,
		Physical:        ps,
		Versions:        db.Versions(),
		Queue:           db.FetchQueue(),
		Stores:          registry,
		Logger:          logger,
		PreserveHistory: cfg.Staging.PreserveHistory,
	})
	coordinator.AddListener(registry)

	svc := st.NewSTService(st.ServiceDeps{
		TxManager:  tm,
		Directory:  db.Directory(),
		Expulsion:  coordinator,
		Staging:    sa,
		Physical:   ps,
		Versions:   db.Versions(),
		Stores:     registry,
		Vault:      v,
		Operations: db.Operations(),
		Logger:     logger,
		IDs:        st.UUIDGenerator{},
	})

	return &STApp{
		cfg:       cfg,
		db:        db,
		vault:     v,
		staging:   sa,
		encryptor: enc,
		service:   svc,
		logger:    logger,
		op:        NewOperation(operation, ""),
	}, nil
}

// persistOperation saves the operation to the database, giving it an
// auto-increment ID. This should only be called for mutating commands.
func (a *STApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	id, err := a.db.Operations().Start(a.op.Operation, parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = id
	return nil
}

// track records a mutating command and marks it failed if fn fails.
func (a *STApp) track(parameters string, fn func() error) error {
	if err := a.persistOperation(parameters); err != nil {
		return err
	}
	if err := fn(); err != nil {
		a.op.Status = "error"
		return err
	}
	return nil
}

// CreateFolder creates a folder at path.
func (a *STApp) CreateFolder(path string) error {
	return a.track(path, func() error {
		_, err := a.service.CreateFolder(path)
		return err
	})
}

// CreateAnchor mounts a new store named storeName at path.
func (a *STApp) CreateAnchor(path, storeName string) (st.SIndex, error) {
	var sidx st.SIndex
	err := a.track(path+" "+storeName, func() error {
		var err error
		sidx, err = a.service.CreateAnchor(path, storeName)
		return err
	})
	return sidx, err
}

// ImportFile copies the local file at src into the tree at path.
func (a *STApp) ImportFile(src, path string) error {
	return a.track(src+" "+path, func() error {
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("opening %s: %w", src, err)
		}
		defer f.Close()
		_, err = a.service.ImportFile(path, f)
		return err
	})
}

// Move renames from to to.
func (a *STApp) Move(from, to string) error {
	return a.track(from+" "+to, func() error {
		return a.service.Move(from, to)
	})
}

// Delete moves path into the trash.
func (a *STApp) Delete(path string) error {
	return a.track(path, func() error {
		return a.service.Delete(path)
	})
}

// Exclude expels path from local storage.
func (a *STApp) Exclude(path string) error {
	return a.track(path, func() error {
		return a.service.Exclude(path)
	})
}

// Include admits path into local storage again.
func (a *STApp) Include(path string) error {
	return a.track(path, func() error {
		return a.service.Include(path)
	})
}

// ListExcluded returns the paths excluded by the user.
func (a *STApp) ListExcluded() ([]string, error) {
	return a.service.ListExcluded()
}

// Status returns the state of path and everything below it.
func (a *STApp) Status(path string) ([]*st.ObjectStatus, error) {
	return a.service.Status(path)
}

// Drain processes staged cleanup. A positive limit bounds the number of
// entries processed.
func (a *STApp) Drain(limit int) (int, error) {
	var n int
	err := a.track(fmt.Sprintf("limit=%d", limit), func() error {
		var err error
		n, err = a.service.Drain(limit)
		return err
	})
	return n, err
}

// StagedEntries lists subtrees waiting for cleanup.
func (a *STApp) StagedEntries() ([]*st.StagedEntry, error) {
	return a.service.StagedEntries()
}

// TearDownStores deletes every store pending teardown.
func (a *STApp) TearDownStores() ([]st.SIndex, error) {
	var done []st.SIndex
	err := a.track("", func() error {
		var err error
		done, err = a.service.TearDownStores()
		return err
	})
	return done, err
}

// GetRevisions lists the preserved revisions of path.
func (a *STApp) GetRevisions(path string) ([]*st.Revision, error) {
	return a.service.GetRevisions(path)
}

// RestoreRevision writes one revision of path to w. For an encrypted
// history vault, passphrase unlocks the private key.
func (a *STApp) RestoreRevision(path, id, passphrase string, w io.Writer) error {
	if locked, ok := a.vault.(interface{ Unlock(string) error }); ok {
		if err := locked.Unlock(passphrase); err != nil {
			return err
		}
	}
	return a.service.RestoreRevision(path, id, w)
}

// SetupKeys generates the key pair used to encrypt history revisions.
func (a *STApp) SetupKeys(passphrase string) error {
	if a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys already exist")
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up encryption keys: %w", err)
	}
	a.logger.Info("encryption keys created")
	return nil
}

// HistoryEncrypted reports whether restoring revisions needs a passphrase.
func (a *STApp) HistoryEncrypted() bool {
	return a.cfg.History.Encrypted
}

// GetOperations returns the most recent operations.
func (a *STApp) GetOperations(limit int) ([]*st.Operation, error) {
	return a.service.GetOperations(limit)
}

// Daemon drains staged cleanup in the background until ctx is done. Every
// drain step runs on a single executor goroutine.
func (a *STApp) Daemon(ctx context.Context) error {
	if err := a.persistOperation(""); err != nil {
		return err
	}

	q := core.NewQueue()
	defer q.Close()

	a.logger.Info("daemon started",
		"interval", a.cfg.Staging.Interval().String(),
		"batch_limit", a.cfg.Staging.Batch())
	done := a.staging.Start(ctx, staging.DrainSchedule{
		Interval:   a.cfg.Staging.Interval(),
		BatchLimit: a.cfg.Staging.Batch(),
		Exec:       q.Do,
	})
	<-done
	a.logger.Info("daemon stopped")
	return nil
}

// Close finalizes the operation and closes all resources.
func (a *STApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.Operations().Finish(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
