// Package credstore persists the cached OAuth credential for one token
// directory. The record lives in a bbolt database so writes are atomic
// (either the full new record is visible or the previous one remains)
// and the database file lock serializes concurrent authentication
// attempts across processes.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	cerrors "github.com/mwhitfield/copilot-auth/internal/errors"
	"github.com/mwhitfield/copilot-auth/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// storeFile is the database file name inside the token directory.
	storeFile = "tokens.db"

	// dirPerm is the permission mode for the token directory.
	dirPerm = fs.FileMode(0o700)

	// filePerm is the permission mode for the database file. The record
	// holds a raw access token, so group/world access is never granted.
	filePerm = fs.FileMode(0o600)

	// shortOpenTimeout bounds the file-lock wait for plain reads and
	// writes. Long waits only make sense for WithLock, where the caller
	// controls the deadline through the context.
	shortOpenTimeout = 5 * time.Second
)

var (
	credentialBucket = []byte("credential")
	recordKey        = []byte("record")
)

// Store manages the credential record for a single token directory.
// It is safe for concurrent use; all cross-process exclusion goes
// through the database file lock.
type Store struct {
	dir  string
	path string

	// sem serializes in-process WithLock holders with a context-aware
	// acquire, so a caller's deadline also bounds the in-process wait.
	sem *semaphore.Weighted
}

// New creates a store for the given token directory. The directory is
// created lazily on first write.
func New(dir string) *Store {
	return &Store{
		dir:  dir,
		path: filepath.Join(dir, storeFile),
		sem:  semaphore.NewWeighted(1),
	}
}

// Dir returns the token directory this store manages.
func (s *Store) Dir() string { return s.dir }

// Path returns the path of the database file.
func (s *Store) Path() string { return s.path }

// Read returns the stored credential record, or nil if none exists.
// A missing file or empty store is not an error. A file that cannot be
// opened or decoded is reported as ErrCorruptStore so callers can
// distinguish it from a clean absence.
func (s *Store) Read() (*models.CredentialRecord, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("statting token store: %w", err)
	}

	db, err := bolt.Open(s.path, filePerm, &bolt.Options{
		Timeout:  shortOpenTimeout,
		ReadOnly: true,
	})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("opening token store: %w", cerrors.ErrLockTimeout)
		}
		return nil, fmt.Errorf("%w: %v", cerrors.ErrCorruptStore, err)
	}
	defer db.Close()

	return readRecord(db)
}

// Write atomically replaces the stored credential record.
func (s *Store) Write(rec *models.CredentialRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	db, err := s.open(shortOpenTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	return writeRecord(db, rec)
}

// Delete removes the stored credential record. Deleting an absent
// record is not an error. A corrupt database file is removed outright,
// since the only thing it could hold is the record being deleted.
func (s *Store) Delete() error {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("statting token store: %w", err)
	}

	db, err := s.open(shortOpenTimeout)
	if err != nil {
		if errors.Is(err, cerrors.ErrCorruptStore) {
			if rmErr := os.Remove(s.path); rmErr != nil {
				return fmt.Errorf("removing corrupt token store: %w", rmErr)
			}
			return nil
		}
		return err
	}
	defer db.Close()

	return deleteRecord(db)
}

// Locked exposes store operations bound to a held database handle.
// Obtained through WithLock; must not be retained after the callback
// returns.
type Locked struct {
	db *bolt.DB
}

// Read returns the stored record under the held lock, or nil if absent.
func (l *Locked) Read() (*models.CredentialRecord, error) {
	return readRecord(l.db)
}

// Write atomically replaces the record under the held lock.
func (l *Locked) Write(rec *models.CredentialRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	return writeRecord(l.db, rec)
}

// Delete removes the record under the held lock.
func (l *Locked) Delete() error {
	return deleteRecord(l.db)
}

// WithLock runs fn while holding the store's exclusive lock. The lock
// covers both other goroutines in this process and other processes
// sharing the token directory (via the database file lock). The wait
// for the lock is bounded by ctx's deadline; an expired wait returns
// ErrLockTimeout. The lock is released on every exit path.
func (s *Store) WithLock(ctx context.Context, fn func(*Locked) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", cerrors.ErrLockTimeout, err)
	}
	defer s.sem.Release(1)

	timeout := shortOpenTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return fmt.Errorf("%w: deadline already passed", cerrors.ErrLockTimeout)
		}
	}

	db, err := s.open(timeout)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(&Locked{db: db})
}

// open opens the database read-write, creating the token directory and
// the credential bucket as needed.
func (s *Store) open(timeout time.Duration) (*bolt.DB, error) {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating token directory: %w", err)
	}

	db, err := bolt.Open(s.path, filePerm, &bolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("opening token store: %w", cerrors.ErrLockTimeout)
		}
		return nil, fmt.Errorf("%w: %v", cerrors.ErrCorruptStore, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing token store: %w", err)
	}

	return db, nil
}

func readRecord(db *bolt.DB) (*models.CredentialRecord, error) {
	var rec *models.CredentialRecord

	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialBucket)
		if b == nil {
			return nil
		}

		v := b.Get(recordKey)
		if v == nil {
			return nil
		}

		rec = &models.CredentialRecord{}
		if err := json.Unmarshal(v, rec); err != nil {
			return fmt.Errorf("%w: decoding record: %v", cerrors.ErrCorruptStore, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if rec != nil {
		if err := validateRecord(rec); err != nil {
			return nil, fmt.Errorf("%w: %v", cerrors.ErrCorruptStore, err)
		}
	}

	return rec, nil
}

func writeRecord(db *bolt.DB, rec *models.CredentialRecord) error {
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(credentialBucket)
		if err != nil {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}

		return b.Put(recordKey, data)
	})
}

func deleteRecord(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialBucket)
		if b == nil {
			return nil
		}
		return b.Delete(recordKey)
	})
}

// validateRecord rejects records missing required fields or violating
// the issued_at <= expires_at invariant. Such a record on disk means a
// partial or foreign write, which the read path reports as corruption.
func validateRecord(rec *models.CredentialRecord) error {
	if rec == nil {
		return fmt.Errorf("credential record is nil")
	}
	if rec.AccessToken == "" {
		return fmt.Errorf("credential record has no access token")
	}
	if rec.ExpiresAt != nil && rec.IssuedAt.After(*rec.ExpiresAt) {
		return fmt.Errorf("credential record issued after its expiry")
	}
	return nil
}
