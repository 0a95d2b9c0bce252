// Package journal persists per-output outcomes so unchanged inputs can be skipped
// on the next run.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v3"

	"github.com/Skryldev/speech-enhance/domain/ports"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
)

const keyPrefix = "out/"

// Badger implements ports.Journal on a badger key-value store
type Badger struct {
	db *badger.DB
}

var _ ports.Journal = (*Badger)(nil)

// Open opens or creates the journal under dir. An empty dir keeps it in memory.
func Open(dir string) (*Badger, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, pkgerrors.NewIOError(dir, "failed to create journal directory", err)
		}
		opts = badger.DefaultOptions(filepath.Join(dir, "badger"))
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, pkgerrors.NewIOError(dir, "failed to open journal", err)
	}
	return &Badger{db: db}, nil
}

// Fingerprint hashes the file contents with xxhash64.
func (b *Badger) Fingerprint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, pkgerrors.NewIOError(path, "failed to open input for fingerprint", err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, pkgerrors.NewIOError(path, "failed to hash input", err)
	}
	return h.Sum64(), nil
}

// Get returns the entry for relPath, or nil when there is none.
func (b *Badger) Get(relPath string) (*ports.JournalEntry, error) {
	var entry ports.JournalEntry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(relPath))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read journal entry %s: %w", relPath, err)
	}
	return &entry, nil
}

// Put stores entry, replacing any previous one for the same output.
func (b *Badger) Put(entry ports.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(entry.RelPath), data)
	})
}

// Close flushes and closes the database
func (b *Badger) Close() error {
	return b.db.Close()
}

func key(relPath string) []byte {
	return []byte(keyPrefix + filepath.ToSlash(relPath))
}
