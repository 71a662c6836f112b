package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps artifacts as values in an embedded BadgerDB, one key
// per artifact name. Useful when snapshots should live in the same
// storage engine as other service state instead of loose files.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a Badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Create returns a writer that buffers the artifact in memory and commits
// it in a single transaction on Close.
func (s *BadgerStore) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if name == "" {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}
	return &badgerArtifact{db: s.db, key: []byte(name)}, nil
}

// Open returns a reader over a copy of the stored artifact.
func (s *BadgerStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	var data []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
		}
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// List returns all artifact names.
func (s *BadgerStore) List(ctx context.Context) ([]string, error) {
	var names []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()))
		}
		return nil
	})

	return names, err
}

// Close closes db
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerArtifact struct {
	db  *badger.DB
	key []byte
	buf bytes.Buffer
}

func (a *badgerArtifact) Write(p []byte) (int, error) {
	return a.buf.Write(p)
}

func (a *badgerArtifact) Close() error {
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(a.key, a.buf.Bytes())
	})
}
