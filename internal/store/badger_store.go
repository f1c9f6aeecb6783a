package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

const checkpointPrefix = "checkpoint/"

// BadgerStore implements Store on an embedded BadgerDB key-value store.
// Every checkpoint is one key, checkpoint/<jobID>, holding the same JSON
// document the FSStore writes. Saves are single transactions.
//
// Traces are not kept in the KV store; use a TraceWriter next to it.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures OpenBadgerStore.
type BadgerOptions struct {
	// Dir is the database directory; ignored when InMemory is set
	Dir string

	// InMemory keeps everything in RAM (tests)
	InMemory bool

	// SyncWrites fsyncs every commit
	SyncWrites bool
}

// OpenBadgerStore opens (or creates) a badger-backed checkpoint store.
// The caller must Close it.
func OpenBadgerStore(o BadgerOptions) (*BadgerStore, error) {
	var opts badger.Options
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if o.Dir == "" {
			return nil, errors.New("badger directory is required")
		}
		if err := os.MkdirAll(o.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(o.Dir)
	}
	opts = opts.WithSyncWrites(o.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: slog.Default().With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func checkpointKey(jobID string) []byte {
	return []byte(checkpointPrefix + jobID)
}

// SaveCheckpoint writes the checkpoint in a single transaction.
func (b *BadgerStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if err := validJobID(jobID); err != nil {
		return err
	}
	data, err := encodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(jobID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Debug("Checkpoint saved", "jobID", jobID, "backend", "badger", "generation", checkpoint.Generation)
	return nil
}

// LoadCheckpoint retrieves the checkpoint for the given job.
func (b *BadgerStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if err := validJobID(jobID); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(jobID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	return decodeCheckpoint(data)
}

// ListCheckpoints returns metadata for all stored checkpoints, newest first.
func (b *BadgerStore) ListCheckpoints() ([]CheckpointInfo, error) {
	infos := []CheckpointInfo{}

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(checkpointPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				checkpoint, err := decodeCheckpoint(val)
				if err != nil {
					slog.Warn("Failed to decode checkpoint for listing", "key", string(item.Key()), "error", err)
					return nil
				}
				infos = append(infos, checkpoint.ToInfo())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	sortNewestFirst(infos)
	return infos, nil
}

// DeleteCheckpoint removes the checkpoint key.
func (b *BadgerStore) DeleteCheckpoint(jobID string) error {
	if err := validJobID(jobID); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(checkpointKey(jobID)); err != nil {
			return err
		}
		return txn.Delete(checkpointKey(jobID))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	slog.Debug("Checkpoint deleted", "jobID", jobID, "backend", "badger")
	return nil
}

// badgerLogger routes badger's internal logging into slog. Info chatter is
// demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
