package main

import (
	"fmt"
	"path/filepath"

	"github.com/cwbudde/cmaes/internal/store"
)

var (
	storeBackend string
	dataDir      string
)

// openStore opens the configured checkpoint backend. The returned close
// function must be called when done.
func openStore() (store.Store, func() error, error) {
	switch storeBackend {
	case "", "fs":
		st, err := store.NewFSStore(dataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		return st, func() error { return nil }, nil
	case "badger":
		st, err := store.OpenBadgerStore(store.BadgerOptions{
			Dir:        filepath.Join(dataDir, "badger"),
			SyncWrites: true,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", storeBackend)
	}
}

// sizer is implemented by stores that can report on-disk usage per job.
type sizer interface {
	Size(jobID string) (int64, error)
}
