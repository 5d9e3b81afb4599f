package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// DB manages the badgerhold-backed connection shared by TaskStore and
// ConsumerStore.
type DB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// Options configures the underlying store.
type Options struct {
	Path           string
	ResetOnStartup bool
}

// Open opens (or creates) the badger database at opts.Path.
func Open(logger arbor.ILogger, opts Options) (*DB, error) {
	if opts.ResetOnStartup {
		if _, err := os.Stat(opts.Path); err == nil {
			logger.Debug().Str("path", opts.Path).Msg("deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(opts.Path); err != nil {
				logger.Warn().Err(err).Str("path", opts.Path).Msg("failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", opts.Path).Msg("opening badger database connection")

	bhOpts := badgerhold.DefaultOptions
	bhOpts.Dir = opts.Path
	bhOpts.ValueDir = opts.Path
	bhOpts.Logger = nil // disable badger's own logger, arbor covers this

	store, err := badgerhold.Open(bhOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", opts.Path).Msg("badger database initialized")

	return &DB{store: store, logger: logger}, nil
}

// Store returns the underlying badgerhold store.
func (d *DB) Store() *badgerhold.Store {
	return d.store
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}
