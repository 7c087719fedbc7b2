// Package storage provides the raw key-value engines behind the UTXO index
// and the block store.
package storage

import (
	"github.com/chronodrachma/utxod/pkg/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotFound         = errors.New("key not found in store")
	ErrClosed           = errors.New("store is closed")
)

// Store is the minimal key-value contract. Keys and values are raw bytes;
// returned slices are owned by the caller.
type Store interface {
	Put(key, value []byte) error
	// Get returns ErrNotFound when key is absent.
	Get(key []byte) ([]byte, error)
	// Keys enumerates every key in unspecified order.
	Keys() ([][]byte, error)
	// Reset removes every entry.
	Reset() error
	Close() error
}

// Open opens the configured backend at path, or in memory when
// cfg.InMemory is set. Any failure wraps ErrStoreUnavailable.
func Open(cfg config.StoreConfig, path string, logger zerolog.Logger) (Store, error) {
	if cfg.InMemory {
		path = ""
	}

	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case config.BackendBadger, "":
		s, err = NewBadgerStore(path)
	case config.BackendLevelDB:
		s, err = NewLevelDBStore(path, logger)
	default:
		return nil, errors.Wrapf(ErrStoreUnavailable, "unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("backend", cfg.Backend).Str("path", path).Msg("store opened")
	return s, nil
}

func unavailable(err error, path string) error {
	return errors.Wrapf(ErrStoreUnavailable, "open %q: %v", path, err)
}
