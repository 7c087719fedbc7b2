package storage

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	ldbStorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// resetBatchSize bounds the number of deletes per write batch during Reset.
const resetBatchSize = 1000

var defaultLevelDBOptions = opt.Options{
	Compression:            opt.NoCompression,
	BlockCacheCapacity:     64 * opt.MiB,
	WriteBuffer:            32 * opt.MiB,
	DisableSeeksCompaction: true,
}

// LevelDBStore implements Store on goleveldb.
type LevelDBStore struct {
	ldb    *leveldb.DB
	mu     sync.RWMutex
	closed bool
}

// NewLevelDBStore opens a leveldb instance at path, creating it if needed.
// A corrupted database is recovered before use. An empty path opens an
// in-memory database.
func NewLevelDBStore(path string, logger zerolog.Logger) (*LevelDBStore, error) {
	if path == "" {
		db, err := leveldb.Open(ldbStorage.NewMemStorage(), &defaultLevelDBOptions)
		if err != nil {
			return nil, unavailable(err, path)
		}
		return &LevelDBStore{ldb: db}, nil
	}

	db, err := leveldb.OpenFile(path, &defaultLevelDBOptions)
	var corrupted *ldbErrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		logger.Warn().Str("path", path).Err(err).Msg("leveldb corruption detected, recovering")
		db, err = leveldb.RecoverFile(path, &defaultLevelDBOptions)
		if err == nil {
			logger.Warn().Str("path", path).Msg("leveldb recovered from corruption")
		}
	}
	if err != nil {
		return nil, unavailable(err, path)
	}
	return &LevelDBStore{ldb: db}, nil
}

func (s *LevelDBStore) Put(key, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return errors.Wrap(s.ldb.Put(key, value, nil), "leveldb put")
}

func (s *LevelDBStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	data, err := s.ldb.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "leveldb get")
	}
	return data, nil
}

func (s *LevelDBStore) Keys() ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	it := s.ldb.NewIterator(nil, nil)
	defer it.Release()

	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	return keys, errors.Wrap(it.Error(), "leveldb keys")
}

// Reset deletes every key in batches.
func (s *LevelDBStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	it := s.ldb.NewIterator(nil, nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
		if batch.Len() >= resetBatchSize {
			if err := s.ldb.Write(batch, nil); err != nil {
				return errors.Wrap(err, "leveldb reset")
			}
			batch.Reset()
		}
	}
	if err := it.Error(); err != nil {
		return errors.Wrap(err, "leveldb reset")
	}
	if batch.Len() > 0 {
		return errors.Wrap(s.ldb.Write(batch, nil), "leveldb reset")
	}
	return nil
}

func (s *LevelDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.ldb.Close()
}
