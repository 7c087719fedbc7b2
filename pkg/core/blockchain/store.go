package blockchain

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/chronodrachma/utxod/pkg/storage"
	"github.com/pkg/errors"
)

var (
	ErrBlockNotFoundInStore = errors.New("block not found in store")
)

// BlockStore defines the interface for persistent block storage.
type BlockStore interface {
	SaveBlock(block *types.Block) error
	GetBlockByHash(hash types.Hash) (*types.Block, error)
	GetBlockByHeight(height uint64) (*types.Block, error)
	SaveHead(hash types.Hash) error
	// GetHead returns ErrBlockNotFoundInStore for an empty store.
	GetHead() (types.Hash, error)
}

// KVBlockStore implements BlockStore on a raw key-value store.
type KVBlockStore struct {
	kv storage.Store
}

// NewKVBlockStore wraps kv. The caller keeps ownership of kv.
func NewKVBlockStore(kv storage.Store) *KVBlockStore {
	return &KVBlockStore{kv: kv}
}

// Keys:
// Block by Hash:   "block:hash:<hash>" -> serialized block
// Block by Height: "block:height:<height>" -> hash
// Head:            "chain:head" -> hash

var headKey = []byte("chain:head")

func hashKey(hash types.Hash) []byte {
	return []byte(fmt.Sprintf("block:hash:%x", hash))
}

func heightKey(height uint64) []byte {
	return []byte(fmt.Sprintf("block:height:%d", height))
}

func (s *KVBlockStore) SaveBlock(block *types.Block) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(block); err != nil {
		return errors.Wrap(err, "encode block")
	}

	if err := s.kv.Put(hashKey(block.Hash), buf.Bytes()); err != nil {
		return errors.Wrapf(err, "save block %s", block.Hash)
	}
	if err := s.kv.Put(heightKey(block.Header.Height), block.Hash.Bytes()); err != nil {
		return errors.Wrapf(err, "save height %d", block.Header.Height)
	}
	return nil
}

func (s *KVBlockStore) GetBlockByHash(hash types.Hash) (*types.Block, error) {
	val, err := s.get(hashKey(hash))
	if err != nil {
		return nil, err
	}

	var block types.Block
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&block); err != nil {
		return nil, errors.Wrapf(err, "decode block %s", hash)
	}
	return &block, nil
}

func (s *KVBlockStore) GetBlockByHeight(height uint64) (*types.Block, error) {
	val, err := s.get(heightKey(height))
	if err != nil {
		return nil, err
	}
	hash, err := types.HashFromBytes(val)
	if err != nil {
		return nil, errors.Wrapf(err, "height %d index", height)
	}
	return s.GetBlockByHash(hash)
}

func (s *KVBlockStore) SaveHead(hash types.Hash) error {
	return errors.Wrap(s.kv.Put(headKey, hash.Bytes()), "save head")
}

func (s *KVBlockStore) GetHead() (types.Hash, error) {
	val, err := s.get(headKey)
	if err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBytes(val)
}

func (s *KVBlockStore) get(key []byte) ([]byte, error) {
	val, err := s.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrBlockNotFoundInStore
	}
	return val, err
}
