// Package miner produces blocks from pending transfers at a fixed interval
// and rebuilds the unspent output index after each one.
package miner

import (
	"sync"
	"time"

	"github.com/chronodrachma/utxod/pkg/core/mempool"
	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/rs/zerolog"
)

// Minter appends a block paying the reward to owner. *blockchain.Chain
// implements it.
type Minter interface {
	FilterValid(txs []*types.Transaction) ([]*types.Transaction, map[types.Hash]error)
	Mint(owner []byte, txs []*types.Transaction, timestamp time.Time) (*types.Block, error)
}

// Indexer rebuilds the unspent output index from the ledger.
type Indexer interface {
	Reindex() (int, error)
}

type Miner struct {
	chain    Minter
	mempool  *mempool.Mempool
	index    Indexer
	owner    []byte // Owner commitment receiving the coinbase.
	interval time.Duration
	maxTxs   int
	logger   zerolog.Logger
	quit     chan struct{}
	wg       sync.WaitGroup
}

func NewMiner(chain Minter, mp *mempool.Mempool, index Indexer, owner []byte, interval time.Duration, maxTxs int, logger zerolog.Logger) *Miner {
	return &Miner{
		chain:    chain,
		mempool:  mp,
		index:    index,
		owner:    owner,
		interval: interval,
		maxTxs:   maxTxs,
		logger:   logger,
		quit:     make(chan struct{}),
	}
}

func (m *Miner) Start() {
	m.logger.Info().Dur("interval", m.interval).Msg("miner started")
	m.wg.Add(1)
	go m.miningLoop()
}

func (m *Miner) Stop() {
	close(m.quit)
	m.wg.Wait()
	m.logger.Info().Msg("miner stopped")
}

func (m *Miner) miningLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case now := <-ticker.C:
			if _, err := m.ProduceBlock(now); err != nil {
				m.logger.Warn().Err(err).Msg("block production failed")
			}
		}
	}
}

// ProduceBlock mints one block with the oldest pending transfers and
// reindexes. Transfers the chain would reject are dropped from the pool.
func (m *Miner) ProduceBlock(now time.Time) (*types.Block, error) {
	pending := m.mempool.GetPendingTransactions(m.maxTxs)

	valid, rejected := m.chain.FilterValid(pending)
	if len(rejected) > 0 {
		drop := make([]*types.Transaction, 0, len(rejected))
		for _, tx := range pending {
			if err, ok := rejected[tx.ID]; ok {
				m.logger.Warn().Str("txid", tx.ID.Hex()).Err(err).Msg("dropping invalid transfer")
				drop = append(drop, tx)
			}
		}
		m.mempool.RemoveTransactions(drop)
	}

	block, err := m.chain.Mint(m.owner, valid, now)
	if err != nil {
		return nil, err
	}

	// The pool keeps its claims on the spent outputs until the index no
	// longer lists them.
	n, err := m.index.Reindex()
	m.mempool.RemoveTransactions(block.Transactions[1:]) // Skip coinbase
	if err != nil {
		return block, err
	}
	m.logger.Info().
		Uint64("height", block.Header.Height).
		Str("hash", block.Hash.Hex()).
		Int("transfers", len(valid)).
		Int("indexed", n).
		Msg("produced block")
	return block, nil
}
