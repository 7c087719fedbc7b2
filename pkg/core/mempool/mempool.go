package mempool

import (
	"sort"
	"sync"

	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/pkg/errors"
)

var (
	ErrTxAlreadyInMempool = errors.New("transaction already in mempool")
	ErrInputConflict      = errors.New("transaction spends an output already spent by a pending transaction")
	ErrCoinbaseRejected   = errors.New("coinbase transactions cannot be submitted")
	ErrMempoolFull        = errors.New("mempool is full")
)

type outpoint struct {
	TxID  types.Hash
	Index uint32
}

// Mempool holds transfers waiting to be included in a block.
type Mempool struct {
	mu      sync.RWMutex
	txs     map[types.Hash]*types.Transaction
	spends  map[outpoint]types.Hash // pending input -> spending tx
	maxSize int
}

// NewMempool creates a new transaction pool holding at most maxSize
// transactions. maxSize <= 0 means unbounded.
func NewMempool(maxSize int) *Mempool {
	return &Mempool{
		txs:     make(map[types.Hash]*types.Transaction),
		spends:  make(map[outpoint]types.Hash),
		maxSize: maxSize,
	}
}

// Size returns the number of transactions in the pool.
func (mp *Mempool) Size() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.txs)
}

// AddTransaction adds a transfer unless it conflicts with a pending one.
// Validity against the ledger is checked when the transfer is mined.
func (mp *Mempool) AddTransaction(tx *types.Transaction) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if tx.IsCoinbase() {
		return ErrCoinbaseRejected
	}
	if _, ok := mp.txs[tx.ID]; ok {
		return ErrTxAlreadyInMempool
	}
	if mp.maxSize > 0 && len(mp.txs) >= mp.maxSize {
		return ErrMempoolFull
	}
	for _, in := range tx.Inputs {
		if by, ok := mp.spends[outpoint{in.TxID, in.OutputIndex}]; ok {
			return errors.Wrapf(ErrInputConflict, "%s:%d pending in %s", in.TxID, in.OutputIndex, by)
		}
	}

	mp.txs[tx.ID] = tx
	for _, in := range tx.Inputs {
		mp.spends[outpoint{in.TxID, in.OutputIndex}] = tx.ID
	}
	return nil
}

// GetPendingTransactions returns up to maxCount transactions, oldest first.
func (mp *Mempool) GetPendingTransactions(maxCount int) []*types.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	allTxs := make([]*types.Transaction, 0, len(mp.txs))
	for _, tx := range mp.txs {
		allTxs = append(allTxs, tx)
	}
	sort.Slice(allTxs, func(i, j int) bool {
		if !allTxs[i].Timestamp.Equal(allTxs[j].Timestamp) {
			return allTxs[i].Timestamp.Before(allTxs[j].Timestamp)
		}
		return allTxs[i].ID.Hex() < allTxs[j].ID.Hex()
	})

	if len(allTxs) > maxCount {
		allTxs = allTxs[:maxCount]
	}
	return allTxs
}

// RemoveTransactions removes mined or rejected transactions from the pool.
func (mp *Mempool) RemoveTransactions(txs []*types.Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, tx := range txs {
		if _, ok := mp.txs[tx.ID]; !ok {
			continue
		}
		delete(mp.txs, tx.ID)
		for _, in := range tx.Inputs {
			delete(mp.spends, outpoint{in.TxID, in.OutputIndex})
		}
	}
}
