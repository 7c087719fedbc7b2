package mempool

import (
	"testing"
	"time"

	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transfer(prev types.Hash, index uint32, value types.Amount, at time.Time) *types.Transaction {
	tx := &types.Transaction{
		Timestamp: at,
		Inputs:    []types.TxInput{{TxID: prev, OutputIndex: index, PubKey: []byte("key")}},
		Outputs:   []types.TransactionOutput{{Value: value, OwnerCommitment: make([]byte, 20)}},
	}
	tx.Finalize()
	return tx
}

func TestAddTransaction(t *testing.T) {
	mp := NewMempool(0)
	now := time.Unix(1_700_000_000, 0)

	first := transfer(types.Hash{0x01}, 0, 10, now)
	require.NoError(t, mp.AddTransaction(first))
	assert.Equal(t, ErrTxAlreadyInMempool, mp.AddTransaction(first))

	conflict := transfer(types.Hash{0x01}, 0, 9, now)
	assert.True(t, errors.Is(mp.AddTransaction(conflict), ErrInputConflict))

	other := transfer(types.Hash{0x01}, 1, 9, now)
	require.NoError(t, mp.AddTransaction(other))

	coinbase := types.NewCoinbaseTx(make([]byte, 20), 1, 1, now)
	assert.Equal(t, ErrCoinbaseRejected, mp.AddTransaction(coinbase))
	assert.Equal(t, 2, mp.Size())
}

func TestPendingOrderAndRemoval(t *testing.T) {
	mp := NewMempool(2)
	now := time.Unix(1_700_000_000, 0)

	late := transfer(types.Hash{0x02}, 0, 1, now.Add(time.Minute))
	early := transfer(types.Hash{0x03}, 0, 1, now)
	require.NoError(t, mp.AddTransaction(late))
	require.NoError(t, mp.AddTransaction(early))
	assert.Equal(t, ErrMempoolFull, mp.AddTransaction(transfer(types.Hash{0x04}, 0, 1, now)))

	assert.Equal(t, []*types.Transaction{early, late}, mp.GetPendingTransactions(10))
	assert.Equal(t, []*types.Transaction{early}, mp.GetPendingTransactions(1))

	mp.RemoveTransactions([]*types.Transaction{early})
	assert.Equal(t, 1, mp.Size())

	// The removed transaction's input is free again.
	require.NoError(t, mp.AddTransaction(transfer(types.Hash{0x03}, 0, 2, now)))
}
