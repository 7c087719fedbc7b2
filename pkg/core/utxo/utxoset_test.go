package utxo

import (
	"bytes"
	"sort"
	"testing"
	"time"

	"github.com/chronodrachma/utxod/pkg/core/address"
	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/chronodrachma/utxod/pkg/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	deriver = address.NewKeccakDeriver()

	aliceKey = []byte("alice-public-key")
	bobKey   = []byte("bob-public-key")
	carolKey = []byte("carol-public-key")

	txA = types.Hash{0xaa}
	txB = types.Hash{0xbb}
	txC = types.Hash{0xcc}
)

// stubLedger serves a fixed unspent-output map.
type stubLedger struct {
	utxos map[string]*types.OutputRecord
	err   error
	calls int
}

func (l *stubLedger) FindUnspentOutputs() (map[string]*types.OutputRecord, error) {
	l.calls++
	return l.utxos, l.err
}

// faultyStore injects failures into an underlying store.
type faultyStore struct {
	storage.Store
	failGet   map[string]error
	failPut   error
	failReset error
	failKeys  error
	puts      int
}

func (s *faultyStore) Get(key []byte) ([]byte, error) {
	if err, ok := s.failGet[string(key)]; ok {
		return nil, err
	}
	return s.Store.Get(key)
}

func (s *faultyStore) Put(key, value []byte) error {
	s.puts++
	if s.failPut != nil && s.puts > 1 {
		return s.failPut
	}
	return s.Store.Put(key, value)
}

func (s *faultyStore) Reset() error {
	if s.failReset != nil {
		return s.failReset
	}
	return s.Store.Reset()
}

func (s *faultyStore) Keys() ([][]byte, error) {
	if s.failKeys != nil {
		return nil, s.failKeys
	}
	return s.Store.Keys()
}

func out(value types.Amount, ownerKey []byte) types.TransactionOutput {
	return types.TransactionOutput{Value: value, OwnerCommitment: deriver.Derive(ownerKey)}
}

func record(outputs ...types.TransactionOutput) *types.OutputRecord {
	for i := range outputs {
		outputs[i].Index = uint32(i)
	}
	return &types.OutputRecord{Outputs: outputs}
}

// scenarioLedger is txA: [(50, alice), (30, bob)], txB: [(20, alice)].
func scenarioLedger() *stubLedger {
	return &stubLedger{utxos: map[string]*types.OutputRecord{
		txA.Hex(): record(out(50, aliceKey), out(30, bobKey)),
		txB.Hex(): record(out(20, aliceKey)),
	}}
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestSet(t *testing.T, store storage.Store, ledger Ledger, opts ...Option) *UTXOSet {
	t.Helper()
	return New(store, ledger, deriver, zerolog.Nop(), opts...)
}

func values(outputs []types.TransactionOutput) []types.Amount {
	vs := make([]types.Amount, len(outputs))
	for i, o := range outputs {
		vs[i] = o.Value
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
	return vs
}

func snapshot(t *testing.T, s storage.Store) map[string][]byte {
	t.Helper()
	keys, err := s.Keys()
	require.NoError(t, err)
	snap := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := s.Get(k)
		require.NoError(t, err)
		snap[string(k)] = v
	}
	return snap
}

func TestScenario(t *testing.T) {
	set := newTestSet(t, newTestStore(t), scenarioLedger())
	n, err := set.Reindex()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	spendable, report, err := set.FindSpendableOutputs(aliceKey, 60)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Equal(t, types.Amount(70), spendable.Amount)
	assert.Equal(t, map[string][]uint32{
		txA.Hex(): {0},
		txB.Hex(): {0},
	}, spendable.UnspentOutputs)

	utxos, _, err := set.FindUTXO(aliceKey)
	require.NoError(t, err)
	assert.Equal(t, []types.Amount{20, 50}, values(utxos))
}

func TestReindexReplacesContents(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put(txC.Bytes(), []byte("stale")))

	ledger := scenarioLedger()
	set := newTestSet(t, store, ledger)
	_, err := set.Reindex()
	require.NoError(t, err)

	_, err = store.Get(txC.Bytes())
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	rec, err := set.Record(txA)
	require.NoError(t, err)
	assert.Equal(t, ledger.utxos[txA.Hex()].Outputs, rec.Outputs)
}

func TestReindexIdempotent(t *testing.T) {
	store := newTestStore(t)
	set := newTestSet(t, store, scenarioLedger())

	_, err := set.Reindex()
	require.NoError(t, err)
	first := snapshot(t, store)

	_, err = set.Reindex()
	require.NoError(t, err)
	assert.Equal(t, first, snapshot(t, store))
}

func TestIndexIsSnapshot(t *testing.T) {
	ledger := scenarioLedger()
	set := newTestSet(t, newTestStore(t), ledger)
	_, err := set.Reindex()
	require.NoError(t, err)

	// Spending txB in the ledger is invisible until the next reindex.
	delete(ledger.utxos, txB.Hex())
	balance, _, err := set.Balance(aliceKey)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(70), balance)

	_, err = set.Reindex()
	require.NoError(t, err)
	balance, _, err = set.Balance(aliceKey)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(50), balance)
}

func TestFindSpendableOutputs(t *testing.T) {
	ledger := &stubLedger{utxos: map[string]*types.OutputRecord{
		txA.Hex(): record(out(50, aliceKey), out(30, bobKey), out(5, aliceKey)),
		txB.Hex(): record(out(20, aliceKey)),
		txC.Hex(): record(out(100, bobKey)),
	}}
	set := newTestSet(t, newTestStore(t), ledger)
	_, err := set.Reindex()
	require.NoError(t, err)

	tests := []struct {
		name    string
		key     []byte
		target  types.Amount
		minimum types.Amount
	}{
		{"zero target", aliceKey, 0, 0},
		{"single output covers", aliceKey, 1, 1},
		{"exact total", aliceKey, 75, 75},
		{"insufficient", aliceKey, 1000, 75},
		{"other owner", bobKey, 120, 120},
		{"unknown owner", carolKey, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spendable, _, err := set.FindSpendableOutputs(tt.key, tt.target)
			require.NoError(t, err)

			if tt.target == 0 {
				assert.Zero(t, spendable.Amount)
				assert.Empty(t, spendable.UnspentOutputs)
				return
			}
			assert.GreaterOrEqual(t, spendable.Amount, tt.minimum)

			// Every selected position is owned by the key and the total
			// overshoots by less than the last output added.
			owner := deriver.Derive(tt.key)
			var total, largest types.Amount
			for _, op := range spendable.Outpoints() {
				id, err := types.HashFromHex(op.TxID)
				require.NoError(t, err)
				o := ledger.utxos[id.Hex()].Outputs[op.Index]
				assert.True(t, bytes.Equal(owner, o.OwnerCommitment))
				total += o.Value
				if o.Value > largest {
					largest = o.Value
				}
			}
			assert.Equal(t, total, spendable.Amount)
			if spendable.Amount >= tt.target {
				assert.Less(t, spendable.Amount-largest, tt.target)
			}
		})
	}
}

func TestFindSpendableOutputs_InsufficientSelectsAll(t *testing.T) {
	set := newTestSet(t, newTestStore(t), scenarioLedger())
	_, err := set.Reindex()
	require.NoError(t, err)

	spendable, _, err := set.FindSpendableOutputs(aliceKey, 71)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(70), spendable.Amount)
	assert.Len(t, spendable.Outpoints(), 2)
}

func TestOwnerFilteringIsExact(t *testing.T) {
	set := newTestSet(t, newTestStore(t), scenarioLedger())
	_, err := set.Reindex()
	require.NoError(t, err)

	utxos, _, err := set.FindUTXO(bobKey)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, types.Amount(30), utxos[0].Value)

	// A raw commitment is not a key: querying by it derives a different address.
	utxos, _, err = set.FindUTXO(deriver.Derive(bobKey))
	require.NoError(t, err)
	assert.Empty(t, utxos)

	spendable, _, err := set.FindSpendableOutputs(bobKey, 1000)
	require.NoError(t, err)
	assert.Equal(t, []types.Outpoint{{TxID: txA.Hex(), Index: 1}}, spendable.Outpoints())
}

func TestCorruptEntryIsSkipped(t *testing.T) {
	store := newTestStore(t)
	set := newTestSet(t, store, scenarioLedger())
	_, err := set.Reindex()
	require.NoError(t, err)

	require.NoError(t, store.Put(txC.Bytes(), []byte{0xff}))

	utxos, report, err := set.FindUTXO(aliceKey)
	require.NoError(t, err)
	assert.Equal(t, []types.Amount{20, 50}, values(utxos))
	assert.Equal(t, 3, report.Entries)
	assert.Equal(t, 2, report.Decoded)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, txC.Hex(), report.Skipped[0].TxID)
	assert.True(t, errors.Is(report.Skipped[0].Reason, types.ErrRecordDecode))

	spendable, report, err := set.FindSpendableOutputs(aliceKey, 60)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(70), spendable.Amount)
	assert.False(t, report.Complete())
}

func TestReadFaultIsSkipped(t *testing.T) {
	ioErr := errors.New("disk read error")
	store := &faultyStore{Store: newTestStore(t), failGet: map[string]error{string(txB.Bytes()): ioErr}}
	set := newTestSet(t, store, scenarioLedger())
	_, err := set.Reindex()
	require.NoError(t, err)

	utxos, report, err := set.FindUTXO(aliceKey)
	require.NoError(t, err)
	assert.Equal(t, []types.Amount{50}, values(utxos))
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, ioErr, report.Skipped[0].Reason)
	assert.Equal(t, skipReasonIO, skipReason(report.Skipped[0].Reason))
}

func TestEnumerationFailureIsReturned(t *testing.T) {
	store := &faultyStore{Store: newTestStore(t), failKeys: errors.New("iterator failed")}
	set := newTestSet(t, store, scenarioLedger())

	_, _, err := set.FindUTXO(aliceKey)
	assert.Error(t, err)
	_, _, err = set.FindSpendableOutputs(aliceKey, 1)
	assert.Error(t, err)
	_, err = set.CountTransactions()
	assert.Error(t, err)
}

func TestReindexFailures(t *testing.T) {
	t.Run("ledger error keeps previous index", func(t *testing.T) {
		store := newTestStore(t)
		ledger := scenarioLedger()
		set := newTestSet(t, store, ledger)
		_, err := set.Reindex()
		require.NoError(t, err)

		ledger.err = errors.New("ledger unavailable")
		_, err = set.Reindex()
		assert.True(t, errors.Is(err, ErrReindexFailed))

		n, err := set.CountTransactions()
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("invalid txid keeps previous index", func(t *testing.T) {
		store := newTestStore(t)
		ledger := scenarioLedger()
		set := newTestSet(t, store, ledger)
		_, err := set.Reindex()
		require.NoError(t, err)

		ledger.utxos["not-hex"] = record(out(1, aliceKey))
		_, err = set.Reindex()
		assert.True(t, errors.Is(err, ErrReindexFailed))
		assert.True(t, errors.Is(err, ErrInvalidTxID))

		n, err := set.CountTransactions()
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("reset error", func(t *testing.T) {
		store := &faultyStore{Store: newTestStore(t), failReset: errors.New("reset failed")}
		_, err := newTestSet(t, store, scenarioLedger()).Reindex()
		assert.True(t, errors.Is(err, ErrReindexFailed))
	})

	t.Run("write error surfaces partial rebuild", func(t *testing.T) {
		store := &faultyStore{Store: newTestStore(t), failPut: errors.New("disk full")}
		n, err := newTestSet(t, store, scenarioLedger()).Reindex()
		assert.True(t, errors.Is(err, ErrReindexFailed))
		assert.Equal(t, 1, n)
	})
}

func TestCountTransactions(t *testing.T) {
	set := newTestSet(t, newTestStore(t), scenarioLedger())
	n, err := set.CountTransactions()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = set.Reindex()
	require.NoError(t, err)
	n, err = set.CountTransactions()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCachedViewMatchesScan(t *testing.T) {
	ledger := scenarioLedger()
	cached := newTestSet(t, newTestStore(t), ledger, WithCache(time.Minute, 16))
	plain := newTestSet(t, newTestStore(t), ledger)
	for _, s := range []*UTXOSet{cached, plain} {
		_, err := s.Reindex()
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		want, _, err := plain.FindSpendableOutputs(aliceKey, 60)
		require.NoError(t, err)
		got, _, err := cached.FindSpendableOutputs(aliceKey, 60)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 1, cached.cache.len())

	// Reindex drops cached views.
	ledger.utxos[txC.Hex()] = record(out(7, aliceKey))
	_, err := cached.Reindex()
	require.NoError(t, err)
	assert.Zero(t, cached.cache.len())

	balance, _, err := cached.Balance(aliceKey)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(77), balance)
}

func TestReindexSkipsEmptyRecords(t *testing.T) {
	store := newTestStore(t)
	ledger := scenarioLedger()
	ledger.utxos[txC.Hex()] = &types.OutputRecord{}
	ledger.utxos[types.Hash{0xdd}.Hex()] = nil

	n, err := newTestSet(t, store, ledger).Reindex()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Get(txC.Bytes())
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestSelectOutputsMatchesSelection(t *testing.T) {
	ledger := &stubLedger{utxos: map[string]*types.OutputRecord{
		txA.Hex(): record(out(10, carolKey), out(5, aliceKey), out(40, aliceKey)),
	}}
	// Record positions differ from output indices once an output is spent.
	ledger.utxos[txA.Hex()].Outputs = ledger.utxos[txA.Hex()].Outputs[1:]
	set := newTestSet(t, newTestStore(t), ledger)
	_, err := set.Reindex()
	require.NoError(t, err)

	spendable, selected, _, err := set.SelectOutputs(aliceKey, 30)
	require.NoError(t, err)
	want, _, err := set.FindSpendableOutputs(aliceKey, 30)
	require.NoError(t, err)
	assert.Equal(t, want, spendable)

	require.Len(t, selected, 2)
	var total types.Amount
	for _, sel := range selected {
		assert.True(t, spendable.Contains(sel.TxID, sel.Position))
		assert.Equal(t, sel.Position+1, sel.Output.Index)
		total += sel.Output.Value
	}
	assert.Equal(t, spendable.Amount, total)
}
