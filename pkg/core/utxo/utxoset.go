// Package utxo maintains the persistent UTXO index: a snapshot of the
// ledger's unspent outputs keyed by transaction id, and the owner queries
// answered from it.
//
// The index is rebuilt wholesale by Reindex and is never updated on spend;
// callers re-run Reindex after the ledger changes. Queries scan every entry
// and skip entries that cannot be read or decoded, reporting each skip in the
// returned ScanReport.
package utxo

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/chronodrachma/utxod/pkg/core/address"
	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/chronodrachma/utxod/pkg/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrReindexFailed = errors.New("utxo reindex failed")
	ErrInvalidTxID   = errors.New("invalid transaction id")
)

// Ledger is the authoritative source of unspent outputs, keyed by hex
// transaction id.
type Ledger interface {
	FindUnspentOutputs() (map[string]*types.OutputRecord, error)
}

// Option configures a UTXOSet.
type Option func(*UTXOSet)

// WithCache answers repeated owner queries from memory until the next
// Reindex or until ttl elapses.
func WithCache(ttl time.Duration, capacity uint64) Option {
	return func(u *UTXOSet) {
		u.cache = newOwnerCache(ttl, capacity)
	}
}

// UTXOSet is the UTXO index over a key-value store.
type UTXOSet struct {
	mu      sync.RWMutex
	store   storage.Store
	ledger  Ledger
	deriver address.Deriver
	logger  zerolog.Logger
	cache   *ownerCache
}

// New returns a UTXOSet over an opened store. The store stays owned by the
// caller.
func New(store storage.Store, ledger Ledger, deriver address.Deriver, logger zerolog.Logger, opts ...Option) *UTXOSet {
	initPrometheusMetrics()

	u := &UTXOSet{
		store:   store,
		ledger:  ledger,
		deriver: deriver,
		logger:  logger.With().Str("component", "utxoset").Logger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Reindex replaces the index with the ledger's current unspent outputs and
// returns the number of transaction ids written.
//
// Ledger and key errors abort before the store is touched, leaving the
// previous index in place. A store fault after the reset leaves a partial
// index; the error is returned and Reindex must be run again.
func (u *UTXOSet) Reindex() (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	start := time.Now()
	u.logger.Info().Msg("reindex")

	n, err := u.reindex()
	if u.cache != nil {
		u.cache.invalidate()
	}
	if err != nil {
		prometheusReindexErrors.Inc()
		u.logger.Error().Err(err).Int("written", n).Msg("reindex aborted, index is stale")
		return n, fmt.Errorf("%w: %w", ErrReindexFailed, err)
	}

	prometheusReindex.Inc()
	prometheusIndexedEntries.Set(float64(n))
	u.logger.Info().Int("transactions", n).Dur("took", time.Since(start)).Msg("reindex complete")
	return n, nil
}

type indexEntry struct {
	key   []byte
	value []byte
}

func (u *UTXOSet) reindex() (int, error) {
	utxos, err := u.ledger.FindUnspentOutputs()
	if err != nil {
		return 0, errors.Wrap(err, "ledger unspent outputs")
	}

	entries := make([]indexEntry, 0, len(utxos))
	for txID, record := range utxos {
		key, err := types.HashFromHex(txID)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidTxID, "%q: %v", txID, err)
		}
		// A transaction with nothing unspent has no entry.
		if record == nil || len(record.Outputs) == 0 {
			continue
		}
		entries = append(entries, indexEntry{key: key.Bytes(), value: record.Encode()})
	}

	if err := u.store.Reset(); err != nil {
		return 0, errors.Wrap(err, "reset index")
	}
	for i, e := range entries {
		if err := u.store.Put(e.key, e.value); err != nil {
			return i, errors.Wrapf(err, "write %x", e.key)
		}
	}
	return len(entries), nil
}

// scan visits every output owned by ownerKey in store-iteration order.
// Unreadable entries are skipped and recorded in the report. Only a failure
// to enumerate the index is returned as an error.
func (u *UTXOSet) scan(owner []byte, visit func(o ownedOutput)) (*ScanReport, error) {
	keys, err := u.store.Keys()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate index")
	}

	report := &ScanReport{Entries: len(keys)}
	for _, key := range keys {
		txID := hex.EncodeToString(key)

		data, err := u.store.Get(key)
		if err != nil {
			u.logger.Warn().Str("txid", txID).Err(err).Msg("skipping unreadable index entry")
			report.skip(txID, err)
			continue
		}
		record, err := types.DecodeOutputRecord(data)
		if err != nil {
			u.logger.Warn().Str("txid", txID).Err(err).Msg("skipping undecodable index entry")
			report.skip(txID, err)
			continue
		}
		report.Decoded++

		for i, out := range record.Outputs {
			if address.Equal(owner, out.OwnerCommitment) {
				visit(ownedOutput{TxID: txID, Position: uint32(i), Output: out})
			}
		}
	}
	return report, nil
}

// owned returns every output owned by ownerKey, from the cache when enabled.
// Callers hold u.mu for reading.
func (u *UTXOSet) owned(ownerKey []byte) ([]ownedOutput, *ScanReport, error) {
	owner := u.deriver.Derive(ownerKey)
	cacheKey := address.Hex(owner)

	if u.cache != nil {
		if view, ok := u.cache.get(cacheKey); ok {
			prometheusCacheHits.Inc()
			report := view.report
			return view.outputs, &report, nil
		}
	}

	var outputs []ownedOutput
	report, err := u.scan(owner, func(o ownedOutput) {
		outputs = append(outputs, o)
	})
	if err != nil {
		return nil, nil, err
	}

	if u.cache != nil {
		u.cache.set(cacheKey, &ownerView{outputs: outputs, report: *report})
	}
	return outputs, report, nil
}

// SelectedOutput is an output picked to fund a payment, with its position in
// the indexed record of TxID.
type SelectedOutput struct {
	TxID     string
	Position uint32
	Output   types.TransactionOutput
}

// FindSpendableOutputs selects outputs owned by ownerKey until their total
// reaches amount. Every entry is still visited after the target is met. The
// returned Amount is below amount when funds are insufficient, and is zero
// for a zero target.
func (u *UTXOSet) FindSpendableOutputs(ownerKey []byte, amount types.Amount) (*types.SpendableOutputs, *ScanReport, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	defer observe("find_spendable_outputs", time.Now())

	spendable, _, report, err := u.selectSpendable(ownerKey, amount)
	return spendable, report, err
}

// SelectOutputs makes the same selection as FindSpendableOutputs and returns
// the selected outputs themselves, read from a single view of the index.
func (u *UTXOSet) SelectOutputs(ownerKey []byte, amount types.Amount) (*types.SpendableOutputs, []SelectedOutput, *ScanReport, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	defer observe("select_outputs", time.Now())

	return u.selectSpendable(ownerKey, amount)
}

// selectSpendable is the accumulation pass. Callers hold u.mu for reading.
func (u *UTXOSet) selectSpendable(ownerKey []byte, amount types.Amount) (*types.SpendableOutputs, []SelectedOutput, *ScanReport, error) {
	outputs, report, err := u.owned(ownerKey)
	if err != nil {
		return nil, nil, nil, err
	}

	spendable := types.NewSpendableOutputs()
	var selected []SelectedOutput
	for _, o := range outputs {
		if spendable.Amount >= amount {
			continue
		}
		if spendable.Add(o.TxID, o.Position) {
			spendable.Amount = addSaturating(spendable.Amount, o.Output.Value)
			selected = append(selected, SelectedOutput{TxID: o.TxID, Position: o.Position, Output: o.Output})
		}
	}
	return spendable, selected, report, nil
}

// FindUTXO returns every indexed output owned by ownerKey.
func (u *UTXOSet) FindUTXO(ownerKey []byte) ([]types.TransactionOutput, *ScanReport, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	defer observe("find_utxo", time.Now())

	outputs, report, err := u.owned(ownerKey)
	if err != nil {
		return nil, nil, err
	}

	utxos := make([]types.TransactionOutput, 0, len(outputs))
	for _, o := range outputs {
		utxos = append(utxos, o.Output)
	}
	return utxos, report, nil
}

// Balance sums every indexed output owned by ownerKey.
func (u *UTXOSet) Balance(ownerKey []byte) (types.Amount, *ScanReport, error) {
	utxos, report, err := u.FindUTXO(ownerKey)
	if err != nil {
		return 0, nil, err
	}

	var total types.Amount
	for _, out := range utxos {
		total = addSaturating(total, out.Value)
	}
	return total, report, nil
}

// CountTransactions returns the number of transaction ids in the index.
func (u *UTXOSet) CountTransactions() (int, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	keys, err := u.store.Keys()
	if err != nil {
		return 0, errors.Wrap(err, "enumerate index")
	}
	return len(keys), nil
}

// Record returns the indexed record for txID.
func (u *UTXOSet) Record(txID types.TxID) (*types.OutputRecord, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	data, err := u.store.Get(txID.Bytes())
	if err != nil {
		return nil, err
	}
	return types.DecodeOutputRecord(data)
}

func observe(query string, start time.Time) {
	prometheusQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

func addSaturating(a, b types.Amount) types.Amount {
	if sum := a + b; sum >= a {
		return sum
	}
	return types.Amount(^uint64(0))
}
