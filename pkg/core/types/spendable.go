package types

import "sort"

// SpendableOutputs is the result of selecting an owner's outputs to fund a
// payment. Amount may fall short of the requested target; callers check
// sufficiency themselves.
type SpendableOutputs struct {
	Amount Amount
	// UnspentOutputs maps a hex transaction id to positions in that
	// transaction's indexed OutputRecord. Positions are unique per id.
	UnspentOutputs map[string][]uint32
}

// NewSpendableOutputs returns an empty selection.
func NewSpendableOutputs() *SpendableOutputs {
	return &SpendableOutputs{UnspentOutputs: make(map[string][]uint32)}
}

// Add records position idx of txID, ignoring a position already recorded.
// It reports whether the position was new.
func (s *SpendableOutputs) Add(txID string, idx uint32) bool {
	for _, existing := range s.UnspentOutputs[txID] {
		if existing == idx {
			return false
		}
	}
	s.UnspentOutputs[txID] = append(s.UnspentOutputs[txID], idx)
	return true
}

// Contains reports whether position idx of txID is selected.
func (s *SpendableOutputs) Contains(txID string, idx uint32) bool {
	for _, existing := range s.UnspentOutputs[txID] {
		if existing == idx {
			return true
		}
	}
	return false
}

// Outpoint names one selected output.
type Outpoint struct {
	TxID  string
	Index uint32
}

// Outpoints lists the selection ordered by transaction id then position.
func (s *SpendableOutputs) Outpoints() []Outpoint {
	var out []Outpoint
	for txID, indices := range s.UnspentOutputs {
		for _, idx := range indices {
			out = append(out, Outpoint{TxID: txID, Index: idx})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TxID != out[j].TxID {
			return out[i].TxID < out[j].TxID
		}
		return out[i].Index < out[j].Index
	})
	return out
}
