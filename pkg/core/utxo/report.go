package utxo

import (
	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/chronodrachma/utxod/pkg/storage"
	"github.com/pkg/errors"
)

// SkippedEntry is an index entry a scan could not use.
type SkippedEntry struct {
	TxID   string
	Reason error
}

// ScanReport summarizes one pass over the index.
type ScanReport struct {
	// Entries is the number of keys enumerated.
	Entries int
	// Decoded is the number of entries whose record was read and decoded.
	Decoded int
	Skipped []SkippedEntry
}

// Complete reports whether every enumerated entry was used.
func (r *ScanReport) Complete() bool {
	return len(r.Skipped) == 0
}

func (r *ScanReport) skip(txID string, reason error) {
	r.Skipped = append(r.Skipped, SkippedEntry{TxID: txID, Reason: reason})
	prometheusSkippedEntries.WithLabelValues(skipReason(reason)).Inc()
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, types.ErrRecordDecode):
		return skipReasonDecode
	case errors.Is(err, storage.ErrNotFound):
		return skipReasonMissing
	default:
		return skipReasonIO
	}
}
