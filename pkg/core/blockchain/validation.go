package blockchain

import (
	"time"

	"github.com/chronodrachma/utxod/pkg/core/address"
	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/pkg/errors"
)

var (
	ErrInvalidPrevHash    = errors.New("block previous hash does not match parent")
	ErrInvalidHeight      = errors.New("block height is not parent height + 1")
	ErrTimestampTooOld    = errors.New("block timestamp is before parent timestamp")
	ErrTimestampTooFar    = errors.New("block timestamp is too far in the future")
	ErrInvalidBlockHash   = errors.New("block hash does not match header")
	ErrInvalidMerkleRoot  = errors.New("merkle root does not match transactions")
	ErrNoCoinbaseTx       = errors.New("block must contain exactly one coinbase transaction")
	ErrInvalidCoinbaseAmt = errors.New("coinbase amount does not match block reward")
	ErrInvalidCoinbasePos = errors.New("coinbase transaction must be first in block")
	ErrInvalidTxID        = errors.New("transaction id does not match contents")
	ErrInvalidOutput      = errors.New("transaction output is malformed")
	ErrMissingOutput      = errors.New("input references an unknown or spent output")
	ErrDoubleSpend        = errors.New("output spent twice in block")
	ErrWrongOwner         = errors.New("input key does not own the referenced output")
	ErrOutputsExceedInput = errors.New("transaction outputs exceed inputs")
)

// MaxFutureBlockTime is how far ahead of local time a block's timestamp can be.
const MaxFutureBlockTime = 2 * time.Hour

// ValidateBlock performs structural validation of a block against its parent.
// Spends are checked by the chain, which owns the unspent-output state.
func ValidateBlock(block *types.Block, parent *types.Block, reward types.Amount) error {
	// 1. Height continuity.
	if block.Header.Height != parent.Header.Height+1 {
		return ErrInvalidHeight
	}

	// 2. Previous block hash integrity.
	if block.Header.PrevBlockHash != parent.Hash {
		return ErrInvalidPrevHash
	}

	// 3. Timestamp must be after parent.
	if !block.Header.Timestamp.After(parent.Header.Timestamp) {
		return ErrTimestampTooOld
	}

	// 4. Timestamp must not be too far in the future.
	if block.Header.Timestamp.After(time.Now().Add(MaxFutureBlockTime)) {
		return ErrTimestampTooFar
	}

	return validateBlockInternal(block, reward)
}

// ValidateGenesis checks that the genesis block is well-formed.
func ValidateGenesis(genesis *types.Block, reward types.Amount) error {
	if genesis.Header.Height != 0 {
		return ErrInvalidHeight
	}
	if genesis.Header.PrevBlockHash != types.ZeroHash {
		return ErrInvalidPrevHash
	}
	return validateBlockInternal(genesis, reward)
}

// validateBlockInternal checks merkle root, block hash, coinbase and outputs.
func validateBlockInternal(block *types.Block, reward types.Amount) error {
	// 5. Merkle root.
	if block.Header.MerkleRoot != types.ComputeMerkleRoot(block.Transactions) {
		return ErrInvalidMerkleRoot
	}

	// 6. Block hash (SHA-256 of header).
	if block.Hash != block.ComputeHash() {
		return ErrInvalidBlockHash
	}

	// 7. Coinbase validation: exactly one coinbase TX at position 0.
	coinbaseCount := 0
	for i, tx := range block.Transactions {
		if tx.IsCoinbase() {
			if i != 0 {
				return ErrInvalidCoinbasePos
			}
			coinbaseCount++
		}
	}
	if coinbaseCount != 1 {
		return ErrNoCoinbaseTx
	}

	// 8. Coinbase amount must equal block reward.
	if block.Transactions[0].TotalOutput() != reward {
		return ErrInvalidCoinbaseAmt
	}

	// 9. Transaction identity and output shape.
	for _, tx := range block.Transactions {
		if tx.ID != tx.ComputeID() {
			return errors.Wrapf(ErrInvalidTxID, "tx %s", tx.ID)
		}
		if err := validateOutputs(tx); err != nil {
			return err
		}
	}
	return nil
}

func validateOutputs(tx *types.Transaction) error {
	if len(tx.Outputs) == 0 {
		return errors.Wrapf(ErrInvalidOutput, "tx %s has no outputs", tx.ID)
	}
	for i, out := range tx.Outputs {
		if out.Index != uint32(i) {
			return errors.Wrapf(ErrInvalidOutput, "tx %s output %d carries index %d", tx.ID, i, out.Index)
		}
		if len(out.OwnerCommitment) != address.Size {
			return errors.Wrapf(ErrInvalidOutput, "tx %s output %d commitment is %d bytes",
				tx.ID, i, len(out.OwnerCommitment))
		}
	}
	return nil
}
