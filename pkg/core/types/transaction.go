package types

import (
	"encoding/binary"
	"time"
)

// TxInput spends output OutputIndex of transaction TxID.
type TxInput struct {
	TxID        Hash
	OutputIndex uint32
	PubKey      []byte // Spender's public key.
}

// Transaction moves value from spent outputs to new outputs. A transaction
// without inputs is a coinbase.
type Transaction struct {
	ID        Hash
	Timestamp time.Time
	Nonce     uint64 // Block height for coinbase.
	Inputs    []TxInput
	Outputs   []TransactionOutput
}

// IsCoinbase reports whether the transaction mints new value.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 0
}

// Serialize returns a deterministic byte encoding of the transaction fields
// (excluding ID) for hashing.
//
// Layout: Timestamp(8) || Nonce(8) || nIn(4) || inputs || nOut(4) || outputs
// where an input is TxID(32) || OutputIndex(4) || len(PubKey)(4) || PubKey and
// an output is Value(8) || len(Commitment)(4) || Commitment || len(Metadata)(4) || Metadata.
func (tx *Transaction) Serialize() []byte {
	buf := make([]byte, 0, 24+len(tx.Inputs)*72+len(tx.Outputs)*40)
	buf = binary.BigEndian.AppendUint64(buf, uint64(tx.Timestamp.Unix()))
	buf = binary.BigEndian.AppendUint64(buf, tx.Nonce)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.TxID[:]...)
		buf = binary.BigEndian.AppendUint32(buf, in.OutputIndex)
		buf = appendBytes(buf, in.PubKey)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.BigEndian.AppendUint64(buf, uint64(out.Value))
		buf = appendBytes(buf, out.OwnerCommitment)
		buf = appendBytes(buf, out.Metadata)
	}
	return buf
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// ComputeID computes the SHA-256 hash of the serialized transaction fields.
func (tx *Transaction) ComputeID() Hash {
	return ComputeSHA256(tx.Serialize())
}

// Finalize numbers the outputs by position and sets the transaction ID.
func (tx *Transaction) Finalize() {
	for i := range tx.Outputs {
		tx.Outputs[i].Index = uint32(i)
	}
	tx.ID = tx.ComputeID()
}

// TotalOutput sums the value of all outputs.
func (tx *Transaction) TotalOutput() Amount {
	var total Amount
	for _, out := range tx.Outputs {
		total += out.Value
	}
	return total
}

// NewCoinbaseTx creates a coinbase transaction paying reward to the owner commitment.
func NewCoinbaseTx(owner []byte, blockHeight uint64, reward Amount, timestamp time.Time) *Transaction {
	tx := &Transaction{
		Timestamp: timestamp,
		Nonce:     blockHeight,
		Outputs: []TransactionOutput{
			{Value: reward, OwnerCommitment: append([]byte(nil), owner...)},
		},
	}
	tx.Finalize()
	return tx
}
