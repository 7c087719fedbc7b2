package types

import (
	"encoding/binary"
	"time"
)

// BlockHeaderSize is the length of a serialized BlockHeader.
const BlockHeaderSize = 84

// BlockHeader contains all metadata for a block.
type BlockHeader struct {
	Version       uint32
	Height        uint64
	Timestamp     time.Time
	PrevBlockHash Hash
	MerkleRoot    Hash
}

// Serialize returns a deterministic 84-byte encoding of the header.
// Field order: Version(4) || Height(8) || Timestamp(8) || PrevBlockHash(32) || MerkleRoot(32)
func (h *BlockHeader) Serialize() []byte {
	buf := make([]byte, BlockHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Version)
	binary.BigEndian.PutUint64(buf[4:12], h.Height)
	binary.BigEndian.PutUint64(buf[12:20], uint64(h.Timestamp.Unix()))
	copy(buf[20:52], h.PrevBlockHash[:])
	copy(buf[52:84], h.MerkleRoot[:])
	return buf
}

// Block is a complete block: header + body (transactions).
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
	Hash         Hash // SHA-256 of the serialized header.
}

// ComputeHash computes the SHA-256 of the serialized header.
func (b *Block) ComputeHash() Hash {
	return ComputeSHA256(b.Header.Serialize())
}

// NewBlock assembles a block on top of parent (nil for genesis) and seals its hash.
func NewBlock(parent *Block, txs []*Transaction, timestamp time.Time) *Block {
	header := BlockHeader{
		Version:    1,
		Timestamp:  timestamp,
		MerkleRoot: ComputeMerkleRoot(txs),
	}
	if parent != nil {
		header.Height = parent.Header.Height + 1
		header.PrevBlockHash = parent.Hash
	}
	block := &Block{Header: header, Transactions: txs}
	block.Hash = block.ComputeHash()
	return block
}

// ComputeMerkleRoot computes the SHA-256 Merkle tree root of the transaction IDs.
func ComputeMerkleRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return ZeroHash
	}

	hashes := make([]Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.ID
	}

	for len(hashes) > 1 {
		var next []Hash
		for i := 0; i < len(hashes); i += 2 {
			right := hashes[i]
			if i+1 < len(hashes) {
				right = hashes[i+1]
			}
			// Odd element: paired with itself.
			combined := append(hashes[i].Bytes(), right[:]...)
			next = append(next, ComputeSHA256(combined))
		}
		hashes = next
	}

	return hashes[0]
}
