// Package address derives the owner commitments embedded in transaction
// outputs from public keys.
//
// The same Deriver must be used where an output's owner commitment is
// produced and where a query key is matched against it.
package address

import (
	"bytes"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Size is the length in bytes of a derived address.
const Size = 20

// Deriver turns a public key into the address that owns outputs.
type Deriver interface {
	Derive(key []byte) []byte
}

// KeccakDeriver derives an address as the last Size bytes of the legacy
// Keccak-256 digest of the key.
type KeccakDeriver struct{}

// NewKeccakDeriver returns the default address deriver.
func NewKeccakDeriver() *KeccakDeriver {
	return &KeccakDeriver{}
}

// Derive implements Deriver.
func (KeccakDeriver) Derive(key []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(key)
	sum := h.Sum(nil)
	addr := make([]byte, Size)
	copy(addr, sum[len(sum)-Size:])
	return addr
}

// Hex returns the canonical lowercase hex encoding of an address.
func Hex(addr []byte) string {
	return hex.EncodeToString(addr)
}

// Equal reports whether two addresses are identical.
func Equal(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// Owns reports whether the address derived from key equals commitment.
func Owns(d Deriver, key, commitment []byte) bool {
	return Equal(d.Derive(key), commitment)
}
