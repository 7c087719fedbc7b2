// Package wallet manages Ed25519 keys and builds transfers funded from the
// UTXO index.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/chronodrachma/utxod/pkg/core/address"
	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/chronodrachma/utxod/pkg/core/utxo"
	"github.com/pkg/errors"
)

var (
	ErrInvalidKey        = errors.New("invalid private key")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrZeroAmount        = errors.New("transfer amount must be positive")
)

// GenerateKeyPair generates a new Ed25519 keypair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// SaveKey saves the private key to a file in hex format.
func SaveKey(filename string, privKey ed25519.PrivateKey) error {
	hexKey := hex.EncodeToString(privKey)
	return os.WriteFile(filename, []byte(hexKey), 0600)
}

// LoadKey loads a private key from a file (hex format).
func LoadKey(filename string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(ErrInvalidKey, "length %d", len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

// PublicKey returns the public half of a private key.
func PublicKey(privKey ed25519.PrivateKey) ed25519.PublicKey {
	return privKey.Public().(ed25519.PublicKey)
}

// Address derives the owner commitment for pubKey.
func Address(d address.Deriver, pubKey []byte) []byte {
	return d.Derive(pubKey)
}

// SpendableFinder selects an owner's outputs from the UTXO index.
// *utxo.UTXOSet implements it.
type SpendableFinder interface {
	SelectOutputs(ownerKey []byte, amount types.Amount) (*types.SpendableOutputs, []utxo.SelectedOutput, *utxo.ScanReport, error)
}

// BuildTransfer creates a transaction paying amount from the owner of
// fromKey to the owner of toKey, with any excess returned to the sender.
// Inputs are chosen from the index, so the index must be current.
func BuildTransfer(finder SpendableFinder, d address.Deriver, fromKey, toKey []byte, amount types.Amount, now time.Time) (*types.Transaction, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}

	selection, selected, _, err := finder.SelectOutputs(fromKey, amount)
	if err != nil {
		return nil, err
	}
	if selection.Amount < amount {
		return nil, errors.Wrapf(ErrInsufficientFunds, "have %s, need %s", selection.Amount, amount)
	}

	tx := &types.Transaction{Timestamp: now}
	var in types.Amount
	for _, sel := range selected {
		txID, err := types.HashFromHex(sel.TxID)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, types.TxInput{
			TxID:        txID,
			OutputIndex: sel.Output.Index,
			PubKey:      append([]byte(nil), fromKey...),
		})
		in += sel.Output.Value
	}
	if in != selection.Amount {
		return nil, errors.Errorf("selected outputs sum to %s, selection reports %s", in, selection.Amount)
	}

	tx.Outputs = append(tx.Outputs, types.TransactionOutput{Value: amount, OwnerCommitment: d.Derive(toKey)})
	if change := in - amount; change > 0 {
		tx.Outputs = append(tx.Outputs, types.TransactionOutput{Value: change, OwnerCommitment: d.Derive(fromKey)})
	}
	tx.Finalize()
	return tx, nil
}
