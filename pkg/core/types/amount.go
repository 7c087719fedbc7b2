package types

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// UnitsPerCoin defines the number of smallest indivisible units in one coin.
const UnitsPerCoin uint64 = 100_000_000

// coinExponent is the decimal exponent of one unit relative to one coin.
const coinExponent = -8

// Amount is a quantity of value in the smallest indivisible unit.
type Amount uint64

// NewAmountFromCoins converts whole coins to units.
func NewAmountFromCoins(coins uint64) Amount {
	return Amount(coins * UnitsPerCoin)
}

// Decimal returns the amount in coins as an exact decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), coinExponent)
}

// String renders the amount in coins with all eight fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(-coinExponent)
}

// DefaultBlockReward is the coinbase value when no network override is configured.
const DefaultBlockReward Amount = Amount(UnitsPerCoin)

// ParseAmount parses a coin quantity such as "1.5" into units. It rejects
// negative values, more than eight fractional digits and overflow.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse amount %q", s)
	}
	if d.IsNegative() {
		return 0, errors.Errorf("amount %q is negative", s)
	}
	units := d.Shift(-coinExponent)
	if !units.Equal(units.Truncate(0)) {
		return 0, errors.Errorf("amount %q has more than %d decimals", s, -coinExponent)
	}
	bi := units.BigInt()
	if !bi.IsUint64() {
		return 0, errors.Errorf("amount %q overflows", s)
	}
	return Amount(bi.Uint64()), nil
}
