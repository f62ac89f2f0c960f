package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// UnitsPerCoin is the number of base units in one coin. Amounts and fees
// are always held in base units.
const UnitsPerCoin = int64(100_000_000)

const coinExp = 8

var unitsPerCoinDec = decimal.NewFromInt(UnitsPerCoin)

// ErrInvalidAmount is returned when a coin amount has no base unit form.
var ErrInvalidAmount = errors.New("invalid amount")

// ToCoins converts base units into coins.
func ToCoins(units uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -coinExp)
}

// FromCoins converts a coin amount into base units. The amount must not be
// negative nor carry more precision than a base unit.
func FromCoins(coins decimal.Decimal) (uint64, error) {
	units := coins.Mul(unitsPerCoinDec)

	switch {
	case units.IsNegative():
		return 0, fmt.Errorf("%s is negative: %w", coins, ErrInvalidAmount)
	case !units.Equal(units.Truncate(0)):
		return 0, fmt.Errorf("%s is below one unit: %w", coins, ErrInvalidAmount)
	case units.BigInt().BitLen() > 64:
		return 0, fmt.Errorf("%s overflows: %w", coins, ErrInvalidAmount)
	}

	return units.BigInt().Uint64(), nil
}

// ParseCoins parses a coin amount such as "1.5" into base units.
func ParseCoins(s string) (uint64, error) {
	coins, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidAmount)
	}

	return FromCoins(coins)
}
