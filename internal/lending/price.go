package lending

import (
	fpmath "LendLedger/internal/math"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	MinPriceExpo = -18
	MaxPriceExpo = 0
)

// Quote is an oracle price: Price * 10^Expo quote units per token.
type Quote struct {
	Asset       AssetID `json:"asset"`
	Price       int64   `json:"price"`
	Expo        int32   `json:"expo"`
	PublishedAt int64   `json:"published_at"` // unix seconds
}

func (q Quote) Validate() error {
	if q.Price <= 0 {
		return fmt.Errorf("%w: %s price %d", ErrInvalidPrice, q.Asset, q.Price)
	}
	if q.Expo < MinPriceExpo || q.Expo > MaxPriceExpo {
		return fmt.Errorf("%w: %s expo %d outside [%d, %d]", ErrInvalidPrice, q.Asset, q.Expo, MinPriceExpo, MaxPriceExpo)
	}
	return nil
}

// Decimal returns the price as a decimal (for display only).
func (q Quote) Decimal() decimal.Decimal {
	return decimal.New(q.Price, q.Expo)
}

// unitValue is the value of one token scaled by 10^18.
func (q Quote) unitValue() (*uint256.Int, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(fpmath.FractionDecimals+int(q.Expo))))
	return new(uint256.Int).Mul(uint256.NewInt(uint64(q.Price)), scale), nil
}

// Value returns amount * price in quote units scaled by 10^18. The product
// always fits in 256 bits for a u64 amount and an i64 price.
func Value(amount uint64, q Quote) (*uint256.Int, error) {
	unit, err := q.unitValue()
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Mul(uint256.NewInt(amount), unit), nil
}

// AmountForValue converts a value back into token units.
func AmountForValue(value *uint256.Int, q Quote, mode fpmath.RoundingMode) (uint64, error) {
	unit, err := q.unitValue()
	if err != nil {
		return 0, err
	}
	amount, err := fpmath.MulDiv(value, uint256.NewInt(1), unit, mode)
	if err != nil {
		return 0, err
	}
	return fpmath.ToUint64(amount)
}

// ScaleValue multiplies a value by a fraction.
func ScaleValue(value *uint256.Int, f fpmath.Fraction, mode fpmath.RoundingMode) (*uint256.Int, error) {
	return fpmath.MulDiv(value, f.Int(), fpmath.WAD(), mode)
}
