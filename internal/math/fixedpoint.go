package math

import (
	"errors"
	"math/bits"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	ErrOverflow       = errors.New("math overflow")
	ErrUnderflow      = errors.New("math underflow")
	ErrDivideByZero   = errors.New("division by zero")
	ErrInvalidDecimal = errors.New("invalid fixed-point decimal")
)

// FractionDecimals is the number of decimal places carried by a Fraction.
const FractionDecimals = 18

// Fraction is an unsigned fixed-point number scaled by 10^18.
// One (1e18) represents 1.0. Risk parameters and per-second interest
// rates are stored as Fractions.
type Fraction uint64

const (
	Zero Fraction = 0
	One  Fraction = 1_000_000_000_000_000_000
)

var (
	wad = uint256.NewInt(uint64(One))
	// ray is the internal precision of the compounding code.
	ray = new(uint256.Int).Mul(wad, uint256.NewInt(1_000_000_000))
)

// WAD returns 10^18 as a fresh uint256.
func WAD() *uint256.Int { return new(uint256.Int).Set(wad) }

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven
)

// MulDiv returns x*y/d with a full 512-bit intermediate product.
// The result must fit in 256 bits.
func MulDiv(x, y, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}

	q, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}

	if mode == RoundDown {
		return q, nil
	}

	r := new(uint256.Int).MulMod(x, y, d)
	if r.IsZero() {
		return q, nil
	}

	roundUp := mode == RoundUp
	if mode == RoundHalfEven {
		// Compare 2r with d; ties go to the even quotient.
		twice, carry := new(uint256.Int).AddOverflow(r, r)
		cmp := twice.Cmp(d)
		if carry || cmp > 0 {
			roundUp = true
		} else if cmp == 0 {
			roundUp = q.Uint64()&1 == 1
		}
	}

	if roundUp {
		if _, overflow := q.AddOverflow(q, uint256.NewInt(1)); overflow {
			return nil, ErrOverflow
		}
	}

	return q, nil
}

// MulDivU64 is MulDiv restricted to the u64 domain: the result must fit in
// 64 bits or ErrOverflow is returned.
func MulDivU64(x, y, d uint64, mode RoundingMode) (uint64, error) {
	q, err := MulDiv(uint256.NewInt(x), uint256.NewInt(y), uint256.NewInt(d), mode)
	if err != nil {
		return 0, err
	}
	return ToUint64(q)
}

// ToUint64 narrows v, failing with ErrOverflow when it does not fit.
func ToUint64(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// MulFraction scales amount by f. Close factors above One can push the
// product past the u64 domain; that case fails with ErrOverflow.
func MulFraction(amount uint64, f Fraction, mode RoundingMode) (uint64, error) {
	return MulDivU64(amount, uint64(f), uint64(One), mode)
}

// Int returns f as a uint256 scaled by 10^18.
func (f Fraction) Int() *uint256.Int {
	return uint256.NewInt(uint64(f))
}

// Add returns f+g, failing on overflow.
func (f Fraction) Add(g Fraction) (Fraction, error) {
	sum, err := CheckedAdd(uint64(f), uint64(g))
	return Fraction(sum), err
}

// Cmp compares f with g.
func (f Fraction) Cmp(g Fraction) int {
	switch {
	case f < g:
		return -1
	case f > g:
		return 1
	}
	return 0
}

// Decimal returns the exact decimal value of f.
func (f Fraction) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(uint256.Int).SetUint64(uint64(f)).ToBig(), -FractionDecimals)
}

func (f Fraction) String() string {
	return f.Decimal().String()
}

func (f Fraction) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fraction) UnmarshalText(text []byte) error {
	parsed, err := ParseFraction(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFraction parses a decimal string such as "0.8" or "1.5e-9".
func ParseFraction(s string) (Fraction, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Join(ErrInvalidDecimal, err)
	}
	return FractionFromDecimal(d)
}

// FractionFromDecimal converts d into a Fraction. Negative values and
// values with more than 18 decimal places are rejected rather than rounded.
func FractionFromDecimal(d decimal.Decimal) (Fraction, error) {
	if d.IsNegative() {
		return 0, ErrInvalidDecimal
	}

	scaled := d.Shift(FractionDecimals)
	if !scaled.IsInteger() {
		return 0, ErrInvalidDecimal
	}

	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow || !v.IsUint64() {
		return 0, ErrOverflow
	}

	return Fraction(v.Uint64()), nil
}

// MustFraction is ParseFraction for constants and tests.
func MustFraction(s string) Fraction {
	f, err := ParseFraction(s)
	if err != nil {
		panic(err)
	}
	return f
}
