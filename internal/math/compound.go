package math

import (
	"errors"

	"github.com/holiman/uint256"
)

var ErrNegativeElapsed = errors.New("negative elapsed time")

// maxExponent bounds rate*elapsed (as a ray). e^45 already exceeds the u64
// domain for any principal >= 1, so larger exponents are overflow.
var maxExponent = new(uint256.Int).Mul(ray, uint256.NewInt(45))

// SecondsPerYear converts annual rates to per-second rates.
const SecondsPerYear = 365 * 24 * 60 * 60

// Accrue returns principal * e^(rate*elapsed), rounded down.
//
// rate is a per-second Fraction and elapsed is in seconds. A zero elapsed
// time returns principal unchanged; a negative one fails with
// ErrNegativeElapsed.
func Accrue(principal uint64, rate Fraction, elapsed int64) (uint64, error) {
	if elapsed < 0 {
		return 0, ErrNegativeElapsed
	}
	if elapsed == 0 || rate == 0 || principal == 0 {
		return principal, nil
	}

	factor, err := GrowthFactor(rate, elapsed)
	if err != nil {
		return 0, err
	}

	grown, err := MulDiv(uint256.NewInt(principal), factor, ray, RoundDown)
	if err != nil {
		return 0, err
	}
	return ToUint64(grown)
}

// GrowthFactor returns e^(rate*elapsed) as a ray (10^27 == 1.0).
func GrowthFactor(rate Fraction, elapsed int64) (*uint256.Int, error) {
	if elapsed < 0 {
		return nil, ErrNegativeElapsed
	}

	// x = rate * elapsed, lifted from 18 to 27 decimals
	x, overflow := new(uint256.Int).MulOverflow(rate.Int(), uint256.NewInt(uint64(elapsed)))
	if overflow {
		return nil, ErrOverflow
	}
	x.Mul(x, uint256.NewInt(1_000_000_000))

	return expRay(x)
}

// expRay evaluates e^x for a ray-scaled x using integer arithmetic only:
// halve x until it is at most 1.0, sum the Taylor series until the next
// term vanishes, then square the result back up.
func expRay(x *uint256.Int) (*uint256.Int, error) {
	if x.IsZero() {
		return new(uint256.Int).Set(ray), nil
	}
	if x.Gt(maxExponent) {
		return nil, ErrOverflow
	}

	y := new(uint256.Int).Set(x)
	halvings := 0
	for y.Gt(ray) {
		y.Rsh(y, 1)
		halvings++
	}

	sum := new(uint256.Int).Set(ray)
	term := new(uint256.Int).Set(ray)
	for n := uint64(1); ; n++ {
		next, err := MulDiv(term, y, ray, RoundDown)
		if err != nil {
			return nil, err
		}
		next.Div(next, uint256.NewInt(n))
		if next.IsZero() {
			break
		}
		term = next
		if _, overflow := sum.AddOverflow(sum, term); overflow {
			return nil, ErrOverflow
		}
	}

	for i := 0; i < halvings; i++ {
		squared, err := MulDiv(sum, sum, ray, RoundDown)
		if err != nil {
			return nil, err
		}
		sum = squared
	}

	return sum, nil
}
