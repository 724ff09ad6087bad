package quantize

import (
	"github.com/shopspring/decimal"
)

// Size is a trade quantity expressed as a lot count against the symbol's
// min lot. Its value is always a multiple of the min lot within [0, max lot].
type Size struct {
	symbol string
	lot    int64
	value  decimal.Decimal
	raw    decimal.Decimal
}

// SizeFromValue quantizes value down to a whole number of lots.
func (c *Config) SizeFromValue(symbol string, value float64) (Size, error) {
	r, err := c.Lot(symbol)
	if err != nil {
		return Size{}, err
	}

	raw := decimal.NewFromFloat(value)
	lot := raw.Div(r.Min).Floor().IntPart()
	s := newSize(symbol, lot, r)
	s.raw = raw
	return s, nil
}

// SizeFromLot builds a Size from a lot count. Negative counts are allowed and
// yield a zero value.
func (c *Config) SizeFromLot(symbol string, lot int64) (Size, error) {
	r, err := c.Lot(symbol)
	if err != nil {
		return Size{}, err
	}

	s := newSize(symbol, lot, r)
	s.raw = s.value
	return s, nil
}

func newSize(symbol string, lot int64, r LotRange) Size {
	v := decimal.NewFromInt(lot).Mul(r.Min)
	if v.IsNegative() {
		v = decimal.Zero
	}
	if v.GreaterThan(r.Max) {
		// keep the clamped value on the lot grid
		v = r.Max.Div(r.Min).Floor().Mul(r.Min)
	}

	return Size{
		symbol: symbol,
		lot:    lot,
		value:  v.Round(Precision),
	}
}

func (s Size) Symbol() string { return s.symbol }

// Lot returns the lot count the size was built from.
func (s Size) Lot() int64 { return s.lot }

// Decimal returns the quantized value.
func (s Size) Decimal() decimal.Decimal { return s.value }

// Float returns the quantized value as a float64.
func (s Size) Float() float64 {
	f, _ := s.value.Float64()
	return f
}

// Raw returns the unquantized magnitude the size was built from.
func (s Size) Raw() float64 {
	f, _ := s.raw.Float64()
	return f
}

// IsZero reports whether the quantized value is zero.
func (s Size) IsZero() bool { return s.value.IsZero() }

// String returns the wire representation of the quantized value.
func (s Size) String() string { return s.value.String() }
