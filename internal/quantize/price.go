package quantize

import (
	"github.com/shopspring/decimal"
)

// Price is a price snapped down to the symbol's step value.
type Price struct {
	symbol string
	value  decimal.Decimal
	raw    decimal.Decimal
	places int32
}

// PriceFromValue quantizes value down to the nearest step.
func (c *Config) PriceFromValue(symbol string, value float64) (Price, error) {
	step, err := c.Step(symbol)
	if err != nil {
		return Price{}, err
	}

	raw := decimal.NewFromFloat(value)
	places := -step.Exponent()
	if places < 0 {
		places = 0
	}

	return Price{
		symbol: symbol,
		value:  raw.Div(step).Floor().Mul(step).Round(places),
		raw:    raw,
		places: places,
	}, nil
}

func (p Price) Symbol() string { return p.symbol }

// Decimal returns the quantized price.
func (p Price) Decimal() decimal.Decimal { return p.value }

// Float returns the quantized price as a float64.
func (p Price) Float() float64 {
	f, _ := p.value.Float64()
	return f
}

// Raw returns the unquantized price.
func (p Price) Raw() float64 {
	f, _ := p.raw.Float64()
	return f
}

// IsZero reports whether the price is unset or quantized to zero.
func (p Price) IsZero() bool { return p.value.IsZero() }

// String formats the price with the step's declared precision.
func (p Price) String() string { return p.value.StringFixed(p.places) }
