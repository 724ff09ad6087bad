// Package quantize converts real-valued amounts into exchange-legal trade
// sizes and prices.
package quantize

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places a Size value is rounded to.
const Precision int32 = 8

// ConfigurationError reports a symbol that has no quantization parameters.
type ConfigurationError struct {
	Symbol string
	Param  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no %s registered for symbol %s", e.Param, e.Symbol)
}

// LotRange is the lot step and upper bound of a tradable quantity.
type LotRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Config holds the per-symbol lot and price step tables. It is immutable
// once built and safe for concurrent use.
type Config struct {
	lots  map[string]LotRange
	steps map[string]decimal.Decimal
}

// NewConfig builds a Config from min lot, max lot and price step tables.
// Every symbol present in minLot must also be present in maxLot.
func NewConfig(minLot, maxLot, steps map[string]decimal.Decimal) (*Config, error) {
	c := &Config{
		lots:  make(map[string]LotRange, len(minLot)),
		steps: make(map[string]decimal.Decimal, len(steps)),
	}

	for symbol, lo := range minLot {
		hi, ok := maxLot[symbol]
		if !ok {
			return nil, &ConfigurationError{Symbol: symbol, Param: "max lot"}
		}
		if !lo.IsPositive() {
			return nil, fmt.Errorf("invalid min lot for %s: %s", symbol, lo)
		}
		if hi.LessThan(lo) {
			return nil, fmt.Errorf("invalid max lot for %s: %s < %s", symbol, hi, lo)
		}
		c.lots[symbol] = LotRange{Min: lo, Max: hi}
	}

	for symbol, step := range steps {
		if !step.IsPositive() {
			return nil, fmt.Errorf("invalid step value for %s: %s", symbol, step)
		}
		c.steps[symbol] = step
	}

	return c, nil
}

// Lot returns the lot range registered for symbol.
func (c *Config) Lot(symbol string) (LotRange, error) {
	r, ok := c.lots[symbol]
	if !ok {
		return LotRange{}, &ConfigurationError{Symbol: symbol, Param: "min/max lot"}
	}
	return r, nil
}

// Step returns the price step registered for symbol.
func (c *Config) Step(symbol string) (decimal.Decimal, error) {
	s, ok := c.steps[symbol]
	if !ok {
		return decimal.Decimal{}, &ConfigurationError{Symbol: symbol, Param: "price step"}
	}
	return s, nil
}

// Check verifies that every symbol has both a lot range and a price step.
func (c *Config) Check(symbols ...string) error {
	for _, s := range symbols {
		if _, err := c.Lot(s); err != nil {
			return err
		}
		if _, err := c.Step(s); err != nil {
			return err
		}
	}
	return nil
}
