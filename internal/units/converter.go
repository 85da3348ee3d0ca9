package units

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"pricetag/server/config"
)

var (
	// ErrUnsupportedUnit means the unit has no catalog entry and is not a count
	// unit. Callers must reject the record rather than store a wrong price.
	ErrUnsupportedUnit = errors.New("unsupported unit")

	// ErrInvalidQuantity means the quantity is zero, negative or non-finite.
	// Checked before any division so Inf/NaN never reaches persisted state.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidPrice means the price is non-positive or non-finite.
	ErrInvalidPrice = errors.New("invalid price")
)

// Converter turns a recorded (price, quantity, unit) observation into a price
// per standard unit of the unit's family, and expands a standardized price back
// into a display unit. All monetary outputs are rounded half-up to 2 decimals
// at the point of computation so the same value renders identically everywhere.
type Converter struct {
	catalog *config.UnitCatalog
}

func NewConverter(catalog *config.UnitCatalog) *Converter {
	if catalog == nil {
		catalog = config.DefaultUnitCatalog()
	}
	return &Converter{catalog: catalog}
}

// CatalogVersion returns the version of the rate table this converter uses.
func (c *Converter) CatalogVersion() string {
	return c.catalog.Version
}

// IsCountUnit reports whether the unit is priced per item (EA, PK).
func (c *Converter) IsCountUnit(unit string) bool {
	return c.catalog.IsCountUnit(unit)
}

// SameFamily reports whether two units belong to the same family. Units not in
// the catalog belong to no family.
func (c *Converter) SameFamily(a, b string) bool {
	fa, ok := c.catalog.Family(a)
	if !ok {
		return false
	}
	fb, ok := c.catalog.Family(b)
	if !ok {
		return false
	}
	return fa == fb
}

// StandardizePrice converts a recorded price for a quantity of a unit into the
// price per standard unit of that unit's family: price per item for count
// units, price per 100g for weight, price per liter for volume.
func (c *Converter) StandardizePrice(price, quantity float64, unit string) (float64, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) || quantity <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidQuantity, quantity)
	}

	p := decimal.NewFromFloat(price)
	q := decimal.NewFromFloat(quantity)

	if c.catalog.IsCountUnit(unit) {
		return round2(p.Div(q)), nil
	}

	rate, ok := c.catalog.Rate(unit)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedUnit, unit)
	}

	standardQuantity := q.Mul(decimal.NewFromFloat(rate))
	return round2(p.Div(standardQuantity)), nil
}

// ExpandToDisplayUnit expresses a standardized price per the target unit.
// Count-family targets, unknown targets and the empty target (no preference)
// all pass the standardized price through unchanged: the display path degrades
// gracefully instead of failing a render.
func (c *Converter) ExpandToDisplayUnit(standardPrice float64, targetUnit string) float64 {
	rate, ok := c.catalog.Rate(targetUnit)
	if !ok {
		return standardPrice
	}
	return round2(decimal.NewFromFloat(standardPrice).Mul(decimal.NewFromFloat(rate)))
}

// round2 rounds half away from zero to 2 decimal places. Prices are always
// positive, so this is round-half-up.
func round2(d decimal.Decimal) float64 {
	v, _ := d.Round(2).Float64()
	return v
}
