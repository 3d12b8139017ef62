package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/commerce/internal/platform/textutil"
)

const moneyScale = 2

var (
	// DefaultTaxRate is applied to the order subtotal when no rate is configured.
	DefaultTaxRate = decimal.RequireFromString("0.08")
	// DefaultTotalTolerance is the relative deviation between client and computed totals that is accepted silently.
	DefaultTotalTolerance = decimal.RequireFromString("0.01")
)

// ErrPriceUnavailable is returned when neither the request nor the product supplies a unit price.
var ErrPriceUnavailable = errors.New("pricing: price unavailable")

// ResolveUnitPrice picks the unit price for a line: the requested price when present, otherwise the first
// variant price of the product. The size label is returned normalised.
func ResolveUnitPrice(product Product, requested *decimal.Decimal, size string) (decimal.Decimal, string, error) {
	label := textutil.NormalizeLabel(size)
	if requested != nil {
		if requested.IsNegative() {
			return decimal.Decimal{}, label, fmt.Errorf("%w: price must not be negative", ErrPriceUnavailable)
		}
		return NormalizeMoney(*requested), label, nil
	}
	if len(product.Variants) == 0 {
		return decimal.Decimal{}, label, fmt.Errorf("%w: product %d has no variants", ErrPriceUnavailable, product.ID)
	}
	return NormalizeMoney(product.Variants[0].Price), label, nil
}

// NormalizeMoney rounds half-up to two decimal places.
func NormalizeMoney(value decimal.Decimal) decimal.Decimal {
	return value.Round(moneyScale)
}

// LineTotal returns round(unit x quantity, 2, half-up).
func LineTotal(unit decimal.Decimal, quantity int) decimal.Decimal {
	return NormalizeMoney(unit.Mul(decimal.NewFromInt(int64(quantity))))
}

// Totals is the server side computation of an order's amounts.
type Totals struct {
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
}

// ComputeTotals sums persisted line totals and applies the tax rate to the subtotal.
func ComputeTotals(lines []OrderLine, shipping decimal.Decimal, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.TotalPrice)
	}
	subtotal = NormalizeMoney(subtotal)
	tax := NormalizeMoney(subtotal.Mul(taxRate))
	shipping = NormalizeMoney(shipping)
	return Totals{
		Subtotal:     subtotal,
		Tax:          tax,
		ShippingCost: shipping,
		Total:        subtotal.Add(tax).Add(shipping),
	}
}

// Reconciliation describes how a client total compares with the computed total.
type Reconciliation struct {
	Client     decimal.Decimal
	Computed   decimal.Decimal
	Difference decimal.Decimal
	Allowed    decimal.Decimal
}

// Mismatch reports whether the difference exceeds the allowed deviation.
func (r Reconciliation) Mismatch() bool {
	return r.Difference.GreaterThan(r.Allowed)
}

// Reconcile compares the client total against computed. The allowed deviation is computed x tolerance.
func Reconcile(client, computed, tolerance decimal.Decimal) Reconciliation {
	return Reconciliation{
		Client:     client,
		Computed:   computed,
		Difference: client.Sub(computed).Abs(),
		Allowed:    computed.Mul(tolerance),
	}
}
