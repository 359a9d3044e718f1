// Package pricing converts between tax-inclusive and tax-exclusive prices and
// totals sale, invoice and refund lines. Arithmetic runs on decimals; results
// leave the package as float64 rounded to cents.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// Mode selects how a tax-inclusive selling price is split into lines.
type Mode string

const (
	// ModeGST strips tax out of the selling price.
	ModeGST Mode = "gst"
	// ModeNonGST bills the full selling price with zero tax.
	ModeNonGST Mode = "non_gst"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeGST || m == ModeNonGST
}

var hundred = decimal.NewFromInt(100)

// Line holds the computed amounts for a single line.
type Line struct {
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"price"`
	TaxRate   float64 `json:"taxRate"`
	Subtotal  float64 `json:"subtotal"`
	TaxAmount float64 `json:"taxAmount"`
	Total     float64 `json:"total"`
}

// Totals summarises a document.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	TaxTotal float64 `json:"taxTotal"`
	Discount float64 `json:"discount"`
	RoundOff float64 `json:"roundOff"`
	Total    float64 `json:"total"`
}

// ValidateRate accepts rates in [0, 100).
func ValidateRate(rate float64) error {
	if rate < 0 || rate >= 100 {
		return shared.NewValidationError("taxRate", fmt.Sprintf("must be in [0, 100), got %v", rate))
	}
	return nil
}

// PreTaxPrice strips tax from a tax-inclusive selling price. The result is
// not rounded.
func PreTaxPrice(sellingPrice, taxRate float64) float64 {
	return preTax(decimal.NewFromFloat(sellingPrice), decimal.NewFromFloat(taxRate)).InexactFloat64()
}

// TaxPortion is the tax contained in a tax-inclusive selling price.
func TaxPortion(sellingPrice, taxRate float64) float64 {
	selling := decimal.NewFromFloat(sellingPrice)
	return selling.Sub(preTax(selling, decimal.NewFromFloat(taxRate))).InexactFloat64()
}

// InclusivePrice adds tax to a tax-exclusive unit price, rounded to cents.
func InclusivePrice(preTaxPrice, taxRate float64) float64 {
	price := decimal.NewFromFloat(preTaxPrice)
	return money(price.Add(price.Mul(decimal.NewFromFloat(taxRate)).Div(hundred)))
}

func preTax(selling, rate decimal.Decimal) decimal.Decimal {
	return selling.Div(decimal.NewFromInt(1).Add(rate.Div(hundred)))
}

// ComputeLine totals qty units at a tax-exclusive price.
func ComputeLine(preTaxPrice float64, quantity int, taxRate float64) Line {
	price := decimal.NewFromFloat(preTaxPrice)
	rate := decimal.NewFromFloat(taxRate)
	return lineFrom(price, quantity, rate)
}

func lineFrom(price decimal.Decimal, quantity int, rate decimal.Decimal) Line {
	base := price.Mul(decimal.NewFromInt(int64(quantity)))
	tax := base.Mul(rate).Div(hundred)
	return Line{
		Quantity:  quantity,
		UnitPrice: price.Round(4).InexactFloat64(),
		TaxRate:   rate.InexactFloat64(),
		Subtotal:  money(base),
		TaxAmount: money(tax),
		Total:     money(base.Round(2).Add(tax.Round(2))),
	}
}

// Portion returns the share of a recorded line covering units
// (from, from+qty] of line.Quantity. Amounts come from the line's own
// subtotal and tax, so consecutive portions that reach the full quantity add
// up to the line exactly.
func Portion(line Line, from, qty int) Line {
	if line.Quantity <= 0 || qty <= 0 {
		return Line{UnitPrice: line.UnitPrice, TaxRate: line.TaxRate}
	}
	subtotal := decimal.NewFromFloat(line.Subtotal)
	tax := decimal.NewFromFloat(line.TaxAmount)
	to := from + qty
	sub := share(subtotal, to, line.Quantity).Sub(share(subtotal, from, line.Quantity))
	taxPart := share(tax, to, line.Quantity).Sub(share(tax, from, line.Quantity))
	return Line{
		Quantity:  qty,
		UnitPrice: line.UnitPrice,
		TaxRate:   line.TaxRate,
		Subtotal:  sub.InexactFloat64(),
		TaxAmount: taxPart.InexactFloat64(),
		Total:     sub.Add(taxPart).InexactFloat64(),
	}
}

// share is amount scaled by n/of in cents; n >= of yields amount itself.
func share(amount decimal.Decimal, n, of int) decimal.Decimal {
	if n >= of {
		return amount
	}
	if n <= 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromInt(int64(n))).Div(decimal.NewFromInt(int64(of))).Round(2)
}

// LineFromSellingPrice builds a line from a tax-inclusive selling price
// according to mode. Non-GST lines carry a zero tax rate.
func LineFromSellingPrice(sellingPrice float64, quantity int, taxRate float64, mode Mode) Line {
	selling := decimal.NewFromFloat(sellingPrice)
	if mode == ModeNonGST {
		return lineFrom(selling, quantity, decimal.Zero)
	}
	rate := decimal.NewFromFloat(taxRate)
	return lineFrom(preTax(selling, rate), quantity, rate)
}

// SellingLine is a line priced tax-inclusive, as entered on an invoice.
type SellingLine struct {
	SellingPrice float64
	Quantity     int
	TaxRate      float64
}

// ApplyMode recomputes every line for mode. Toggling an invoice between GST
// and non-GST must go through here so existing lines follow the new mode.
func ApplyMode(lines []SellingLine, mode Mode) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = LineFromSellingPrice(l.SellingPrice, l.Quantity, l.TaxRate, mode)
	}
	return out
}

// Summarize adds line amounts, subtracts discount and rounds the result to a
// whole unit. RoundOff is the signed adjustment applied: round(total) - total,
// with halves rounding up.
func Summarize(lines []Line, discount float64) Totals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(decimal.NewFromFloat(l.Subtotal))
		tax = tax.Add(decimal.NewFromFloat(l.TaxAmount))
	}
	return summarize(subtotal, tax, decimal.NewFromFloat(discount))
}

// RoundTotals applies the rounding policy to precomputed amounts.
func RoundTotals(subtotal, taxTotal, discount float64) Totals {
	return summarize(decimal.NewFromFloat(subtotal), decimal.NewFromFloat(taxTotal), decimal.NewFromFloat(discount))
}

func summarize(subtotal, tax, discount decimal.Decimal) Totals {
	raw := subtotal.Add(tax).Sub(discount)
	rounded := raw.Round(0)
	return Totals{
		Subtotal: subtotal.InexactFloat64(),
		TaxTotal: tax.InexactFloat64(),
		Discount: discount.InexactFloat64(),
		RoundOff: rounded.Sub(raw).InexactFloat64(),
		Total:    rounded.InexactFloat64(),
	}
}

// Sum adds money values without float drift.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return money(total)
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
