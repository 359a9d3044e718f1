package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

func TestPreTaxPriceRoundTrip(t *testing.T) {
	prices := []float64{0.01, 1, 9.99, 100, 118, 1234.56, 99999.99}
	rates := []float64{0, 5, 12, 18, 28, 99.5}
	for _, price := range prices {
		for _, rate := range rates {
			pre := PreTaxPrice(price, rate)
			require.InDelta(t, price, pre*(1+rate/100), 1e-9, "price=%v rate=%v", price, rate)
			require.InDelta(t, price, pre+TaxPortion(price, rate), 1e-9)
		}
	}
}

func TestComputeLineRefundScenario(t *testing.T) {
	line := ComputeLine(100, 2, 18)
	require.Equal(t, 2, line.Quantity)
	require.InDelta(t, 200, line.Subtotal, 1e-9)
	require.InDelta(t, 36, line.TaxAmount, 1e-9)
	require.InDelta(t, 236, line.Total, 1e-9)
}

func TestLineFromSellingPriceModes(t *testing.T) {
	gst := LineFromSellingPrice(118, 3, 18, ModeGST)
	require.InDelta(t, 100, gst.UnitPrice, 1e-9)
	require.InDelta(t, 300, gst.Subtotal, 1e-9)
	require.InDelta(t, 54, gst.TaxAmount, 1e-9)
	require.InDelta(t, 354, gst.Total, 1e-9)

	plain := LineFromSellingPrice(118, 3, 18, ModeNonGST)
	require.InDelta(t, 118, plain.UnitPrice, 1e-9)
	require.Zero(t, plain.TaxRate)
	require.Zero(t, plain.TaxAmount)
	require.InDelta(t, 354, plain.Total, 1e-9)
}

func TestApplyModeRecomputesEveryLine(t *testing.T) {
	lines := []SellingLine{
		{SellingPrice: 118, Quantity: 1, TaxRate: 18},
		{SellingPrice: 105, Quantity: 2, TaxRate: 5},
	}

	gst := ApplyMode(lines, ModeGST)
	require.Len(t, gst, 2)
	require.InDelta(t, 18, gst[0].TaxAmount, 1e-9)
	require.InDelta(t, 10, gst[1].TaxAmount, 1e-9)

	plain := ApplyMode(lines, ModeNonGST)
	for _, l := range plain {
		require.Zero(t, l.TaxAmount)
	}
	require.InDelta(t, 210, plain[1].Total, 1e-9)
}

func TestRoundTotals(t *testing.T) {
	exact := RoundTotals(1000, 180, 0)
	require.InDelta(t, 1180, exact.Total, 1e-9)
	require.Zero(t, exact.RoundOff)

	down := RoundTotals(1000.4, 180, 0)
	require.InDelta(t, -0.4, down.RoundOff, 1e-9)
	require.InDelta(t, 1180, down.Total, 1e-9)

	up := RoundTotals(1000.5, 180, 0)
	require.InDelta(t, 0.5, up.RoundOff, 1e-9)
	require.InDelta(t, 1181, up.Total, 1e-9)

	discounted := RoundTotals(1000, 180, 30.25)
	require.InDelta(t, 1150, discounted.Total, 1e-9)
	require.InDelta(t, 0.25, discounted.RoundOff, 1e-9)
}

func TestSummarizeUsesLineAmounts(t *testing.T) {
	lines := []Line{ComputeLine(100, 2, 18), ComputeLine(50.2, 2, 0)}
	totals := Summarize(lines, 0)
	require.InDelta(t, 300.4, totals.Subtotal, 1e-9)
	require.InDelta(t, 36, totals.TaxTotal, 1e-9)
	require.InDelta(t, -0.4, totals.RoundOff, 1e-9)
	require.InDelta(t, 336, totals.Total, 1e-9)
}

func TestValidateRate(t *testing.T) {
	require.NoError(t, ValidateRate(0))
	require.NoError(t, ValidateRate(18))
	require.ErrorIs(t, ValidateRate(100), shared.ErrValidation)
	require.ErrorIs(t, ValidateRate(-1), shared.ErrValidation)
}

func TestInclusivePrice(t *testing.T) {
	require.InDelta(t, 118, InclusivePrice(100, 18), 1e-9)
	require.InDelta(t, 100, InclusivePrice(PreTaxPrice(100, 18), 18), 1e-9)
	require.InDelta(t, 9.99, InclusivePrice(9.99, 0), 1e-9)
}

func TestPortionsAddUpToRecordedLine(t *testing.T) {
	line := ComputeLine(PreTaxPrice(100, 18), 1000, 18)
	require.InDelta(t, 100000, line.Total, 1e-9)

	whole := Portion(line, 0, 1000)
	require.Equal(t, line.Subtotal, whole.Subtotal)
	require.Equal(t, line.TaxAmount, whole.TaxAmount)
	require.Equal(t, line.Total, whole.Total)

	var subtotals, taxes, totals []float64
	from := 0
	for _, qty := range []int{1, 332, 333, 333, 1} {
		part := Portion(line, from, qty)
		require.Equal(t, qty, part.Quantity)
		require.InDelta(t, Sum(part.Subtotal, part.TaxAmount), part.Total, 1e-9)
		subtotals = append(subtotals, part.Subtotal)
		taxes = append(taxes, part.TaxAmount)
		totals = append(totals, part.Total)
		from += qty
	}
	require.InDelta(t, line.Subtotal, Sum(subtotals...), 1e-9)
	require.InDelta(t, line.TaxAmount, Sum(taxes...), 1e-9)
	require.InDelta(t, line.Total, Sum(totals...), 1e-9)

	require.Zero(t, Portion(line, 0, 0).Total)
}
