// Package profit holds the profit math shared by order completion, the
// dashboard summary, and the export report. Keeping one implementation is
// what guarantees historical rows (recomputed at report time) and live rows
// (stored at completion time) always agree.
package profit

import (
	"github.com/shopspring/decimal"

	"nexora/backend/internal/domain"
)

type Summary struct {
	TotalSoldUsdt  decimal.Decimal  `json:"total_sold_usdt"`
	TotalProfitIls decimal.Decimal  `json:"total_profit_ils"`
	TotalProfitUsd decimal.Decimal  `json:"total_profit_usd"`
	OrderCount     int              `json:"order_count"`
	AvgSellPrice   *decimal.Decimal `json:"avg_sell_price"`
}

// OrderProfitIls computes amount * (sellPrice - avgCost).
func OrderProfitIls(amount, sellPrice, avgCost decimal.Decimal) decimal.Decimal {
	return amount.Mul(sellPrice.Sub(avgCost))
}

// OrderProfitUsd converts an ILS profit at the given USD/ILS rate. Returns
// nil when the rate is absent or non-positive: profit_usd is undefined, not
// zero, for orders completed without a rate.
func OrderProfitUsd(profitIls decimal.Decimal, usdIlsRate *decimal.Decimal) *decimal.Decimal {
	if usdIlsRate == nil || !usdIlsRate.IsPositive() {
		return nil
	}
	usd := profitIls.Div(*usdIlsRate)
	return &usd
}

// Resolve returns the order's profit figures, preferring the values stored at
// completion time and recomputing with the identical formula for legacy rows
// that lack them. Rows missing the inputs resolve to zero.
func Resolve(order domain.Order) (profitIls decimal.Decimal, profitUsd decimal.Decimal) {
	switch {
	case order.ProfitIls != nil:
		profitIls = *order.ProfitIls
	case order.SellPriceIlsPerUsdt != nil && order.BuyAvgCostIlsPerUsdt != nil:
		profitIls = OrderProfitIls(order.AmountUsdt, *order.SellPriceIlsPerUsdt, *order.BuyAvgCostIlsPerUsdt)
	}

	switch {
	case order.ProfitUsd != nil:
		profitUsd = *order.ProfitUsd
	default:
		if usd := OrderProfitUsd(profitIls, order.UsdIlsRate); usd != nil {
			profitUsd = *usd
		}
	}
	return profitIls, profitUsd
}

// Summarize aggregates completed orders. AvgSellPrice is the amount-weighted
// average sell price, defined only when USDT was actually sold.
func Summarize(completed []domain.Order) Summary {
	summary := Summary{OrderCount: len(completed)}

	weightedSell := decimal.Zero
	for _, order := range completed {
		profitIls, profitUsd := Resolve(order)
		summary.TotalSoldUsdt = summary.TotalSoldUsdt.Add(order.AmountUsdt)
		summary.TotalProfitIls = summary.TotalProfitIls.Add(profitIls)
		summary.TotalProfitUsd = summary.TotalProfitUsd.Add(profitUsd)
		if order.SellPriceIlsPerUsdt != nil {
			weightedSell = weightedSell.Add(order.SellPriceIlsPerUsdt.Mul(order.AmountUsdt))
		}
	}

	if summary.OrderCount > 0 && summary.TotalSoldUsdt.IsPositive() {
		avg := weightedSell.Div(summary.TotalSoldUsdt)
		summary.AvgSellPrice = &avg
	}
	return summary
}
