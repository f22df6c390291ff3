package strategy

import "github.com/shopspring/decimal"

const (
	usdPlaces = 2
	qtyPlaces = 8

	// reserveDivisor bounds how much idle cash a single accumulate day can
	// pull into the position.
	reserveDivisor = 15
)

// Params are the sizing knobs of the DCA strategy.
type Params struct {
	BaseDCA    float64
	F1         float64
	F3         float64
	SellFactor float64
}

// BuyLeg sizes a notional market buy: fresh contribution plus any cash
// reserve drained into the position.
type BuyLeg struct {
	FreshInput  decimal.Decimal `json:"fresh_input"`
	DrainAmount decimal.Decimal `json:"drain_amount"`
	TotalUSD    decimal.Decimal `json:"total_buy_usd"`
}

// SellLeg sizes a quantity market sell.
type SellLeg struct {
	Qty        decimal.Decimal `json:"qty"`
	Percentage float64         `json:"percentage"`
}

// Plan is the sizing instruction for one day. Either leg may be nil; a leg
// whose amount rounds to zero or below is suppressed rather than submitted.
type Plan struct {
	Buy  *BuyLeg  `json:"buy,omitempty"`
	Sell *SellLeg `json:"sell,omitempty"`
}

// Allocate converts a zone into a concrete plan given the account snapshot.
// Quote amounts are rounded to 2 decimal places and quantities to 8 before
// any comparison or submission.
func Allocate(zone Zone, p Params, cash, positionQty decimal.Decimal) Plan {
	base := decimal.NewFromFloat(p.BaseDCA)

	var plan Plan
	switch zone {
	case ZoneAccumulate:
		fresh := base.Mul(decimal.NewFromFloat(p.F1))
		target := base.Mul(decimal.NewFromFloat(p.F3)).Add(cash.Div(decimal.NewFromInt(reserveDivisor)))
		drain := decimal.Min(cash, target)
		plan.Buy = buyLeg(fresh, drain)
	case ZoneNeutral:
		plan.Buy = buyLeg(base, decimal.Zero)
	case ZoneReduce:
		plan.Buy = buyLeg(base.Mul(decimal.NewFromFloat(p.F3)), decimal.Zero)
		if positionQty.IsPositive() {
			qty := positionQty.
				Mul(decimal.NewFromFloat(p.SellFactor)).
				Div(decimal.NewFromInt(100)).
				Round(qtyPlaces)
			if qty.IsPositive() {
				plan.Sell = &SellLeg{Qty: qty, Percentage: p.SellFactor}
			}
		}
	}
	return plan
}

func buyLeg(fresh, drain decimal.Decimal) *BuyLeg {
	fresh = fresh.Round(usdPlaces)
	drain = drain.Round(usdPlaces)
	total := fresh.Add(drain)
	if !total.IsPositive() {
		return nil
	}
	return &BuyLeg{FreshInput: fresh, DrainAmount: drain, TotalUSD: total}
}
