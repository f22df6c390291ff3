package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alpharise/internal/broker"
	"alpharise/internal/strategy"
)

// execute submits the plan's legs. The legs are independent: a buy leg
// skipped for insufficient funds does not cancel the sell leg. Dry-run mode
// walks the same branches and records the same plan; only the terminal
// submission differs. A brokerage rejection is returned as an error so the
// caller can fail the run; the record built so far is still returned for
// persistence.
func (e *Engine) execute(ctx context.Context, analysis strategy.Analysis, plan strategy.Plan, snapshot broker.Snapshot) (ExecutionRecord, error) {
	record := ExecutionRecord{
		Date:           analysis.Date,
		Zone:           analysis.Zone,
		CashBefore:     snapshot.Cash,
		PositionBefore: snapshot.PositionQty,
		Plan:           plan,
		Timestamp:      time.Now().UTC(),
	}

	if plan.Buy != nil {
		amount := plan.Buy.TotalUSD
		action := Action{Type: "buy", Amount: &amount}

		switch {
		case snapshot.Cash.LessThan(amount):
			shortfall := amount.Sub(snapshot.Cash)
			action.Result = ActionResult{
				Success:   false,
				Error:     errInsufficientFunds,
				Shortfall: &shortfall,
			}
			slog.Warn("buy leg skipped", "reason", errInsufficientFunds,
				"required", amount, "cash", snapshot.Cash, "shortfall", shortfall)
		case e.cfg.DryRun:
			action.Result = ActionResult{Success: true, DryRun: true}
			slog.Info("dry run: would buy", "symbol", e.cfg.Symbol, "notional", amount)
		default:
			ref, err := e.broker.MarketBuyNotional(ctx, e.cfg.Symbol, amount)
			if err != nil {
				action.Result = ActionResult{Success: false, Error: err.Error()}
				record.Actions = append(record.Actions, action)
				return record, fmt.Errorf("submit buy order: %w", err)
			}
			action.Result = ActionResult{Success: true, OrderID: ref.ID, Status: ref.Status}
		}
		record.Actions = append(record.Actions, action)
	}

	if plan.Sell != nil {
		qty := plan.Sell.Qty
		action := Action{Type: "sell", Qty: &qty}

		if e.cfg.DryRun {
			action.Result = ActionResult{Success: true, DryRun: true}
			slog.Info("dry run: would sell", "symbol", e.cfg.Symbol, "qty", qty)
		} else {
			ref, err := e.broker.MarketSellQty(ctx, e.cfg.Symbol, qty)
			if err != nil {
				action.Result = ActionResult{Success: false, Error: err.Error()}
				record.Actions = append(record.Actions, action)
				return record, fmt.Errorf("submit sell order: %w", err)
			}
			action.Result = ActionResult{Success: true, OrderID: ref.ID, Status: ref.Status}
		}
		record.Actions = append(record.Actions, action)
	}

	return record, nil
}
