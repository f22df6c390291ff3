package engine

import (
	"time"

	"alpharise/internal/strategy"

	"github.com/shopspring/decimal"
)

// Skip reasons for runs that finish cleanly without trading.
const (
	SkipAlreadyExecuted = "already_executed"
	SkipNoDataForDate   = "no_data_for_date"
)

// Action outcome error kinds.
const errInsufficientFunds = "insufficient_funds"

// RunResult is the structured envelope every invocation returns. Fatal
// faults are folded into it; the engine never lets one escape.
type RunResult struct {
	Success   bool               `json:"success"`
	DryRun    bool               `json:"dry_run"`
	Skipped   string             `json:"skipped,omitempty"`
	Analysis  *strategy.Analysis `json:"analysis,omitempty"`
	Execution *ExecutionRecord   `json:"execution,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// ExecutionRecord is the per-date audit of what the executor did. It is
// created once per date and never mutated afterwards; its existence in the
// store is the idempotency marker.
type ExecutionRecord struct {
	Date           string          `json:"date"`
	Zone           strategy.Zone   `json:"zone"`
	CashBefore     decimal.Decimal `json:"cash_before"`
	PositionBefore decimal.Decimal `json:"position_before"`
	Plan           strategy.Plan   `json:"plan"`
	Actions        []Action        `json:"actions"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Action is one order leg and its outcome.
type Action struct {
	Type   string           `json:"type"`
	Amount *decimal.Decimal `json:"amount,omitempty"` // buy notional, USD
	Qty    *decimal.Decimal `json:"qty,omitempty"`    // sell quantity
	Result ActionResult     `json:"result"`
}

type ActionResult struct {
	Success   bool             `json:"success"`
	DryRun    bool             `json:"dry_run,omitempty"`
	OrderID   string           `json:"order_id,omitempty"`
	Status    string           `json:"status,omitempty"`
	Error     string           `json:"error,omitempty"`
	Shortfall *decimal.Decimal `json:"shortfall,omitempty"`
}

// auditDocument is the JSON value persisted under executions/<date>.
type auditDocument struct {
	Analysis  strategy.Analysis `json:"analysis"`
	Execution ExecutionRecord   `json:"execution"`
	Timestamp time.Time         `json:"timestamp"`
}
