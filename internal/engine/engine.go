package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"alpharise/internal/broker"
	"alpharise/internal/config"
	"alpharise/internal/feed"
	"alpharise/internal/indicator"
	"alpharise/internal/recorder"
	"alpharise/internal/strategy"

	"github.com/shopspring/decimal"
)

// Feed fetches the raw sentiment/price payload.
type Feed interface {
	Fetch(ctx context.Context) (feed.Payload, error)
}

// Broker is the brokerage surface the executor needs.
type Broker interface {
	AccountSnapshot(ctx context.Context, symbol string) (broker.Snapshot, error)
	MarketBuyNotional(ctx context.Context, symbol string, notional decimal.Decimal) (broker.OrderRef, error)
	MarketSellQty(ctx context.Context, symbol string, qty decimal.Decimal) (broker.OrderRef, error)
}

// MarkerStore holds one execution record per date; record existence is the
// idempotency marker.
type MarkerStore interface {
	Has(date string) (bool, error)
	PutIfAbsent(date string, value []byte) error
}

// AuditRecorder receives best-effort run history rows.
type AuditRecorder interface {
	RecordRun(evt *recorder.RunEvent) error
}

// Engine runs the daily pipeline: fetch, normalize, smooth, classify, size,
// guard, execute, record.
type Engine struct {
	cfg      config.Config
	feed     Feed
	broker   Broker
	store    MarkerStore
	recorder AuditRecorder
}

func New(cfg config.Config, feedClient Feed, brokerClient Broker, markerStore MarkerStore, audit AuditRecorder) *Engine {
	return &Engine{
		cfg:      cfg,
		feed:     feedClient,
		broker:   brokerClient,
		store:    markerStore,
		recorder: audit,
	}
}

// Run executes one invocation end to end and folds every fault into the
// result envelope.
func (e *Engine) Run(ctx context.Context) RunResult {
	result, err := e.run(ctx)
	if err != nil {
		slog.Error("run failed", "error", err)
		return RunResult{Success: false, DryRun: e.cfg.DryRun, Error: err.Error()}
	}
	return result
}

func (e *Engine) run(ctx context.Context) (RunResult, error) {
	date := e.effectiveDate()
	slog.Info("run starting", "date", date, "dry_run", e.cfg.DryRun, "symbol", e.cfg.Symbol)

	payload, err := e.feed.Fetch(ctx)
	if err != nil {
		return RunResult{}, err
	}
	series, err := feed.Normalize(payload)
	if err != nil {
		return RunResult{}, err
	}

	analysis, ok := e.analyze(series, date)
	if !ok {
		if !e.cfg.FallbackLatest {
			slog.Info("no data point for target date, skipping", "date", date)
			return RunResult{Success: true, DryRun: e.cfg.DryRun, Skipped: SkipNoDataForDate}, nil
		}
		analysis, ok = e.analyzeLatest(series)
		if !ok {
			return RunResult{}, fmt.Errorf("%w: normalized series is empty", feed.ErrDataUnavailable)
		}
		slog.Warn("target date missing, falling back to latest point", "target", date, "using", analysis.Date)
	}
	slog.Info("analysis complete",
		"date", analysis.Date, "zone", analysis.Zone, "recommendation", analysis.Recommendation,
		"tier", analysis.Tier, "price", analysis.Price, "sentiment", analysis.Sentiment)

	// idempotency guard: at most one live execution per calendar date
	if !e.cfg.DryRun {
		exists, err := e.store.Has(analysis.Date)
		if err != nil {
			return RunResult{}, fmt.Errorf("idempotency check: %w", err)
		}
		if exists {
			slog.Info("already executed for date, skipping", "date", analysis.Date)
			return RunResult{Success: true, Skipped: SkipAlreadyExecuted, Analysis: &analysis}, nil
		}
	}

	snapshot, err := e.broker.AccountSnapshot(ctx, e.cfg.Symbol)
	if err != nil {
		return RunResult{}, fmt.Errorf("account snapshot: %w", err)
	}

	plan := strategy.Allocate(analysis.Zone, strategy.Params{
		BaseDCA:    e.cfg.BaseDCA,
		F1:         e.cfg.F1,
		F3:         e.cfg.F3,
		SellFactor: e.cfg.SellFactor,
	}, snapshot.Cash, snapshot.PositionQty)

	record, execErr := e.execute(ctx, analysis, plan, snapshot)

	// The marker write is load-bearing: losing it would allow a duplicate
	// live execution on the next invocation, so a failure here is fatal.
	// It is written even when a leg was rejected, so a retry cannot
	// re-submit against an ambiguous post-state.
	if !e.cfg.DryRun {
		doc, err := json.Marshal(auditDocument{
			Analysis:  analysis,
			Execution: record,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			return RunResult{}, fmt.Errorf("encode execution record: %w", err)
		}
		if err := e.store.PutIfAbsent(analysis.Date, doc); err != nil {
			if execErr != nil {
				return RunResult{}, fmt.Errorf("persist execution record: %w (after execution error: %v)", err, execErr)
			}
			return RunResult{}, fmt.Errorf("persist execution record: %w", err)
		}
	}

	// history row is audit-only; a failure must not fail the run
	if err := e.recorder.RecordRun(runEvent(analysis, record, e.cfg.DryRun, execErr)); err != nil {
		slog.Warn("audit record failed", "date", analysis.Date, "error", err)
	}

	if execErr != nil {
		return RunResult{}, execErr
	}
	return RunResult{
		Success:   true,
		DryRun:    e.cfg.DryRun,
		Analysis:  &analysis,
		Execution: &record,
	}, nil
}

// effectiveDate resolves the target calendar date: an explicit override
// wins; otherwise the current UTC date, shifted back a day before the feed's
// posting hour.
func (e *Engine) effectiveDate() string {
	if e.cfg.Date != "" {
		return e.cfg.Date
	}
	now := time.Now().UTC()
	if e.cfg.PostingHourUTC > 0 && now.Hour() < e.cfg.PostingHourUTC {
		now = now.AddDate(0, 0, -1)
	}
	return now.Format("2006-01-02")
}

// analyze smooths the price series and classifies the point at the target
// date. Reports false when the series has no point for that date.
func (e *Engine) analyze(series []feed.Point, date string) (strategy.Analysis, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].Date == date {
			return e.analyzeAt(series, i), true
		}
		if series[i].Date < date {
			break
		}
	}
	return strategy.Analysis{}, false
}

func (e *Engine) analyzeLatest(series []feed.Point) (strategy.Analysis, bool) {
	if len(series) == 0 {
		return strategy.Analysis{}, false
	}
	return e.analyzeAt(series, len(series)-1), true
}

func (e *Engine) analyzeAt(series []feed.Point, idx int) strategy.Analysis {
	prices := make([]float64, len(series))
	for i, p := range series {
		prices[i] = p.Price
	}
	// each window is smoothed independently over the raw price array
	ema20 := indicator.EMA(prices, 20)
	ema50 := indicator.EMA(prices, 50)
	ema100 := indicator.EMA(prices, 100)

	point := series[idx]
	zone := strategy.Classify(point.Price, point.Sentiment, ema20[idx], ema50[idx], e.cfg.T1, e.cfg.T3)
	return strategy.Analysis{
		Date:           point.Date,
		Zone:           zone,
		Recommendation: zone.Recommendation(),
		Tier:           strategy.SentimentTier(point.Sentiment),
		Price:          point.Price,
		Sentiment:      point.Sentiment,
		EMA20:          ema20[idx],
		EMA50:          ema50[idx],
		EMA100:         ema100[idx],
	}
}

func runEvent(analysis strategy.Analysis, record ExecutionRecord, dryRun bool, execErr error) *recorder.RunEvent {
	evt := &recorder.RunEvent{
		Date:           analysis.Date,
		Zone:           int(analysis.Zone),
		Tier:           analysis.Tier,
		Recommendation: analysis.Recommendation,
		Price:          analysis.Price,
		Sentiment:      analysis.Sentiment,
		DryRun:         dryRun,
		Outcome:        "executed",
	}
	if execErr != nil {
		evt.Outcome = "failed"
	}
	if record.Plan.Buy != nil {
		evt.BuyUSD, _ = record.Plan.Buy.TotalUSD.Float64()
	}
	if record.Plan.Sell != nil {
		evt.SellQty, _ = record.Plan.Sell.Qty.Float64()
	}
	return evt
}
