package engine

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	"alpharise/internal/broker"
	"alpharise/internal/config"
	"alpharise/internal/feed"
	"alpharise/internal/recorder"

	"github.com/shopspring/decimal"
)

// 2024-01-01 00:00:00 UTC
const day0 = int64(1704067200)

type fakeFeed struct {
	payload feed.Payload
	err     error
}

func (f *fakeFeed) Fetch(_ context.Context) (feed.Payload, error) {
	return f.payload, f.err
}

type fakeBroker struct {
	snapshot     broker.Snapshot
	snapshotErr  error
	buyErr       error
	sellErr      error
	accountCalls int
	buys         []decimal.Decimal
	sells        []decimal.Decimal
}

func (b *fakeBroker) AccountSnapshot(_ context.Context, _ string) (broker.Snapshot, error) {
	b.accountCalls++
	return b.snapshot, b.snapshotErr
}

func (b *fakeBroker) MarketBuyNotional(_ context.Context, _ string, notional decimal.Decimal) (broker.OrderRef, error) {
	if b.buyErr != nil {
		return broker.OrderRef{}, b.buyErr
	}
	b.buys = append(b.buys, notional)
	return broker.OrderRef{ID: "order-buy-1", Status: "accepted"}, nil
}

func (b *fakeBroker) MarketSellQty(_ context.Context, _ string, qty decimal.Decimal) (broker.OrderRef, error) {
	if b.sellErr != nil {
		return broker.OrderRef{}, b.sellErr
	}
	b.sells = append(b.sells, qty)
	return broker.OrderRef{ID: "order-sell-1", Status: "accepted"}, nil
}

type fakeStore struct {
	records map[string][]byte
	hasErr  error
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string][]byte{}}
}

func (s *fakeStore) Has(date string) (bool, error) {
	if s.hasErr != nil {
		return false, s.hasErr
	}
	_, ok := s.records[date]
	return ok, nil
}

func (s *fakeStore) PutIfAbsent(date string, value []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	if _, ok := s.records[date]; ok {
		return errors.New("already exists")
	}
	s.records[date] = value
	return nil
}

type failingRecorder struct{}

func (failingRecorder) RecordRun(_ *recorder.RunEvent) error {
	return errors.New("disk full")
}

// fixturePayload builds a daily series of constant price 100 / sentiment 50,
// with the final point overridden to steer the classifier.
func fixturePayload(days int, lastPrice, lastSentiment float64) (feed.Payload, string) {
	prices := make(map[string]float64, days)
	conf := make(map[string]float64, days)
	var lastDate string
	for i := 0; i < days; i++ {
		sec := day0 + int64(i)*86400
		key := strconv.FormatInt(sec, 10)
		price, sentiment := 100.0, 50.0
		if i == days-1 {
			price, sentiment = lastPrice, lastSentiment
		}
		prices[key] = price
		conf[key] = sentiment
		lastDate = time.Unix(sec, 0).UTC().Format("2006-01-02")
	}
	return feed.Payload{Price: prices, Confidence: conf}, lastDate
}

func testConfig(date string, dryRun bool) config.Config {
	return config.Config{
		T1:         67,
		T3:         77,
		BaseDCA:    20,
		F1:         10,
		F3:         0,
		SellFactor: 5,
		Symbol:     "BTCUSD",
		Date:       date,
		DryRun:     dryRun,
	}
}

func TestRunAccumulateDayBuys(t *testing.T) {
	payload, date := fixturePayload(120, 90, 20)
	brokerFake := &fakeBroker{snapshot: broker.Snapshot{Cash: decimal.NewFromInt(1500)}}
	storeFake := newFakeStore()
	eng := New(testConfig(date, false), &fakeFeed{payload: payload}, brokerFake, storeFake, recorder.NewNoopRecorder())

	result := eng.Run(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Analysis == nil || result.Analysis.Zone != 1 {
		t.Fatalf("expected zone 1 analysis, got %+v", result.Analysis)
	}
	if len(brokerFake.buys) != 1 {
		t.Fatalf("expected one buy, got %d", len(brokerFake.buys))
	}
	// fresh 20*10=200, drain min(1500, 1500/15)=100
	if !brokerFake.buys[0].Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected buy notional 300, got %s", brokerFake.buys[0])
	}
	if _, ok := storeFake.records[date]; !ok {
		t.Fatalf("expected execution record persisted for %s", date)
	}
}

func TestRunReduceDaySells(t *testing.T) {
	payload, date := fixturePayload(120, 110, 85)
	brokerFake := &fakeBroker{snapshot: broker.Snapshot{
		Cash:        decimal.NewFromInt(1000),
		PositionQty: decimal.RequireFromString("2.0"),
	}}
	eng := New(testConfig(date, false), &fakeFeed{payload: payload}, brokerFake, newFakeStore(), recorder.NewNoopRecorder())

	result := eng.Run(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Analysis.Zone != 3 {
		t.Fatalf("expected zone 3, got %d", result.Analysis.Zone)
	}
	if len(brokerFake.buys) != 0 {
		t.Fatalf("expected no buy with f3=0, got %d", len(brokerFake.buys))
	}
	if len(brokerFake.sells) != 1 || brokerFake.sells[0].StringFixed(8) != "0.10000000" {
		t.Fatalf("expected one sell of 0.10000000, got %v", brokerFake.sells)
	}
}

func TestRunGuardSkipsSecondLiveExecution(t *testing.T) {
	payload, date := fixturePayload(120, 90, 20)
	brokerFake := &fakeBroker{snapshot: broker.Snapshot{Cash: decimal.NewFromInt(1500)}}
	storeFake := newFakeStore()
	storeFake.records[date] = []byte(`{}`)
	eng := New(testConfig(date, false), &fakeFeed{payload: payload}, brokerFake, storeFake, recorder.NewNoopRecorder())

	result := eng.Run(context.Background())
	if !result.Success {
		t.Fatalf("expected clean skip, got error %q", result.Error)
	}
	if result.Skipped != SkipAlreadyExecuted {
		t.Fatalf("expected skip reason %q, got %q", SkipAlreadyExecuted, result.Skipped)
	}
	if brokerFake.accountCalls != 0 || len(brokerFake.buys) != 0 || len(brokerFake.sells) != 0 {
		t.Fatalf("expected zero broker side effects, got account=%d buys=%d sells=%d",
			brokerFake.accountCalls, len(brokerFake.buys), len(brokerFake.sells))
	}
}

func TestRunDryRunMatchesLivePlan(t *testing.T) {
	payload, date := fixturePayload(120, 90, 20)
	snapshot := broker.Snapshot{Cash: decimal.NewFromInt(1500)}

	liveBroker := &fakeBroker{snapshot: snapshot}
	live := New(testConfig(date, false), &fakeFeed{payload: payload}, liveBroker, newFakeStore(), recorder.NewNoopRecorder()).
		Run(context.Background())

	dryBroker := &fakeBroker{snapshot: snapshot}
	dry := New(testConfig(date, true), &fakeFeed{payload: payload}, dryBroker, newFakeStore(), recorder.NewNoopRecorder()).
		Run(context.Background())

	if !live.Success || !dry.Success {
		t.Fatalf("expected both runs to succeed: live=%q dry=%q", live.Error, dry.Error)
	}
	if !reflect.DeepEqual(live.Execution.Plan, dry.Execution.Plan) {
		t.Fatalf("plans differ between live and dry-run:\nlive: %+v\ndry:  %+v", live.Execution.Plan, dry.Execution.Plan)
	}
	if !reflect.DeepEqual(live.Analysis, dry.Analysis) {
		t.Fatalf("analyses differ between live and dry-run")
	}
	if live.Execution.Actions[0].Result.OrderID == "" {
		t.Fatalf("expected live action to carry an order id")
	}
	if dry.Execution.Actions[0].Result.OrderID != "" || !dry.Execution.Actions[0].Result.DryRun {
		t.Fatalf("expected dry-run action without order id, got %+v", dry.Execution.Actions[0].Result)
	}
	if len(dryBroker.buys) != 0 {
		t.Fatalf("dry-run must not submit orders")
	}
}

func TestRunDryRunIgnoresIdempotencyMarker(t *testing.T) {
	payload, date := fixturePayload(120, 90, 20)
	storeFake := newFakeStore()
	storeFake.records[date] = []byte(`{"previous":true}`)
	brokerFake := &fakeBroker{snapshot: broker.Snapshot{Cash: decimal.NewFromInt(1500)}}
	eng := New(testConfig(date, true), &fakeFeed{payload: payload}, brokerFake, storeFake, recorder.NewNoopRecorder())

	result := eng.Run(context.Background())
	if !result.Success || result.Skipped != "" {
		t.Fatalf("expected dry-run to proceed past the marker, got %+v", result)
	}
	if string(storeFake.records[date]) != `{"previous":true}` {
		t.Fatalf("dry-run must not touch the durable store")
	}
}

func TestRunInsufficientFundsIsNonFatal(t *testing.T) {
	payload, date := fixturePayload(120, 90, 20)
	brokerFake := &fakeBroker{snapshot: broker.Snapshot{Cash: decimal.NewFromInt(10)}}
	storeFake := newFakeStore()
	eng := New(testConfig(date, false), &fakeFeed{payload: payload}, brokerFake, storeFake, recorder.NewNoopRecorder())

	result := eng.Run(context.Background())
	if !result.Success {
		t.Fatalf("expected success envelope despite shortfall, got error %q", result.Error)
	}
	if len(brokerFake.buys) != 0 {
		t.Fatalf("expected no partial buy")
	}
	action := result.Execution.Actions[0]
	if action.Result.Success || action.Result.Error != errInsufficientFunds {
		t.Fatalf("expected insufficient_funds outcome, got %+v", action.Result)
	}
	// fresh 200 + drain round(10/15)=0.67, shortfall = 200.67 - 10
	if action.Result.Shortfall == nil || action.Result.Shortfall.StringFixed(2) != "190.67" {
		t.Fatalf("expected shortfall 190.67, got %v", action.Result.Shortfall)
	}
	if _, ok := storeFake.records[date]; !ok {
		t.Fatalf("expected execution record persisted even for a skipped leg")
	}
}

func TestRunSkipsWhenTargetDateMissing(t *testing.T) {
	payload, _ := fixturePayload(120, 90, 20)
	brokerFake := &fakeBroker{}
	eng := New(testConfig("2030-01-01", false), &fakeFeed{payload: payload}, brokerFake, newFakeStore(), recorder.NewNoopRecorder())

	result := eng.Run(context.Background())
	if !result.Success {
		t.Fatalf("expected clean skip, got error %q", result.Error)
	}
	if result.Skipped != SkipNoDataForDate {
		t.Fatalf("expected skip reason %q, got %q", SkipNoDataForDate, result.Skipped)
	}
	if brokerFake.accountCalls != 0 {
		t.Fatalf("expected no account query on skip")
	}
}

func TestRunFallbackLatestUsesNewestPoint(t *testing.T) {
	payload, date := fixturePayload(120, 90, 20)
	cfg := testConfig("2030-01-01", false)
	cfg.FallbackLatest = true
	brokerFake := &fakeBroker{snapshot: broker.Snapshot{Cash: decimal.NewFromInt(1500)}}
	eng := New(cfg, &fakeFeed{payload: payload}, brokerFake, newFakeStore(), recorder.NewNoopRecorder())

	result := eng.Run(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Analysis.Date != date {
		t.Fatalf("expected analysis for latest date %s, got %s", date, result.Analysis.Date)
	}
}

func TestRunFeedFailureIsFatal(t *testing.T) {
	eng := New(testConfig("2024-01-01", false), &fakeFeed{err: feed.ErrDataUnavailable}, &fakeBroker{}, newFakeStore(), recorder.NewNoopRecorder())

	result := eng.Run(context.Background())
	if result.Success {
		t.Fatalf("expected failure envelope")
	}
	if result.Error == "" {
		t.Fatalf("expected structured error message")
	}
}

func TestRunMarkerWriteFailureIsFatal(t *testing.T) {
	payload, date := fixturePayload(120, 90, 20)
	storeFake := newFakeStore()
	storeFake.putErr = errors.New("disk full")
	brokerFake := &fakeBroker{snapshot: broker.Snapshot{Cash: decimal.NewFromInt(1500)}}
	eng := New(testConfig(date, false), &fakeFeed{payload: payload}, brokerFake, storeFake, recorder.NewNoopRecorder())

	result := eng.Run(context.Background())
	if result.Success {
		t.Fatalf("expected failure when the idempotency marker cannot be written")
	}
}

func TestRunBrokerRejectionIsFatalButPersisted(t *testing.T) {
	payload, date := fixturePayload(120, 90, 20)
	storeFake := newFakeStore()
	brokerFake := &fakeBroker{
		snapshot: broker.Snapshot{Cash: decimal.NewFromInt(1500)},
		buyErr:   errors.New("rejected by broker"),
	}
	eng := New(testConfig(date, false), &fakeFeed{payload: payload}, brokerFake, storeFake, recorder.NewNoopRecorder())

	result := eng.Run(context.Background())
	if result.Success {
		t.Fatalf("expected failure envelope on broker rejection")
	}
	// the marker still lands, so a retry cannot double-submit
	if _, ok := storeFake.records[date]; !ok {
		t.Fatalf("expected record persisted after rejection")
	}
}

func TestRunAuditRecorderFailureIsNonFatal(t *testing.T) {
	payload, date := fixturePayload(120, 90, 20)
	brokerFake := &fakeBroker{snapshot: broker.Snapshot{Cash: decimal.NewFromInt(1500)}}
	eng := New(testConfig(date, false), &fakeFeed{payload: payload}, brokerFake, newFakeStore(), failingRecorder{})

	result := eng.Run(context.Background())
	if !result.Success {
		t.Fatalf("expected audit failure to be a warning only, got error %q", result.Error)
	}
}
