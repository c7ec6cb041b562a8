package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"hl-grid-bot/internal/account"
	"hl-grid-bot/internal/config"
	"hl-grid-bot/internal/hl/exchange"
	"hl-grid-bot/internal/hl/ws"
	"hl-grid-bot/internal/market"
	"hl-grid-bot/internal/status"
	"hl-grid-bot/internal/strategy"

	"go.uber.org/zap"
)

const (
	testSymbol = "HYPE/USDC"
	testCoin   = "@107"
)

type fakeInfo struct {
	responses map[string]any
}

func (f *fakeInfo) InfoAny(_ context.Context, req any) (any, error) {
	typ, _ := req.(map[string]any)["type"].(string)
	resp, ok := f.responses[typ]
	if !ok {
		return nil, errors.New("unexpected info request " + typ)
	}
	return resp, nil
}

func venueInfo() *fakeInfo {
	return &fakeInfo{responses: map[string]any{
		"meta": map[string]any{"universe": []any{
			map[string]any{"name": "BTC", "szDecimals": float64(5)},
			map[string]any{"name": "ETH", "szDecimals": float64(4)},
		}},
		"spotMeta": map[string]any{
			"universe": []any{map[string]any{"name": testCoin, "index": float64(107), "tokens": []any{float64(150), float64(0)}}},
			"tokens": []any{
				map[string]any{"name": "USDC", "index": float64(0), "szDecimals": float64(8)},
				map[string]any{"name": "HYPE", "index": float64(150), "szDecimals": float64(2)},
			},
		},
		"allMids": map[string]any{testCoin: "100", "ETH": "2500"},
	}}
}

type fakeAccount struct {
	snapshot    *account.Snapshot
	open        []account.OpenOrder
	openErr     error
	statuses    map[int64]*account.OrderStatus
	statusErr   error
	statusCalls []int64
}

func (f *fakeAccount) User() string { return "0x00000000000000000000000000000000000000aa" }

func (f *fakeAccount) Balances(context.Context) (*account.Snapshot, error) {
	if f.snapshot == nil {
		return &account.Snapshot{}, nil
	}
	return f.snapshot, nil
}

func (f *fakeAccount) OpenOrders(context.Context) ([]account.OpenOrder, error) {
	return f.open, f.openErr
}

func (f *fakeAccount) OrderStatus(_ context.Context, oid int64) (*account.OrderStatus, error) {
	f.statusCalls = append(f.statusCalls, oid)
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if st, ok := f.statuses[oid]; ok {
		return st, nil
	}
	return &account.OrderStatus{Status: account.StatusUnknownOid}, nil
}

type fakeTrader struct {
	mu      sync.Mutex
	orders  [][]exchange.OrderWire
	cancels [][]exchange.CancelByCloidWire
	respond func(orders []exchange.OrderWire) ([]exchange.OrderStatus, error)
	nextOID int64
}

func (f *fakeTrader) BulkOrder(_ context.Context, orders []exchange.OrderWire) ([]exchange.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, orders)
	if f.respond != nil {
		return f.respond(orders)
	}
	out := make([]exchange.OrderStatus, len(orders))
	for i := range orders {
		f.nextOID++
		out[i] = exchange.OrderStatus{Resting: true, OrderID: 1000 + f.nextOID - 1}
	}
	return out, nil
}

func (f *fakeTrader) BulkCancelByCloid(_ context.Context, cancels []exchange.CancelByCloidWire) ([]exchange.CancelStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, cancels)
	out := make([]exchange.CancelStatus, len(cancels))
	for i := range out {
		out[i] = exchange.CancelStatus{Success: true}
	}
	return out, nil
}

func (f *fakeTrader) orderCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeFeed struct {
	mu   sync.Mutex
	ch   chan ws.Message
	subs []ws.Subscription
}

func (f *fakeFeed) Connect(context.Context) error { return nil }

func (f *fakeFeed) Subscribe(_ context.Context, sub ws.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeFeed) Messages(context.Context, int) <-chan ws.Message {
	return f.ch
}

type fakeLeverage struct {
	calls []string
	err   error
}

func (f *fakeLeverage) UpdateLeverage(_ context.Context, _ int, isCross bool, _ int) error {
	mode := "isolated"
	if isCross {
		mode = "cross"
	}
	f.calls = append(f.calls, mode)
	return f.err
}

type fakeStrategy struct {
	onTick   func(px float64, ctx *strategy.Context) error
	fills    []strategy.OrderFill
	failures []strategy.Cloid
}

func (f *fakeStrategy) OnTick(px float64, ctx *strategy.Context) error {
	if f.onTick != nil {
		return f.onTick(px, ctx)
	}
	return nil
}

func (f *fakeStrategy) OnOrderFilled(fill strategy.OrderFill, _ *strategy.Context) error {
	f.fills = append(f.fills, fill)
	return nil
}

func (f *fakeStrategy) OnOrderFailed(cloid strategy.Cloid, _ *strategy.Context) error {
	f.failures = append(f.failures, cloid)
	return nil
}

func (f *fakeStrategy) Summary(*strategy.Context) strategy.Summary {
	return strategy.Summary{Strategy: "fake", Symbol: testSymbol}
}

func (f *fakeStrategy) GridState(*strategy.Context) strategy.GridState {
	return strategy.GridState{Symbol: testSymbol}
}

func testConfig() *config.Config {
	return &config.Config{
		Network: "testnet",
		WS:      config.WSConfig{Buffer: 16},
		Strategy: config.StrategyConfig{
			Type:            config.StrategySpotGrid,
			Symbol:          testSymbol,
			LowerPrice:      90,
			UpperPrice:      110,
			GridType:        config.GridArithmetic,
			GridCount:       5,
			TotalInvestment: 1000,
		},
		Engine: config.EngineConfig{
			FillThreshold:      0.9999,
			AcquisitionBuffer:  0.002,
			MarketSlippage:     0.05,
			MinNotional:        10,
			CompletedCacheSize: 100,
		},
		Status: config.StatusConfig{Backlog: 64},
	}
}

type harness struct {
	engine   *Engine
	strategy *fakeStrategy
	trader   *fakeTrader
	account  *fakeAccount
	feed     *fakeFeed
}

// newHarness builds an engine past startup with a fake strategy.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		strategy: &fakeStrategy{},
		trader:   &fakeTrader{},
		account:  &fakeAccount{statuses: make(map[int64]*account.OrderStatus)},
		feed:     &fakeFeed{ch: make(chan ws.Message, 16)},
	}
	e, err := New(testConfig(), Deps{Info: venueInfo(), Account: h.account, Trader: h.trader, Feed: h.feed}, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	spot := market.NewInfo(testSymbol, testCoin, market.KindSpot, market.SpotAssetOffset+107, 2)
	spot.Base, spot.Quote = "HYPE", "USDC"
	e.markets = market.Table{testSymbol: spot}
	e.market = spot
	e.sctx = strategy.NewContext(e.markets, nil)
	e.strategy = h.strategy
	e.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	h.engine = e
	return h
}

// queue makes the next tick emit the given orders.
func (h *harness) queue(reqs ...strategy.OrderRequest) []strategy.Cloid {
	ids := make([]strategy.Cloid, len(reqs))
	for i := range reqs {
		if reqs[i].Cloid.IsZero() && reqs[i].Kind != strategy.OrderCancel {
			reqs[i].Cloid = h.engine.sctx.NextCloid()
		}
		ids[i] = reqs[i].Cloid
	}
	h.strategy.onTick = func(_ float64, ctx *strategy.Context) error {
		for _, r := range reqs {
			ctx.PlaceOrder(r)
		}
		h.strategy.onTick = nil
		return nil
	}
	return ids
}

func limitBuy(price, size float64) strategy.OrderRequest {
	return strategy.OrderRequest{Kind: strategy.OrderLimit, Symbol: testSymbol, Side: strategy.SideBuy, Price: price, Size: size}
}

func fillMessage(t *testing.T, snapshot bool, fills ...map[string]any) ws.Message {
	t.Helper()
	list := make([]any, len(fills))
	for i, f := range fills {
		list[i] = f
	}
	data, err := json.Marshal(map[string]any{"user": "0xaa", "isSnapshot": snapshot, "fills": list})
	if err != nil {
		t.Fatalf("marshal fills: %v", err)
	}
	return ws.Message{Channel: ws.ChannelUserFills, Data: data}
}

func venueFill(cloid strategy.Cloid, oid int64, side string, size, px float64, tid int64) map[string]any {
	f := map[string]any{
		"coin": testCoin, "side": side, "sz": size, "px": px, "fee": 0.1,
		"oid": oid, "time": 1_700_000_000_000 + tid, "hash": "0xhash", "tid": tid,
	}
	if !cloid.IsZero() {
		f["cloid"] = cloid.String()
	}
	return f
}

func TestTickSendsOneBulkOrderAndOneBulkCancel(t *testing.T) {
	h := newHarness(t)
	stale := h.engine.sctx.NextCloid()
	h.queue(limitBuy(95, 1), limitBuy(96, 1), limitBuy(97, 1),
		strategy.OrderRequest{Kind: strategy.OrderCancel, Symbol: testSymbol, Cloid: stale})
	h.strategy.onTick = func(orig func(float64, *strategy.Context) error) func(float64, *strategy.Context) error {
		return func(px float64, ctx *strategy.Context) error {
			ctx.CancelOrder(testSymbol, h.engine.sctx.NextCloid())
			return orig(px, ctx)
		}
	}(h.strategy.onTick)

	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.trader.orders) != 1 || len(h.trader.orders[0]) != 3 {
		t.Fatalf("expected one bulk order of 3, got %+v", h.trader.orders)
	}
	if len(h.trader.cancels) != 1 || len(h.trader.cancels[0]) != 2 {
		t.Fatalf("expected one bulk cancel of 2, got %+v", h.trader.cancels)
	}
	if len(h.engine.pending) != 3 {
		t.Fatalf("expected 3 pending orders, got %d", len(h.engine.pending))
	}
	if err := h.engine.onPrice(context.Background(), 100.5); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.trader.orders) != 1 {
		t.Fatalf("expected no call on an empty tick, got %d", len(h.trader.orders))
	}
}

func TestPartialFillsAggregateAndFinalizeOnce(t *testing.T) {
	h := newHarness(t)
	ids := h.queue(limitBuy(100, 10))
	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("tick: %v", err)
	}
	id := ids[0]
	ctx := context.Background()

	steps := []struct {
		size, px  float64
		tid       int64
		wantFills int
	}{
		{4, 100, 1, 0},
		{3, 102, 2, 0},
		{3, 101, 3, 1},
		{1, 99, 4, 1},
	}
	for _, step := range steps {
		msg := fillMessage(t, false, venueFill(id, 1000, "B", step.size, step.px, step.tid))
		if err := h.engine.handleMessage(ctx, msg); err != nil {
			t.Fatalf("fill: %v", err)
		}
		if len(h.strategy.fills) != step.wantFills {
			t.Fatalf("after tid %d expected %d callbacks, got %d", step.tid, step.wantFills, len(h.strategy.fills))
		}
	}
	got := h.strategy.fills[0]
	if got.Size != 10 || math.Abs(got.Price-100.9) > 1e-9 || math.Abs(got.Fee-0.3) > 1e-9 {
		t.Fatalf("unexpected aggregate fill: %+v", got)
	}
	if got.Cloid != id || got.Side != strategy.SideBuy || got.OrderID != 1000 {
		t.Fatalf("unexpected fill identity: %+v", got)
	}
	if _, ok := h.engine.pending[id]; ok {
		t.Fatalf("expected pending order to be removed")
	}
	if !h.engine.completed.Contains(id) {
		t.Fatalf("expected cloid to be completed")
	}
	if bal := h.engine.sctx.SpotBalance("HYPE"); bal.Available != 10 {
		t.Fatalf("expected context balance to reflect the fill, got %+v", bal)
	}
}

func TestFinalizeAtThresholdNotBefore(t *testing.T) {
	p := &pendingOrder{target: 1}
	p.merge(0.9998, 10, 0)
	if p.complete(0.9999) {
		t.Fatalf("finalized below threshold")
	}
	p.merge(0.0001, 10, 0)
	if !p.complete(0.9999) {
		t.Fatalf("expected completion at threshold")
	}
}

func TestDuplicateFillDeliveredOnce(t *testing.T) {
	h := newHarness(t)
	msg := fillMessage(t, false, venueFill(strategy.Cloid{}, 77, "A", 1, 100, 9))
	for i := 0; i < 2; i++ {
		if err := h.engine.handleMessage(context.Background(), msg); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}
	if len(h.strategy.fills) != 1 {
		t.Fatalf("expected one callback, got %d", len(h.strategy.fills))
	}
	fill := h.strategy.fills[0]
	if !fill.Cloid.IsZero() || fill.Side != strategy.SideSell || fill.Symbol != testSymbol {
		t.Fatalf("unexpected untracked fill: %+v", fill)
	}
}

func TestSnapshotAndForeignFillsIgnored(t *testing.T) {
	h := newHarness(t)
	snapshot := fillMessage(t, true, venueFill(strategy.Cloid{}, 1, "B", 1, 100, 1))
	foreign := venueFill(strategy.Cloid{}, 2, "B", 1, 100, 2)
	foreign["coin"] = "ETH"
	for _, msg := range []ws.Message{snapshot, fillMessage(t, false, foreign)} {
		if err := h.engine.handleMessage(context.Background(), msg); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}
	if len(h.strategy.fills) != 0 {
		t.Fatalf("expected no callbacks, got %+v", h.strategy.fills)
	}
}

func TestImmediateFillCompletesCloid(t *testing.T) {
	h := newHarness(t)
	h.trader.respond = func(orders []exchange.OrderWire) ([]exchange.OrderStatus, error) {
		return []exchange.OrderStatus{{Filled: true, OrderID: 5, TotalSz: 2, AvgPx: 99.5}}, nil
	}
	ids := h.queue(limitBuy(100, 2))
	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.strategy.fills) != 1 || h.strategy.fills[0].Price != 99.5 || h.strategy.fills[0].Size != 2 {
		t.Fatalf("unexpected immediate fill: %+v", h.strategy.fills)
	}
	msg := fillMessage(t, false, venueFill(ids[0], 5, "B", 2, 99.5, 1))
	if err := h.engine.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if len(h.strategy.fills) != 1 || len(h.engine.pending) != 0 {
		t.Fatalf("expected the feed copy to be ignored")
	}
}

func TestItemErrorFailsOnlyThatOrder(t *testing.T) {
	h := newHarness(t)
	h.trader.respond = func(orders []exchange.OrderWire) ([]exchange.OrderStatus, error) {
		return []exchange.OrderStatus{{Resting: true, OrderID: 1}, {Error: "Order must have minimum value of $10."}}, nil
	}
	ids := h.queue(limitBuy(95, 1), limitBuy(96, 0.05))
	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.strategy.failures) != 1 || h.strategy.failures[0] != ids[1] {
		t.Fatalf("expected failure for second order, got %+v", h.strategy.failures)
	}
	if _, ok := h.engine.pending[ids[0]]; !ok {
		t.Fatalf("expected first order to be pending")
	}
}

func TestRequestLevelFailureFailsWholeBatch(t *testing.T) {
	h := newHarness(t)
	h.trader.respond = func([]exchange.OrderWire) ([]exchange.OrderStatus, error) {
		return nil, exchange.ErrRejected
	}
	h.queue(limitBuy(95, 1), limitBuy(96, 1), limitBuy(97, 1))
	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("request failure must not stop the loop: %v", err)
	}
	if len(h.strategy.failures) != 3 || len(h.engine.pending) != 0 {
		t.Fatalf("expected 3 failures and nothing pending, got %d and %d", len(h.strategy.failures), len(h.engine.pending))
	}
}

func TestUnknownMarketOrderFailsWithoutRequest(t *testing.T) {
	h := newHarness(t)
	req := limitBuy(95, 1)
	req.Symbol = "NOPE"
	h.queue(req)
	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if h.trader.orderCalls() != 0 || len(h.strategy.failures) != 1 {
		t.Fatalf("expected local failure only, calls=%d failures=%d", h.trader.orderCalls(), len(h.strategy.failures))
	}
}

func TestFatalTickErrorStops(t *testing.T) {
	h := newHarness(t)
	h.strategy.onTick = func(float64, *strategy.Context) error {
		return strategy.ErrInsufficientFunds
	}
	err := h.engine.onPrice(context.Background(), 100)
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestReconcileResolvesMissingOrders(t *testing.T) {
	h := newHarness(t)
	ids := h.queue(limitBuy(95, 2), limitBuy(96, 2), limitBuy(97, 2), limitBuy(98, 2))
	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("tick: %v", err)
	}
	h.account.open = []account.OpenOrder{{OrderID: 1003, Coin: testCoin}}
	h.account.statuses[1000] = &account.OrderStatus{Status: "filled", Order: account.OrderRecord{OrderID: 1000, Side: "B", LimitPx: 95, OrigSize: 2}}
	h.account.statuses[1001] = &account.OrderStatus{Status: "canceled"}
	h.account.statuses[1002] = &account.OrderStatus{Status: "open"}

	if err := h.engine.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(h.account.statusCalls) != 3 {
		t.Fatalf("expected one query per missing order, got %v", h.account.statusCalls)
	}
	if len(h.strategy.fills) != 1 || h.strategy.fills[0].Cloid != ids[0] || h.strategy.fills[0].Size != 2 || h.strategy.fills[0].Price != 95 {
		t.Fatalf("unexpected synthesized fill: %+v", h.strategy.fills)
	}
	if len(h.strategy.failures) != 1 || h.strategy.failures[0] != ids[1] {
		t.Fatalf("unexpected failures: %+v", h.strategy.failures)
	}
	if _, ok := h.engine.pending[ids[2]]; !ok {
		t.Fatalf("unresolved order must stay pending")
	}
	if _, ok := h.engine.pending[ids[3]]; !ok {
		t.Fatalf("open order must stay pending")
	}
	if len(h.engine.pending) != 2 {
		t.Fatalf("expected 2 pending orders, got %d", len(h.engine.pending))
	}

	h.account.statusCalls = nil
	if err := h.engine.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(h.account.statusCalls) != 1 || h.account.statusCalls[0] != 1002 {
		t.Fatalf("expected only the unresolved order to be queried again, got %v", h.account.statusCalls)
	}
	if len(h.strategy.fills) != 1 || len(h.strategy.failures) != 1 {
		t.Fatalf("second pass must not produce callbacks")
	}

	late := fillMessage(t, false, venueFill(ids[0], 1000, "B", 2, 95, 1))
	if err := h.engine.handleMessage(context.Background(), late); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if len(h.strategy.fills) != 1 {
		t.Fatalf("late feed fill for a reconciled order must be ignored")
	}
}

func TestReconcileUsesAggregatedPriceAndFees(t *testing.T) {
	h := newHarness(t)
	ids := h.queue(limitBuy(95, 2))
	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := h.engine.handleMessage(context.Background(), fillMessage(t, false, venueFill(ids[0], 1000, "B", 1, 94, 1))); err != nil {
		t.Fatalf("fill: %v", err)
	}
	h.account.statuses[1000] = &account.OrderStatus{Status: "filled", Order: account.OrderRecord{OrigSize: 2, LimitPx: 95}}
	if err := h.engine.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(h.strategy.fills) != 1 {
		t.Fatalf("expected one synthesized fill")
	}
	fill := h.strategy.fills[0]
	if math.Abs(fill.Price-94.5) > 1e-9 || fill.Size != 2 || math.Abs(fill.Fee-0.1) > 1e-9 {
		t.Fatalf("unexpected synthesized fill: %+v", fill)
	}
}

func TestReconcileWithoutFeedFillsUsesLimitPrice(t *testing.T) {
	h := newHarness(t)
	h.queue(limitBuy(95, 2))
	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("tick: %v", err)
	}
	h.account.statuses[1000] = &account.OrderStatus{Status: "filled", Order: account.OrderRecord{OrigSize: 2}}
	if err := h.engine.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(h.strategy.fills) != 1 {
		t.Fatalf("expected one synthesized fill")
	}
	if fill := h.strategy.fills[0]; fill.Price != 95 || fill.Size != 2 || fill.Fee != 0 {
		t.Fatalf("expected 2 @ 95 from the submitted limit, got %+v", fill)
	}
}

func TestReconcileQueryFailureTakesNoAction(t *testing.T) {
	h := newHarness(t)
	h.queue(limitBuy(95, 2))
	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("tick: %v", err)
	}
	h.account.statusErr = errors.New("timeout")
	if err := h.engine.reconcile(context.Background()); err != nil {
		t.Fatalf("query failure must not escalate: %v", err)
	}
	if len(h.engine.pending) != 1 || len(h.strategy.fills)+len(h.strategy.failures) != 0 {
		t.Fatalf("expected no action on query failure")
	}
	h.account.statusErr = nil
	h.account.openErr = errors.New("down")
	h.account.statusCalls = nil
	if err := h.engine.reconcile(context.Background()); err != nil {
		t.Fatalf("open order failure must not escalate: %v", err)
	}
	if len(h.account.statusCalls) != 0 {
		t.Fatalf("expected no status queries without an open order snapshot")
	}
}

func TestReconcileSkipsCompletedCloids(t *testing.T) {
	h := newHarness(t)
	ids := h.queue(limitBuy(95, 2))
	if err := h.engine.onPrice(context.Background(), 100); err != nil {
		t.Fatalf("tick: %v", err)
	}
	h.engine.completed.Add(ids[0])
	if err := h.engine.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(h.account.statusCalls) != 0 || len(h.engine.pending) != 0 {
		t.Fatalf("completed order must be dropped without a query")
	}
}

func TestTerminalWithoutFill(t *testing.T) {
	for _, s := range []string{"canceled", "rejected", "marginCanceled", "reduceOnlyCanceled", "minTradeNtlRejected"} {
		if !terminalWithoutFill(s) {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []string{"open", "filled", "triggered", "unknownOid"} {
		if terminalWithoutFill(s) {
			t.Fatalf("expected %s to be unresolved", s)
		}
	}
}

func TestCompletedSetEvictsOldest(t *testing.T) {
	set := newCompletedSet(2)
	ids := strategy.NewCloidSource()
	a, b, c := ids.Next(), ids.Next(), ids.Next()
	set.Add(a)
	set.Add(b)
	set.Add(b)
	set.Add(strategy.Cloid{})
	if set.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", set.Len())
	}
	set.Add(c)
	if set.Contains(a) || !set.Contains(b) || !set.Contains(c) {
		t.Fatalf("expected oldest entry to be evicted")
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(errors.New("transient")) || IsFatal(nil) {
		t.Fatalf("plain errors are not fatal")
	}
	if !IsFatal(Fatal(errors.New("boom"))) {
		t.Fatalf("wrapped error must be fatal")
	}
	if !IsFatal(errors.Join(errors.New("ctx"), strategy.ErrInsufficientFunds)) {
		t.Fatalf("insufficient funds must be fatal")
	}
}

func TestRunStartsGridAndStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	trader := &fakeTrader{}
	feed := &fakeFeed{ch: make(chan ws.Message, 4)}
	acct := &fakeAccount{snapshot: &account.Snapshot{
		Spot: map[string]account.Balance{"HYPE": {Total: 100, Available: 100}, "USDC": {Total: 2000, Available: 2000}},
	}}
	hub := status.NewHub(64, zap.NewNop())
	sub := hub.Subscribe()
	defer sub.Close()
	e, err := New(cfg, Deps{Info: venueInfo(), Account: acct, Trader: trader, Feed: feed, Hub: hub}, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	feed.ch <- ws.Message{Channel: ws.ChannelAllMids, Data: json.RawMessage(`{"mids":{"@107":"100","ETH":"2500"}}`)}
	deadline := time.After(2 * time.Second)
	for trader.orderCalls() == 0 {
		select {
		case <-deadline:
			t.Fatalf("grid orders were not placed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if got := len(trader.orders[0]); got != 4 {
		t.Fatalf("expected 4 zone orders in the first batch, got %d", got)
	}
	if len(feed.subs) != 2 || feed.subs[0].Type != "allMids" || feed.subs[1].Type != "userFills" {
		t.Fatalf("unexpected subscriptions %+v", feed.subs)
	}
	first := <-sub.Events()
	if first.Type != status.EventConfig {
		t.Fatalf("expected config event first, got %s", first.Type)
	}
	if view := first.Data.(status.ConfigView); view.Levels != 5 || view.Symbol != testSymbol {
		t.Fatalf("unexpected config view %+v", view)
	}
}

func TestRunUnknownSymbolIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.Symbol = "NOPE/USDC"
	e, err := New(cfg, Deps{Info: venueInfo(), Account: &fakeAccount{}, Trader: &fakeTrader{}, Feed: &fakeFeed{}}, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	err = e.Run(context.Background())
	if !errors.Is(err, ErrUnknownSymbol) || !IsFatal(err) {
		t.Fatalf("expected fatal unknown symbol, got %v", err)
	}
}

func TestRunPerpConfiguresLeverage(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = config.StrategyConfig{
		Type: config.StrategyPerpGrid, Symbol: "ETH", LowerPrice: 2000, UpperPrice: 3000,
		GridType: config.GridGeometric, GridCount: 6, TotalInvestment: 5000,
		Leverage: 3, MarginMode: config.MarginIsolated, Bias: config.BiasNeutral,
	}
	lev := &fakeLeverage{err: errors.New("rejected")}
	acct := &fakeAccount{snapshot: &account.Snapshot{Perp: map[string]account.Balance{account.MarginAsset: {Total: 10000, Available: 10000}}}}
	feed := &fakeFeed{ch: make(chan ws.Message)}
	e, err := New(cfg, Deps{Info: venueInfo(), Account: acct, Trader: &fakeTrader{}, Feed: feed, Leverage: lev}, zap.NewNop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	deadline := time.After(2 * time.Second)
	for {
		feed.mu.Lock()
		n := len(feed.subs)
		feed.mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("engine did not finish startup")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("leverage failure must not be fatal, got %v", err)
	}
	if len(lev.calls) != 1 || lev.calls[0] != "isolated" {
		t.Fatalf("unexpected leverage calls %v", lev.calls)
	}
}
