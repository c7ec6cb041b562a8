package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hl-grid-bot/internal/account"
	"hl-grid-bot/internal/audit"
	"hl-grid-bot/internal/config"
	"hl-grid-bot/internal/exec"
	"hl-grid-bot/internal/hl/ws"
	"hl-grid-bot/internal/market"
	"hl-grid-bot/internal/metrics"
	"hl-grid-bot/internal/state"
	"hl-grid-bot/internal/status"
	"hl-grid-bot/internal/strategy"

	"go.uber.org/zap"
)

// seenFillCapacity bounds the fill key dedupe window.
const seenFillCapacity = 20000

type AccountClient interface {
	User() string
	Balances(ctx context.Context) (*account.Snapshot, error)
	OpenOrders(ctx context.Context) ([]account.OpenOrder, error)
	OrderStatus(ctx context.Context, oid int64) (*account.OrderStatus, error)
}

type Feed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, sub ws.Subscription) error
	Messages(ctx context.Context, buffer int) <-chan ws.Message
}

type LeverageSetter interface {
	UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error
}

type Recorder interface {
	RecordSubmitted(rec audit.OrderSubmitted)
	RecordFill(rec audit.FillObserved)
}

// Deps are the venue and observability collaborators. Info, Account,
// Trader and Feed are required; the rest fall back to no-ops.
type Deps struct {
	Info     market.InfoClient
	Account  AccountClient
	Trader   exec.Trader
	Leverage LeverageSetter
	Feed     Feed
	Store    state.Store
	Audit    Recorder
	Hub      *status.Hub
	Metrics  *metrics.Metrics
}

// Engine owns the strategy, its context and the order book of pending
// orders. All of that state is touched only from the Run loop.
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	info     market.InfoClient
	account  AccountClient
	exec     *exec.Executor
	leverage LeverageSetter
	feed     Feed
	store    state.Store
	audit    Recorder
	hub      *status.Hub
	metrics  *metrics.Metrics
	now      func() time.Time

	strategy  strategy.Strategy
	sctx      *strategy.Context
	markets   market.Table
	market    *market.Info
	pending   map[strategy.Cloid]*pendingOrder
	completed *completedSet
	seen      *account.Seen
	lastPrice float64
}

func New(cfg *config.Config, deps Deps, log *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Info == nil || deps.Account == nil || deps.Trader == nil || deps.Feed == nil {
		return nil, errors.New("info, account, trader and feed are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	strat, err := BuildStrategy(cfg, log)
	if err != nil {
		return nil, err
	}
	if deps.Audit == nil {
		deps.Audit = (*audit.Writer)(nil)
	}
	if deps.Hub == nil {
		deps.Hub = status.NewHub(cfg.Status.Backlog, log)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	e := cfg.Engine
	return &Engine{
		cfg:       cfg,
		log:       log,
		info:      deps.Info,
		account:   deps.Account,
		exec:      exec.New(deps.Trader, e.RequestsPerSecond, e.RequestBurst, e.MarketSlippage, log),
		leverage:  deps.Leverage,
		feed:      deps.Feed,
		store:     deps.Store,
		audit:     deps.Audit,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		now:       time.Now,
		strategy:  strat,
		pending:   make(map[strategy.Cloid]*pendingOrder),
		completed: newCompletedSet(e.CompletedCacheSize),
		seen:      account.NewSeen(seenFillCapacity),
	}, nil
}

// BuildStrategy turns the validated strategy section into a grid variant.
func BuildStrategy(cfg *config.Config, log *zap.Logger) (strategy.Strategy, error) {
	s := cfg.Strategy
	grid := strategy.GridConfig{
		GridSpec: strategy.GridSpec{
			GridType:        strategy.GridType(s.GridType),
			Lower:           s.LowerPrice,
			Upper:           s.UpperPrice,
			GridCount:       s.GridCount,
			SpreadBips:      s.SpreadBips,
			TotalInvestment: s.TotalInvestment,
		},
		Symbol:            s.Symbol,
		TriggerPrice:      s.TriggerPrice,
		AcquisitionBuffer: cfg.Engine.AcquisitionBuffer,
		MinNotional:       cfg.Engine.MinNotional,
	}
	switch s.Type {
	case config.StrategySpotGrid:
		return strategy.NewSpotGrid(grid, log), nil
	case config.StrategyPerpGrid:
		return strategy.NewPerpGrid(strategy.PerpGridConfig{
			GridConfig: grid,
			Leverage:   s.Leverage,
			MarginMode: s.MarginMode,
			Bias:       strategy.Bias(s.Bias),
		}, log), nil
	default:
		return nil, fmt.Errorf("strategy type %q is not supported", s.Type)
	}
}

func (e *Engine) Hub() *status.Hub {
	return e.hub
}

// Run performs startup and then services one event at a time until ctx
// ends or a fatal error occurs.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.start(ctx); err != nil {
		e.publishError(err)
		return err
	}
	messages := e.feed.Messages(ctx, e.cfg.WS.Buffer)

	balanceC, stopBalance := tick(e.cfg.Engine.BalanceRefreshInterval)
	defer stopBalance()
	summaryC, stopSummary := tick(e.cfg.Engine.SummaryInterval)
	defer stopSummary()
	reconcileC, stopReconcile := tick(e.cfg.Engine.ReconcileInterval)
	defer stopReconcile()

	for {
		var err error
		select {
		case <-balanceC:
			if rerr := e.refreshBalances(ctx); rerr != nil {
				e.log.Warn("balance refresh failed", zap.Error(rerr))
			}
		case <-summaryC:
			e.publishSummary(ctx)
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			err = e.handleMessage(ctx, msg)
		case <-reconcileC:
			err = e.reconcile(ctx)
		}
		if err != nil && IsFatal(err) {
			e.publishError(err)
			return err
		}
	}
}

func tick(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func (e *Engine) start(ctx context.Context) error {
	markets, err := market.LoadTable(ctx, e.info)
	if err != nil {
		return Fatal(fmt.Errorf("load markets: %w", err))
	}
	info, ok := markets.Lookup(e.cfg.Strategy.Symbol)
	if !ok {
		return Fatal(fmt.Errorf("%w: %s", ErrUnknownSymbol, e.cfg.Strategy.Symbol))
	}
	if e.cfg.IsPerp() == info.IsSpot() {
		return Fatal(fmt.Errorf("%w: %s is not a %s market", ErrUnknownSymbol, info.Symbol, e.cfg.Strategy.Type))
	}
	e.markets = markets
	e.market = info
	e.sctx = strategy.NewContext(markets, nil)

	if mids, err := market.FetchMids(ctx, e.info); err != nil {
		e.log.Warn("initial mid fetch failed", zap.Error(err))
	} else if px, ok := mids[info.Coin]; ok {
		info.LastPrice = px
		e.lastPrice = px
	}

	if err := e.refreshBalances(ctx); err != nil {
		return Fatal(fmt.Errorf("initial balances: %w", err))
	}
	e.log.Info("market resolved",
		zap.String("symbol", info.Symbol),
		zap.String("coin", info.Coin),
		zap.Int("asset", info.AssetIndex),
		zap.Int("sz_decimals", info.SzDecimals),
		zap.Float64("mid", e.lastPrice),
	)
	e.log.Info("initial balances",
		zap.Any("spot", e.sctx.SpotBalances),
		zap.Any("perp", e.sctx.PerpBalances),
		zap.Any("positions", e.sctx.Positions),
	)
	if open, err := e.account.OpenOrders(ctx); err == nil && len(open) > 0 {
		e.log.Warn("account has open orders from a previous run", zap.Int("count", len(open)))
	}

	if perp, ok := e.strategy.(*strategy.PerpGrid); ok {
		e.configureLeverage(ctx, perp)
	}
	e.hub.Publish(status.EventConfig, e.configView())

	if err := e.feed.Connect(ctx); err != nil {
		return Fatal(fmt.Errorf("connect stream: %w", err))
	}
	user := e.account.User()
	for _, sub := range []ws.Subscription{ws.AllMids(), ws.UserFills(user)} {
		if err := e.feed.Subscribe(ctx, sub); err != nil {
			return Fatal(fmt.Errorf("subscribe %s: %w", sub.Type, err))
		}
	}
	return nil
}

// configureLeverage is best effort: the venue defaults stay in force when
// the update is rejected.
func (e *Engine) configureLeverage(ctx context.Context, perp *strategy.PerpGrid) {
	if e.leverage == nil {
		return
	}
	isCross := perp.MarginMode() != config.MarginIsolated
	if err := e.leverage.UpdateLeverage(ctx, e.market.AssetIndex, isCross, perp.Leverage()); err != nil {
		e.log.Warn("leverage update failed, using exchange defaults",
			zap.Int("leverage", perp.Leverage()), zap.Bool("cross", isCross), zap.Error(err))
		return
	}
	e.log.Info("leverage configured", zap.Int("leverage", perp.Leverage()), zap.Bool("cross", isCross))
}

func (e *Engine) configView() status.ConfigView {
	s := e.cfg.Strategy
	view := status.ConfigView{
		Strategy:        s.Type,
		Symbol:          e.market.Symbol,
		Network:         e.cfg.Network,
		LowerPrice:      s.LowerPrice,
		UpperPrice:      s.UpperPrice,
		GridType:        s.GridType,
		TotalInvestment: s.TotalInvestment,
		TriggerPrice:    s.TriggerPrice,
	}
	spec := strategy.GridSpec{
		GridType:   strategy.GridType(s.GridType),
		Lower:      s.LowerPrice,
		Upper:      s.UpperPrice,
		GridCount:  s.GridCount,
		SpreadBips: s.SpreadBips,
	}
	if levels, err := spec.Levels(e.market); err == nil {
		view.Levels = len(levels)
	}
	if e.cfg.IsPerp() {
		view.Leverage = s.Leverage
		view.MarginMode = s.MarginMode
		view.Bias = s.Bias
	}
	return view
}

func (e *Engine) refreshBalances(ctx context.Context) error {
	snap, err := e.account.Balances(ctx)
	if err != nil {
		return err
	}
	e.sctx.ReplaceBalances(convertBalances(snap.Spot), convertBalances(snap.Perp), snap.Positions)
	return nil
}

func convertBalances(in map[string]account.Balance) map[string]strategy.Balance {
	out := make(map[string]strategy.Balance, len(in))
	for asset, b := range in {
		out[asset] = strategy.Balance{Total: b.Total, Available: b.Available}
	}
	return out
}

func (e *Engine) publishSummary(ctx context.Context) {
	summary := e.strategy.Summary(e.sctx)
	e.hub.Publish(status.EventSummary, summary)
	e.publishGrid()
	e.metrics.ActiveOrders.Set(float64(summary.ActiveOrders))
	e.metrics.PendingOrders.Set(float64(len(e.pending)))
	e.metrics.Inventory.Set(summary.Inventory)
	e.metrics.RealizedPnL.Set(summary.RealizedPnL)
	e.metrics.TotalFees.Set(summary.TotalFees)
	if err := state.SaveSummarySnapshot(ctx, e.store, state.SummarySnapshot{
		Summary:     summary,
		UpdatedAtMS: e.now().UnixMilli(),
	}); err != nil {
		e.log.Warn("summary snapshot save failed", zap.Error(err))
	}
}

func (e *Engine) publishGrid() {
	e.hub.Publish(status.EventGrid, e.strategy.GridState(e.sctx))
}

func (e *Engine) publishError(err error) {
	e.hub.Publish(status.EventError, status.ErrorUpdate{Message: err.Error(), Fatal: IsFatal(err)})
}
