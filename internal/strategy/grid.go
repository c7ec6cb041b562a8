package strategy

import (
	"fmt"
	"time"

	"hl-grid-bot/internal/market"

	"go.uber.org/zap"
)

// GridConfig is the grid definition plus the numeric constants the state
// machine needs.
type GridConfig struct {
	GridSpec
	Symbol            string
	TriggerPrice      *float64
	AcquisitionBuffer float64
	MinNotional       float64
}

// venue captures what differs between spot and perp grids.
type venue interface {
	name() string
	orienter() Orienter
	// held returns the long and short inventory available to the grid.
	held(ctx *Context, info *market.Info) (long, short float64)
	// fund fails with ErrInsufficientFunds when cost cannot be paid for.
	fund(ctx *Context, info *market.Info, cost float64) error
	reduceOnly() bool
	decorate(ctx *Context, s *Summary)
}

type grid struct {
	cfg     GridConfig
	venue   venue
	log     *zap.Logger
	machine *StateMachine

	zones        []*Zone
	orders       map[Cloid]int
	acquisition  Cloid
	startPrice   float64
	lastPrice    float64
	levelCount   int
	pos          position
	realizedPnL  float64
	fees         float64
	roundtrips   int
	startedAt    time.Time
	marketSymbol string
}

func newGrid(cfg GridConfig, v venue, allowShort bool, log *zap.Logger) *grid {
	if log == nil {
		log = zap.NewNop()
	}
	return &grid{
		cfg:       cfg,
		venue:     v,
		log:       log.With(zap.String("strategy", v.name()), zap.String("symbol", cfg.Symbol)),
		machine:   NewStateMachine(),
		orders:    make(map[Cloid]int),
		pos:       position{allowShort: allowShort},
		startedAt: time.Now(),
	}
}

func (g *grid) State() State {
	return g.machine.State
}

func (g *grid) Zones() []Zone {
	out := make([]Zone, len(g.zones))
	for i, z := range g.zones {
		out[i] = *z
	}
	return out
}

func (g *grid) market(ctx *Context) (*market.Info, error) {
	info, ok := ctx.Market(g.cfg.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, g.cfg.Symbol)
	}
	return info, nil
}

func (g *grid) OnTick(price float64, ctx *Context) error {
	if price <= 0 {
		return nil
	}
	g.lastPrice = price
	switch g.machine.State {
	case StateInitializing:
		return g.initialize(price, ctx)
	case StateWaitingForTrigger:
		if g.triggered(price) {
			g.machine.Apply(EventTriggered)
			g.log.Info("trigger reached", zap.Float64("price", price), zap.Float64("trigger", *g.cfg.TriggerPrice))
			return g.placeZoneOrders(ctx)
		}
	case StateRunning:
		return g.placeZoneOrders(ctx)
	}
	return nil
}

func (g *grid) initialize(price float64, ctx *Context) error {
	info, err := g.market(ctx)
	if err != nil {
		return err
	}
	g.marketSymbol = info.Symbol
	levels, err := g.cfg.Levels(info)
	if err != nil {
		return err
	}
	g.levelCount = len(levels)
	reference := price
	if g.cfg.TriggerPrice != nil {
		reference = *g.cfg.TriggerPrice
	}
	g.zones = BuildZones(levels, reference, g.cfg.TotalInvestment, g.cfg.MinNotional, info, g.venue.orienter())
	g.orders = make(map[Cloid]int)

	var needLong, needShort float64
	for _, z := range g.zones {
		switch {
		case !z.Short && z.State == ZoneWaitingSell:
			needLong += z.Size
		case z.Short && z.State == ZoneWaitingBuy:
			needShort += z.Size
		}
	}
	heldLong, heldShort := g.venue.held(ctx, info)
	g.log.Info("grid initialized",
		zap.Int("zones", len(g.zones)),
		zap.Float64("reference", reference),
		zap.Float64("required_long", needLong),
		zap.Float64("held_long", heldLong),
		zap.Float64("required_short", needShort),
		zap.Float64("held_short", heldShort),
	)

	if deficit := info.RoundSize(needLong - heldLong); deficit > 0 {
		return g.acquire(ctx, info, SideBuy, deficit, price, levels)
	}
	if deficit := info.RoundSize(needShort - heldShort); deficit > 0 {
		return g.acquire(ctx, info, SideSell, deficit, price, levels)
	}
	g.seedEntries(reference)
	if g.cfg.TriggerPrice != nil {
		g.startPrice = price
		g.machine.Apply(EventArm)
		g.log.Info("waiting for trigger", zap.Float64("start_price", price), zap.Float64("trigger", *g.cfg.TriggerPrice))
		return nil
	}
	g.machine.Apply(EventStart)
	return g.placeZoneOrders(ctx)
}

func (g *grid) acquire(ctx *Context, info *market.Info, side Side, deficit, price float64, levels []float64) error {
	acqPrice := info.RoundPrice(acquisitionPrice(side, price, g.cfg.TriggerPrice, levels))
	size := info.RoundSize(deficit * (1 + g.cfg.AcquisitionBuffer))
	if floor := info.EnsureMinSize(acqPrice, g.cfg.MinNotional); size < floor {
		size = floor
	}
	if err := g.venue.fund(ctx, info, size*acqPrice); err != nil {
		return err
	}
	cloid := ctx.NextCloid()
	ctx.PlaceOrder(OrderRequest{
		Kind:   OrderLimit,
		Symbol: info.Symbol,
		Side:   side,
		Price:  acqPrice,
		Size:   size,
		Cloid:  cloid,
	})
	g.acquisition = cloid
	g.machine.Apply(EventAcquire)
	g.log.Info("acquiring assets",
		zap.String("side", string(side)),
		zap.Float64("deficit", deficit),
		zap.Float64("size", size),
		zap.Float64("price", acqPrice),
		zap.Stringer("cloid", cloid),
	)
	return nil
}

// acquisitionPrice prefers the trigger, then the nearest level on the passive
// side of the current price, then the outer boundary.
func acquisitionPrice(side Side, price float64, trigger *float64, levels []float64) float64 {
	if trigger != nil {
		return *trigger
	}
	if side.IsBuy() {
		for i := len(levels) - 1; i >= 0; i-- {
			if levels[i] <= price {
				return levels[i]
			}
		}
		return levels[0]
	}
	for _, lvl := range levels {
		if lvl >= price {
			return lvl
		}
	}
	return levels[len(levels)-1]
}

func (g *grid) triggered(price float64) bool {
	if g.cfg.TriggerPrice == nil {
		return true
	}
	trigger := *g.cfg.TriggerPrice
	if g.startPrice < trigger {
		return price >= trigger
	}
	return price <= trigger
}

func (g *grid) placeZoneOrders(ctx *Context) error {
	for _, z := range g.zones {
		if z.HasOrder() {
			continue
		}
		g.placeZoneOrder(ctx, z)
	}
	return nil
}

func (g *grid) placeZoneOrder(ctx *Context, z *Zone) {
	cloid := ctx.NextCloid()
	ctx.PlaceOrder(OrderRequest{
		Kind:       OrderLimit,
		Symbol:     g.marketSymbol,
		Side:       z.NextSide(),
		Price:      z.NextPrice(),
		Size:       z.Size,
		ReduceOnly: g.venue.reduceOnly() && z.closing(),
		Cloid:      cloid,
	})
	z.Order = cloid
	g.orders[cloid] = z.Index
}

func (g *grid) OnOrderFilled(fill OrderFill, ctx *Context) error {
	if g.machine.State == StateAcquiringAssets && !fill.Cloid.IsZero() && fill.Cloid == g.acquisition {
		return g.onAcquired(fill, ctx)
	}
	idx, ok := g.orders[fill.Cloid]
	if !ok || fill.Cloid.IsZero() {
		g.log.Debug("fill for order outside the grid", zap.Stringer("cloid", fill.Cloid), zap.Float64("size", fill.Size))
		return nil
	}
	z := g.zones[idx]
	if z.NextSide() != fill.Side {
		return fmt.Errorf("%w: zone %d is %s, got %s fill", ErrZoneState, z.Index, z.State, fill.Side)
	}
	delete(g.orders, fill.Cloid)
	z.Order = Cloid{}
	g.fees += fill.Fee
	g.pos.apply(fill.Side, fill.Size, fill.Price)

	if z.closing() {
		pnl := (fill.Price - z.EntryPrice) * fill.Size
		if z.Short {
			pnl = -pnl
		}
		g.realizedPnL += pnl
		z.Roundtrips++
		g.roundtrips++
		z.EntryPrice = 0
		g.log.Info("zone roundtrip",
			zap.Int("zone", z.Index),
			zap.Float64("pnl", pnl),
			zap.Float64("realized_pnl", g.realizedPnL),
			zap.Int("roundtrips", z.Roundtrips),
		)
	} else {
		z.EntryPrice = fill.Price
	}
	if fill.Side.IsBuy() {
		z.State = ZoneWaitingSell
	} else {
		z.State = ZoneWaitingBuy
	}
	if g.machine.State == StateRunning {
		g.placeZoneOrder(ctx, z)
	}
	return nil
}

func (g *grid) onAcquired(fill OrderFill, ctx *Context) error {
	g.fees += fill.Fee
	g.pos.apply(fill.Side, fill.Size, fill.Price)
	g.seedEntries(fill.Price)
	g.acquisition = Cloid{}
	g.machine.Apply(EventAcquired)
	g.log.Info("acquisition filled", zap.Float64("size", fill.Size), zap.Float64("price", fill.Price))
	return g.placeZoneOrders(ctx)
}

// seedEntries prices the zones that start out holding a position.
func (g *grid) seedEntries(price float64) {
	for _, z := range g.zones {
		if z.closing() {
			z.EntryPrice = price
		}
	}
}

func (g *grid) OnOrderFailed(cloid Cloid, _ *Context) error {
	if g.machine.State == StateAcquiringAssets && cloid == g.acquisition {
		g.acquisition = Cloid{}
		g.machine.Apply(EventAcquireFailed)
		g.log.Warn("acquisition order failed, re-initializing", zap.Stringer("cloid", cloid))
		return nil
	}
	idx, ok := g.orders[cloid]
	if !ok {
		return nil
	}
	delete(g.orders, cloid)
	g.zones[idx].Order = Cloid{}
	g.log.Warn("zone order failed", zap.Int("zone", idx), zap.Stringer("cloid", cloid))
	return nil
}

func (g *grid) Summary(ctx *Context) Summary {
	s := Summary{
		Strategy:      g.venue.name(),
		Symbol:        g.cfg.Symbol,
		State:         g.machine.State,
		Price:         g.lastPrice,
		Inventory:     g.pos.size,
		AvgEntryPrice: g.pos.avgEntry,
		RealizedPnL:   g.realizedPnL,
		UnrealizedPnL: g.pos.unrealized(g.lastPrice),
		TotalFees:     g.fees,
		Roundtrips:    g.roundtrips,
		Zones:         len(g.zones),
		ActiveOrders:  len(g.orders),
		UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
	}
	for _, z := range g.zones {
		if z.State == ZoneWaitingBuy {
			s.BuyZones++
		} else {
			s.SellZones++
		}
	}
	s.SpacingMinPct, s.SpacingMaxPct = g.cfg.Spacing(g.levelCount)
	g.venue.decorate(ctx, &s)
	return s
}

func (g *grid) GridState(_ *Context) GridState {
	state := GridState{
		Symbol: g.cfg.Symbol,
		State:  g.machine.State,
		Price:  g.lastPrice,
		Zones:  make([]ZoneView, 0, len(g.zones)),
	}
	for _, z := range g.zones {
		state.Zones = append(state.Zones, z.view())
	}
	return state
}
