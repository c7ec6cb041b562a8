package engine

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"hl-grid-bot/internal/account"
	"hl-grid-bot/internal/audit"
	"hl-grid-bot/internal/exec"
	"hl-grid-bot/internal/hl/ws"
	"hl-grid-bot/internal/market"
	"hl-grid-bot/internal/status"
	"hl-grid-bot/internal/strategy"

	"go.uber.org/zap"
)

const (
	orderStatusFilled         = "filled"
	orderStatusCanceled       = "canceled"
	orderStatusRejected       = "rejected"
	orderStatusMarginCanceled = "marginCanceled"
)

func (e *Engine) handleMessage(ctx context.Context, msg ws.Message) error {
	switch msg.Channel {
	case ws.ChannelAllMids:
		var payload any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			e.log.Debug("mids message skipped", zap.Error(err))
			return nil
		}
		px, ok := market.ParseMids(payload)[e.market.Coin]
		if !ok {
			return nil
		}
		return e.onPrice(ctx, px)
	case ws.ChannelUser, ws.ChannelUserFills:
		event, err := account.ParseFillEvent(msg.Data)
		if err != nil {
			e.log.Warn("fill message skipped", zap.Error(err))
			return nil
		}
		if event.Snapshot {
			e.log.Debug("fill snapshot ignored", zap.Int("fills", len(event.Fills)))
			return nil
		}
		for _, fill := range event.Fills {
			if err := e.onFill(fill); err != nil {
				return err
			}
		}
	}
	return nil
}

// onPrice runs one tick: the strategy sees the price, then whatever it
// queued goes out as at most one bulk cancel and one bulk order.
func (e *Engine) onPrice(ctx context.Context, px float64) error {
	e.lastPrice = px
	e.market.LastPrice = px
	e.metrics.LastPrice.Set(px)
	e.hub.Publish(status.EventMarket, status.MarketUpdate{Symbol: e.market.Symbol, Price: px})
	if err := e.strategy.OnTick(px, e.sctx); err != nil {
		if IsFatal(err) {
			return err
		}
		e.log.Warn("strategy tick failed", zap.Error(err))
	}
	return e.flush(ctx)
}

func (e *Engine) flush(ctx context.Context) error {
	cancels := e.sctx.DrainCancels()
	var orders []strategy.OrderRequest
	for _, req := range e.sctx.DrainOrders() {
		if req.Kind == strategy.OrderCancel {
			cancels = append(cancels, strategy.CancelRequest{Symbol: req.Symbol, Cloid: req.Cloid})
			continue
		}
		orders = append(orders, req)
	}
	if len(cancels) > 0 {
		e.cancelBatch(ctx, cancels)
	}
	if len(orders) > 0 {
		return e.placeBatch(ctx, orders)
	}
	return nil
}

// cancelBatch is fire and forget: failures are logged and left for the
// next tick or reconciliation to straighten out.
func (e *Engine) cancelBatch(ctx context.Context, cancels []strategy.CancelRequest) {
	for _, c := range cancels {
		e.hub.Publish(status.EventOrder, status.OrderUpdate{Phase: status.OrderCancelling, Cloid: c.Cloid.String(), Symbol: c.Symbol})
		e.metrics.CancelsSubmitted.Inc()
	}
	results, err := e.exec.CancelBatch(ctx, e.markets, cancels)
	if err != nil {
		e.metrics.BatchFailures.Inc()
		e.log.Warn("bulk cancel failed", zap.Int("count", len(cancels)), zap.Error(err))
	}
	for _, r := range results {
		switch {
		case r.Err != nil:
			e.log.Warn("cancel not sent", zap.String("cloid", r.Request.Cloid.String()), zap.Error(r.Err))
		case r.Status.Success:
			e.log.Debug("cancel accepted", zap.String("cloid", r.Request.Cloid.String()))
		case r.Status.Error != "":
			e.log.Warn("cancel rejected", zap.String("cloid", r.Request.Cloid.String()), zap.String("error", r.Status.Error))
		}
	}
}

func (e *Engine) placeBatch(ctx context.Context, reqs []strategy.OrderRequest) error {
	prepared := e.exec.Prepare(e.markets, reqs)
	now := e.now()
	sendable := 0
	for _, p := range prepared {
		if p.Err != nil {
			e.log.Warn("order not sent", zap.String("cloid", p.Request.Cloid.String()), zap.Error(p.Err))
			if err := e.failOrder(p.Request, p.Err.Error()); err != nil {
				return err
			}
			continue
		}
		sendable++
		e.audit.RecordSubmitted(audit.OrderSubmitted{
			Time:       now,
			Cloid:      p.Request.Cloid.String(),
			Symbol:     p.Market.Symbol,
			Side:       string(p.Request.Side),
			Kind:       string(p.Request.Kind),
			Price:      p.Price,
			Size:       p.Size,
			ReduceOnly: p.Request.ReduceOnly,
		})
		e.hub.Publish(status.EventOrder, status.OrderUpdate{
			Phase:      status.OrderOpening,
			Cloid:      p.Request.Cloid.String(),
			Symbol:     p.Market.Symbol,
			Side:       string(p.Request.Side),
			Price:      p.Price,
			Size:       p.Size,
			ReduceOnly: p.Request.ReduceOnly,
		})
	}
	if sendable == 0 {
		return nil
	}
	results, err := e.exec.Submit(ctx, prepared)
	if err != nil {
		e.metrics.BatchFailures.Inc()
		e.log.Warn("bulk order failed", zap.Int("count", sendable), zap.Error(err))
		for _, p := range prepared {
			if p.Err != nil {
				continue
			}
			if ferr := e.failOrder(p.Request, err.Error()); ferr != nil {
				return ferr
			}
		}
		return nil
	}
	for _, r := range results {
		e.metrics.OrdersSubmitted.Inc()
		var err error
		switch {
		case r.Status.Error != "":
			e.log.Warn("order rejected", zap.String("cloid", r.Request.Cloid.String()), zap.String("error", r.Status.Error))
			err = e.failOrder(r.Request, r.Status.Error)
		case r.Status.Filled:
			err = e.immediateFill(r)
		default:
			e.track(r, now)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) track(r exec.Result, now time.Time) {
	e.metrics.OrdersResting.Inc()
	e.hub.Publish(status.EventOrder, status.OrderUpdate{
		Phase:      status.OrderOpen,
		Cloid:      r.Request.Cloid.String(),
		OrderID:    r.Status.OrderID,
		Symbol:     r.Market.Symbol,
		Side:       string(r.Request.Side),
		Price:      r.Price,
		Size:       r.Size,
		ReduceOnly: r.Request.ReduceOnly,
	})
	if r.Request.Cloid.IsZero() {
		e.log.Debug("order without cloid is not tracked", zap.Int64("oid", r.Status.OrderID))
		return
	}
	e.pending[r.Request.Cloid] = &pendingOrder{
		cloid:       r.Request.Cloid,
		orderID:     r.Status.OrderID,
		symbol:      r.Market.Symbol,
		side:        r.Request.Side,
		limitPx:     r.Price,
		target:      r.Size,
		reduceOnly:  r.Request.ReduceOnly,
		submittedAt: now,
	}
}

// immediateFill handles an order the venue matched in full on submission.
func (e *Engine) immediateFill(r exec.Result) error {
	size := r.Status.TotalSz
	if size <= 0 {
		size = r.Size
	}
	px := r.Status.AvgPx
	if px <= 0 {
		px = r.Price
	}
	fill := strategy.OrderFill{
		Symbol:     r.Market.Symbol,
		Side:       r.Request.Side,
		Size:       size,
		Price:      px,
		ReduceOnly: r.Request.ReduceOnly,
		Cloid:      r.Request.Cloid,
		OrderID:    r.Status.OrderID,
		TimeMS:     e.now().UnixMilli(),
	}
	return e.finalize(fill, nil)
}

// finalize marks the cloid completed, records the fill and hands it to the
// strategy. p is the pending entry being closed, if any.
func (e *Engine) finalize(fill strategy.OrderFill, p *pendingOrder) error {
	if p != nil {
		delete(e.pending, p.cloid)
	}
	e.completed.Add(fill.Cloid)
	e.metrics.OrdersFilled.Inc()
	e.audit.RecordFill(audit.FillObserved{
		Time:    e.now(),
		Cloid:   fill.Cloid.String(),
		OrderID: fill.OrderID,
		Symbol:  fill.Symbol,
		Side:    string(fill.Side),
		Price:   fill.Price,
		Size:    fill.Size,
		Fee:     fill.Fee,
		Final:   true,
	})
	e.hub.Publish(status.EventOrder, status.OrderUpdate{
		Phase:      status.OrderFilled,
		Cloid:      fill.Cloid.String(),
		OrderID:    fill.OrderID,
		Symbol:     fill.Symbol,
		Side:       string(fill.Side),
		Filled:     fill.Size,
		AvgPrice:   fill.Price,
		ReduceOnly: fill.ReduceOnly,
	})
	return e.deliverFill(fill)
}

func (e *Engine) deliverFill(fill strategy.OrderFill) error {
	if info, ok := e.markets.Lookup(fill.Symbol); ok {
		e.sctx.ApplyFill(info, fill)
	}
	if err := e.strategy.OnOrderFilled(fill, e.sctx); err != nil {
		if IsFatal(err) {
			return err
		}
		e.log.Warn("strategy fill callback failed", zap.String("cloid", fill.Cloid.String()), zap.Error(err))
		return nil
	}
	e.publishGrid()
	return nil
}

func (e *Engine) failOrder(req strategy.OrderRequest, reason string) error {
	e.metrics.OrdersFailed.Inc()
	e.completed.Add(req.Cloid)
	e.hub.Publish(status.EventOrder, status.OrderUpdate{
		Phase:      status.OrderFailed,
		Cloid:      req.Cloid.String(),
		Symbol:     req.Symbol,
		Side:       string(req.Side),
		Price:      req.Price,
		Size:       req.Size,
		ReduceOnly: req.ReduceOnly,
		Reason:     reason,
	})
	if err := e.strategy.OnOrderFailed(req.Cloid, e.sctx); err != nil {
		if IsFatal(err) {
			return err
		}
		e.log.Warn("strategy failure callback failed", zap.String("cloid", req.Cloid.String()), zap.Error(err))
	}
	return nil
}

// onFill applies one fill from the account feed. Duplicate deliveries and
// fills for already completed cloids are dropped.
func (e *Engine) onFill(f account.Fill) error {
	if f.Coin != e.market.Coin {
		return nil
	}
	if !e.seen.Add(f.Key()) {
		e.metrics.FillsIgnored.Inc()
		e.log.Debug("duplicate fill skipped", zap.String("key", f.Key()))
		return nil
	}
	side, ok := strategy.SideFromVenue(f.Side)
	if !ok || f.Size <= 0 {
		e.log.Warn("fill with unknown side or size skipped", zap.String("side", f.Side), zap.Float64("size", f.Size))
		return nil
	}
	var cloid strategy.Cloid
	if f.Cloid != "" {
		parsed, err := strategy.ParseCloid(f.Cloid)
		if err != nil {
			e.log.Debug("fill cloid not parsed", zap.String("cloid", f.Cloid), zap.Error(err))
		} else {
			cloid = parsed
		}
	}
	if e.completed.Contains(cloid) {
		e.metrics.FillsIgnored.Inc()
		e.log.Debug("fill for completed order skipped", zap.String("cloid", cloid.String()))
		return nil
	}
	e.metrics.FillsObserved.Inc()

	p, tracked := e.pending[cloid]
	if !tracked {
		fill := strategy.OrderFill{
			Symbol:  e.market.Symbol,
			Side:    side,
			Size:    f.Size,
			Price:   f.Price,
			Fee:     f.Fee,
			Cloid:   cloid,
			OrderID: f.OrderID,
			TimeMS:  f.TimeMS,
		}
		e.audit.RecordFill(audit.FillObserved{
			Time: e.now(), Cloid: cloid.String(), OrderID: f.OrderID, Symbol: fill.Symbol,
			Side: string(side), Price: f.Price, Size: f.Size, Fee: f.Fee, Final: true,
		})
		return e.deliverFill(fill)
	}

	p.merge(f.Size, f.Price, f.Fee)
	if p.orderID == 0 {
		p.orderID = f.OrderID
	}
	if !p.complete(e.cfg.Engine.FillThreshold) {
		e.audit.RecordFill(audit.FillObserved{
			Time: e.now(), Cloid: cloid.String(), OrderID: p.orderID, Symbol: p.symbol,
			Side: string(side), Price: f.Price, Size: f.Size, Fee: f.Fee,
		})
		e.hub.Publish(status.EventOrder, status.OrderUpdate{
			Phase:    status.OrderOpen,
			Cloid:    cloid.String(),
			OrderID:  p.orderID,
			Symbol:   p.symbol,
			Side:     string(p.side),
			Price:    p.limitPx,
			Size:     p.target,
			Filled:   p.filled,
			AvgPrice: p.avgPx(),
		})
		return nil
	}
	return e.finalize(p.aggregate(f.TimeMS), p)
}

// reconcile asks the venue about pending orders that are no longer open
// and settles the ones that reached a terminal status. Query failures are
// retried on the next pass.
func (e *Engine) reconcile(ctx context.Context) error {
	if len(e.pending) == 0 {
		return nil
	}
	open, err := e.account.OpenOrders(ctx)
	if err != nil {
		e.log.Warn("reconcile open orders failed", zap.Error(err))
		return nil
	}
	openIDs := make(map[int64]struct{}, len(open))
	for _, o := range open {
		openIDs[o.OrderID] = struct{}{}
	}
	missing := make([]*pendingOrder, 0)
	for cloid, p := range e.pending {
		if e.completed.Contains(cloid) {
			delete(e.pending, cloid)
			continue
		}
		if p.orderID == 0 {
			continue
		}
		if _, ok := openIDs[p.orderID]; ok {
			continue
		}
		missing = append(missing, p)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].orderID < missing[j].orderID })

	for _, p := range missing {
		e.metrics.ReconcileQueries.Inc()
		st, err := e.account.OrderStatus(ctx, p.orderID)
		if err != nil {
			e.log.Debug("reconcile status query failed", zap.Int64("oid", p.orderID), zap.Error(err))
			continue
		}
		switch {
		case st.Status == orderStatusFilled:
			e.metrics.ReconcileRecovers.Inc()
			if err := e.finalize(e.synthesizeFill(p, st.Order), p); err != nil {
				return err
			}
		case terminalWithoutFill(st.Status):
			e.metrics.ReconcileRecovers.Inc()
			delete(e.pending, p.cloid)
			req := strategy.OrderRequest{
				Kind:       strategy.OrderLimit,
				Symbol:     p.symbol,
				Side:       p.side,
				Price:      p.limitPx,
				Size:       p.target,
				ReduceOnly: p.reduceOnly,
				Cloid:      p.cloid,
			}
			if err := e.failOrder(req, st.Status); err != nil {
				return err
			}
		default:
			e.log.Debug("reconcile status unresolved", zap.Int64("oid", p.orderID), zap.String("status", st.Status))
		}
	}
	return nil
}

// synthesizeFill builds the fill for an order the venue reports filled but
// whose fills never reached the feed.
func (e *Engine) synthesizeFill(p *pendingOrder, rec account.OrderRecord) strategy.OrderFill {
	size := rec.OrigSize
	if size <= 0 {
		size = p.target
	}
	limit := rec.LimitPx
	if limit <= 0 {
		limit = p.limitPx
	}
	// fills seen on the feed keep their price, the unseen rest fills at the limit
	px := limit
	if rest := size - p.filled; p.filled > 0 && rest > 0 {
		px = (p.notional + rest*limit) / size
	} else if p.filled > 0 {
		px = p.avgPx()
	}
	side := p.side
	if parsed, ok := strategy.SideFromVenue(rec.Side); ok {
		side = parsed
	}
	return strategy.OrderFill{
		Symbol:     p.symbol,
		Side:       side,
		Size:       size,
		Price:      px,
		Fee:        p.fees,
		ReduceOnly: rec.ReduceOnly || p.reduceOnly,
		Cloid:      p.cloid,
		OrderID:    p.orderID,
		TimeMS:     e.now().UnixMilli(),
	}
}

// terminalWithoutFill covers canceled, rejected and margin canceled orders
// plus the venue's other "...Canceled"/"...Rejected" variants.
func terminalWithoutFill(status string) bool {
	switch status {
	case orderStatusCanceled, orderStatusRejected, orderStatusMarginCanceled:
		return true
	}
	return strings.HasSuffix(status, "Canceled") || strings.HasSuffix(status, "Rejected")
}
