package exec

import (
	"context"
	"errors"
	"fmt"

	"hl-grid-bot/internal/hl/exchange"
	"hl-grid-bot/internal/market"
	"hl-grid-bot/internal/strategy"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Trader is the signed exchange surface the executor drives.
type Trader interface {
	BulkOrder(ctx context.Context, orders []exchange.OrderWire) ([]exchange.OrderStatus, error)
	BulkCancelByCloid(ctx context.Context, cancels []exchange.CancelByCloidWire) ([]exchange.CancelStatus, error)
}

// Prepared is an order request resolved against its market. Err is set when
// the request cannot be sent at all.
type Prepared struct {
	Request strategy.OrderRequest
	Market  *market.Info
	Wire    exchange.OrderWire
	Price   float64
	Size    float64
	Err     error
}

type Result struct {
	Prepared
	Status exchange.OrderStatus
}

type CancelResult struct {
	Request strategy.CancelRequest
	Status  exchange.CancelStatus
	Err     error
}

// Executor turns strategy requests into venue wire orders and submits each
// batch as one call, paced by a token bucket.
type Executor struct {
	trader   Trader
	limiter  *rate.Limiter
	slippage float64
	log      *zap.Logger
}

func New(trader Trader, requestsPerSecond float64, burst int, slippage float64, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Executor{
		trader:   trader,
		limiter:  rate.NewLimiter(limit, burst),
		slippage: slippage,
		log:      log,
	}
}

// Prepare resolves side, price, size and time in force for every request.
// Limit orders rest as GTC; market orders cross as IOC at the reference
// price moved by the slippage allowance.
func (e *Executor) Prepare(markets market.Table, reqs []strategy.OrderRequest) []Prepared {
	out := make([]Prepared, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, e.prepare(markets, req))
	}
	return out
}

func (e *Executor) prepare(markets market.Table, req strategy.OrderRequest) Prepared {
	p := Prepared{Request: req}
	info, ok := markets.Lookup(req.Symbol)
	if !ok {
		p.Err = fmt.Errorf("%w: %s", strategy.ErrUnknownMarket, req.Symbol)
		return p
	}
	p.Market = info
	isBuy := req.Side.IsBuy()
	tif := exchange.TifGtc
	price := req.Price
	switch req.Kind {
	case strategy.OrderLimit:
	case strategy.OrderMarket:
		if price <= 0 {
			price = info.LastPrice
		}
		if isBuy {
			price *= 1 + e.slippage
		} else {
			price *= 1 - e.slippage
		}
		tif = exchange.TifIoc
	default:
		p.Err = fmt.Errorf("order kind %q cannot be placed", req.Kind)
		return p
	}
	p.Price = info.RoundPrice(price)
	p.Size = info.RoundSize(req.Size)
	if p.Price <= 0 || p.Size <= 0 {
		p.Err = fmt.Errorf("order %s rounds to price %v size %v", req.Cloid, p.Price, p.Size)
		return p
	}
	cloid := ""
	if !req.Cloid.IsZero() {
		cloid = req.Cloid.String()
	}
	wire, err := exchange.LimitOrderWire(info.AssetIndex, isBuy, p.Size, p.Price, req.ReduceOnly, tif, cloid)
	if err != nil {
		p.Err = err
		return p
	}
	p.Wire = wire
	return p
}

// Submit sends every prepared order without an error in one bulk call and
// returns results aligned with the sendable orders. A request-level error
// is returned as is and applies to the whole batch.
func (e *Executor) Submit(ctx context.Context, prepared []Prepared) ([]Result, error) {
	sendable := make([]Prepared, 0, len(prepared))
	wires := make([]exchange.OrderWire, 0, len(prepared))
	for _, p := range prepared {
		if p.Err != nil {
			continue
		}
		sendable = append(sendable, p)
		wires = append(wires, p.Wire)
	}
	if len(wires) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	statuses, err := e.trader.BulkOrder(ctx, wires)
	if err != nil {
		return nil, fmt.Errorf("bulk order of %d: %w", len(wires), err)
	}
	if len(statuses) != len(sendable) {
		return nil, errors.New("bulk order returned a mismatched status count")
	}
	results := make([]Result, len(sendable))
	for i, p := range sendable {
		results[i] = Result{Prepared: p, Status: statuses[i]}
	}
	return results, nil
}

// CancelBatch cancels by cloid in one call. Requests for unknown markets are
// reported individually and left out of the call.
func (e *Executor) CancelBatch(ctx context.Context, markets market.Table, reqs []strategy.CancelRequest) ([]CancelResult, error) {
	results := make([]CancelResult, 0, len(reqs))
	wires := make([]exchange.CancelByCloidWire, 0, len(reqs))
	sent := make([]int, 0, len(reqs))
	for _, req := range reqs {
		info, ok := markets.Lookup(req.Symbol)
		if !ok {
			results = append(results, CancelResult{Request: req, Err: fmt.Errorf("%w: %s", strategy.ErrUnknownMarket, req.Symbol)})
			continue
		}
		sent = append(sent, len(results))
		results = append(results, CancelResult{Request: req})
		wires = append(wires, exchange.CancelByCloidWire{Asset: info.AssetIndex, Cloid: req.Cloid.String()})
	}
	if len(wires) == 0 {
		return results, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return results, err
	}
	statuses, err := e.trader.BulkCancelByCloid(ctx, wires)
	if err != nil {
		return results, fmt.Errorf("bulk cancel of %d: %w", len(wires), err)
	}
	for i, idx := range sent {
		if i < len(statuses) {
			results[idx].Status = statuses[i]
		}
	}
	return results, nil
}
