package strategy

import "hl-grid-bot/internal/market"

// MarginAsset is the collateral key of the perp margin account.
const MarginAsset = "USDC"

type Balance struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// Context is the single-owner state shared between the engine and a strategy.
// Balances are snapshots from the last fetch or fill, not live truth.
type Context struct {
	Markets      market.Table
	SpotBalances map[string]Balance
	PerpBalances map[string]Balance
	Positions    map[string]float64

	orders  []OrderRequest
	cancels []CancelRequest
	ids     *CloidSource
}

func NewContext(markets market.Table, ids *CloidSource) *Context {
	if markets == nil {
		markets = market.Table{}
	}
	if ids == nil {
		ids = NewCloidSource()
	}
	return &Context{
		Markets:      markets,
		SpotBalances: make(map[string]Balance),
		PerpBalances: make(map[string]Balance),
		Positions:    make(map[string]float64),
		ids:          ids,
	}
}

func (c *Context) NextCloid() Cloid {
	return c.ids.Next()
}

func (c *Context) Market(symbol string) (*market.Info, bool) {
	return c.Markets.Lookup(symbol)
}

func (c *Context) PlaceOrder(req OrderRequest) {
	c.orders = append(c.orders, req)
}

func (c *Context) CancelOrder(symbol string, cloid Cloid) {
	c.cancels = append(c.cancels, CancelRequest{Symbol: symbol, Cloid: cloid})
}

// DrainOrders hands the queued order requests to the caller and empties the queue.
func (c *Context) DrainOrders() []OrderRequest {
	out := c.orders
	c.orders = nil
	return out
}

func (c *Context) DrainCancels() []CancelRequest {
	out := c.cancels
	c.cancels = nil
	return out
}

func (c *Context) PendingRequests() int {
	return len(c.orders) + len(c.cancels)
}

func (c *Context) SpotBalance(asset string) Balance {
	return c.SpotBalances[asset]
}

func (c *Context) MarginBalance() Balance {
	return c.PerpBalances[MarginAsset]
}

func (c *Context) Position(coin string) float64 {
	return c.Positions[coin]
}

// ReplaceBalances swaps in a fresh account snapshot.
func (c *Context) ReplaceBalances(spot, perp map[string]Balance, positions map[string]float64) {
	if spot != nil {
		c.SpotBalances = spot
	}
	if perp != nil {
		c.PerpBalances = perp
	}
	if positions != nil {
		c.Positions = positions
	}
}

// ApplyFill adjusts the balance snapshot for a fill until the next refresh.
func (c *Context) ApplyFill(info *market.Info, fill OrderFill) {
	if info == nil || fill.Size <= 0 {
		return
	}
	signed := fill.Size
	if !fill.Side.IsBuy() {
		signed = -signed
	}
	if !info.IsSpot() {
		c.Positions[info.Symbol] += signed
		return
	}
	quoteDelta := fill.Size * fill.Price
	if fill.Side.IsBuy() {
		quoteDelta = -quoteDelta
	}
	base := c.SpotBalances[info.Base]
	base.Total += signed
	base.Available += signed
	c.SpotBalances[info.Base] = base
	quote := c.SpotBalances[info.Quote]
	quote.Total += quoteDelta
	quote.Available += quoteDelta
	c.SpotBalances[info.Quote] = quote
}
