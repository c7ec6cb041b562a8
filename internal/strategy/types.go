package strategy

import "errors"

type State string

type Event string

const (
	StateInitializing      State = "INITIALIZING"
	StateWaitingForTrigger State = "WAITING_FOR_TRIGGER"
	StateAcquiringAssets   State = "ACQUIRING_ASSETS"
	StateRunning           State = "RUNNING"
)

const (
	EventArm           Event = "ARM"
	EventAcquire       Event = "ACQUIRE"
	EventStart         Event = "START"
	EventTriggered     Event = "TRIGGERED"
	EventAcquired      Event = "ACQUIRED"
	EventAcquireFailed Event = "ACQUIRE_FAILED"
)

var (
	// ErrInsufficientFunds aborts the run: the mandatory acquisition cannot be paid for.
	ErrInsufficientFunds = errors.New("insufficient balance for asset acquisition")
	ErrUnknownMarket     = errors.New("unknown market")
	ErrZoneState         = errors.New("fill does not match zone state")
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) IsBuy() bool {
	return s == SideBuy
}

// SideFromVenue maps the venue's B/A side codes.
func SideFromVenue(raw string) (Side, bool) {
	switch raw {
	case "B", "b", "buy", "Buy":
		return SideBuy, true
	case "A", "a", "sell", "Sell":
		return SideSell, true
	default:
		return "", false
	}
}

type OrderKind string

const (
	OrderLimit  OrderKind = "limit"
	OrderMarket OrderKind = "market"
	OrderCancel OrderKind = "cancel"
)

// OrderRequest is a self-describing instruction queued for the engine.
// For market orders Price is the reference price; zero means last price.
type OrderRequest struct {
	Kind       OrderKind
	Symbol     string
	Side       Side
	Price      float64
	Size       float64
	ReduceOnly bool
	Cloid      Cloid
}

type CancelRequest struct {
	Symbol string
	Cloid  Cloid
}

// OrderFill is an aggregated fill delivered to a strategy. A zero Cloid
// marks a fill from an order this process did not issue.
type OrderFill struct {
	Symbol     string
	Side       Side
	Size       float64
	Price      float64
	Fee        float64
	ReduceOnly bool
	Cloid      Cloid
	OrderID    int64
	TimeMS     int64
}

// Strategy is the contract the engine drives.
type Strategy interface {
	OnTick(price float64, ctx *Context) error
	OnOrderFilled(fill OrderFill, ctx *Context) error
	OnOrderFailed(cloid Cloid, ctx *Context) error
	Summary(ctx *Context) Summary
	GridState(ctx *Context) GridState
}

type Summary struct {
	Strategy        string  `json:"strategy"`
	Symbol          string  `json:"symbol"`
	State           State   `json:"state"`
	Price           float64 `json:"price"`
	Inventory       float64 `json:"inventory"`
	AvgEntryPrice   float64 `json:"avg_entry_price"`
	RealizedPnL     float64 `json:"realized_pnl"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	TotalFees       float64 `json:"total_fees"`
	Roundtrips      int     `json:"roundtrips"`
	Zones           int     `json:"zones"`
	BuyZones        int     `json:"buy_zones"`
	SellZones       int     `json:"sell_zones"`
	ActiveOrders    int     `json:"active_orders"`
	SpacingMinPct   float64 `json:"spacing_min_pct"`
	SpacingMaxPct   float64 `json:"spacing_max_pct"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Leverage        int     `json:"leverage,omitempty"`
	MarginMode      string  `json:"margin_mode,omitempty"`
	Bias            string  `json:"bias,omitempty"`
	MarginAvailable float64 `json:"margin_available,omitempty"`
}

type GridState struct {
	Symbol string     `json:"symbol"`
	State  State      `json:"state"`
	Price  float64    `json:"price"`
	Zones  []ZoneView `json:"zones"`
}

type ZoneView struct {
	Index      int     `json:"index"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Size       float64 `json:"size"`
	Side       Side    `json:"side"`
	Short      bool    `json:"short,omitempty"`
	EntryPrice float64 `json:"entry_price"`
	Cloid      string  `json:"cloid,omitempty"`
	Roundtrips int     `json:"roundtrips"`
}
