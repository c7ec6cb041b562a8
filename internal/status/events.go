package status

type EventType string

const (
	EventConfig  EventType = "config"
	EventSummary EventType = "summary"
	EventMarket  EventType = "market"
	EventOrder   EventType = "order"
	EventGrid    EventType = "grid"
	EventError   EventType = "error"
	EventLag     EventType = "lag"
)

type OrderPhase string

const (
	OrderOpening    OrderPhase = "opening"
	OrderCancelling OrderPhase = "cancelling"
	OrderOpen       OrderPhase = "open"
	OrderFilled     OrderPhase = "filled"
	OrderFailed     OrderPhase = "failed"
)

// Event is one broadcast record. Seq increases by one per published event.
type Event struct {
	Seq    uint64    `json:"seq"`
	Type   EventType `json:"type"`
	TimeMS int64     `json:"time_ms"`
	Data   any       `json:"data"`
}

type OrderUpdate struct {
	Phase      OrderPhase `json:"phase"`
	Cloid      string     `json:"cloid,omitempty"`
	OrderID    int64      `json:"oid,omitempty"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side,omitempty"`
	Price      float64    `json:"price,omitempty"`
	Size       float64    `json:"size,omitempty"`
	Filled     float64    `json:"filled,omitempty"`
	AvgPrice   float64    `json:"avg_price,omitempty"`
	ReduceOnly bool       `json:"reduce_only,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

type MarketUpdate struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// LagUpdate tells a subscriber how many events it missed since the last
// event it received.
type LagUpdate struct {
	Missed uint64 `json:"missed"`
}

type ErrorUpdate struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// ConfigView is the operator-facing copy of the running grid setup.
type ConfigView struct {
	Strategy        string   `json:"strategy"`
	Symbol          string   `json:"symbol"`
	Network         string   `json:"network"`
	LowerPrice      float64  `json:"lower_price"`
	UpperPrice      float64  `json:"upper_price"`
	GridType        string   `json:"grid_type"`
	Levels          int      `json:"levels"`
	TotalInvestment float64  `json:"total_investment"`
	TriggerPrice    *float64 `json:"trigger_price,omitempty"`
	Leverage        int      `json:"leverage,omitempty"`
	MarginMode      string   `json:"margin_mode,omitempty"`
	Bias            string   `json:"bias,omitempty"`
}
