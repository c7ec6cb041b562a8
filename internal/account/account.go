package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// MarginAsset keys the perp margin balance in Snapshot.Perp.
const MarginAsset = "USDC"

// InfoClient is the /info surface the account queries need.
type InfoClient interface {
	InfoAny(ctx context.Context, req any) (any, error)
}

type Balance struct {
	Total     float64
	Available float64
}

// Snapshot is one consistent read of the account: spot balances by token,
// the perp margin balance and signed perp positions by coin.
type Snapshot struct {
	Spot      map[string]Balance
	Perp      map[string]Balance
	Positions map[string]float64
}

type OpenOrder struct {
	OrderID int64
	Coin    string
	Side    string
	LimitPx float64
	Size    float64
	Cloid   string
}

// OrderRecord is the order half of an orderStatus reply.
type OrderRecord struct {
	OrderID    int64
	Coin       string
	Side       string
	LimitPx    float64
	Size       float64
	OrigSize   float64
	Cloid      string
	ReduceOnly bool
}

// OrderStatus is the venue's terminal or current view of one order. Status
// is "unknownOid" when the venue has no record of it.
type OrderStatus struct {
	Status string
	Order  OrderRecord
}

const StatusUnknownOid = "unknownOid"

type Account struct {
	info InfoClient
	log  *zap.Logger
	user string
}

func New(info InfoClient, log *zap.Logger, user string) *Account {
	if log == nil {
		log = zap.NewNop()
	}
	return &Account{info: info, log: log, user: strings.TrimSpace(user)}
}

func (a *Account) User() string {
	return a.user
}

func (a *Account) query(ctx context.Context, req map[string]any) (any, error) {
	if a.info == nil {
		return nil, errors.New("info client is required")
	}
	if a.user == "" {
		return nil, errors.New("account user is required")
	}
	req["user"] = a.user
	return a.info.InfoAny(ctx, req)
}

func (a *Account) Balances(ctx context.Context) (*Snapshot, error) {
	spot, err := a.query(ctx, map[string]any{"type": "spotClearinghouseState"})
	if err != nil {
		return nil, fmt.Errorf("spot balances: %w", err)
	}
	perp, err := a.query(ctx, map[string]any{"type": "clearinghouseState"})
	if err != nil {
		return nil, fmt.Errorf("perp state: %w", err)
	}
	perpState, _ := perp.(map[string]any)
	return &Snapshot{
		Spot:      parseSpotBalances(spot),
		Perp:      map[string]Balance{MarginAsset: parseMargin(perpState)},
		Positions: parsePositions(perpState),
	}, nil
}

func (a *Account) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	resp, err := a.query(ctx, map[string]any{"type": "openOrders"})
	if err != nil {
		return nil, err
	}
	return parseOpenOrders(resp), nil
}

func (a *Account) OrderStatus(ctx context.Context, oid int64) (*OrderStatus, error) {
	resp, err := a.query(ctx, map[string]any{"type": "orderStatus", "oid": oid})
	if err != nil {
		return nil, err
	}
	return parseOrderStatus(resp)
}

func parseSpotBalances(payload any) map[string]Balance {
	balances := make(map[string]Balance)
	for _, entry := range listFrom(payload, "balances") {
		coin := stringFromAny(entry["coin"])
		if coin == "" {
			continue
		}
		total := floatOrZero(entry["total"])
		hold := floatOrZero(entry["hold"])
		balances[coin] = Balance{Total: total, Available: total - hold}
	}
	return balances
}

func parseMargin(state map[string]any) Balance {
	if state == nil {
		return Balance{}
	}
	var total float64
	if summary, ok := state["marginSummary"].(map[string]any); ok {
		total = floatOrZero(summary["accountValue"])
	}
	return Balance{Total: total, Available: floatOrZero(state["withdrawable"])}
}

func parsePositions(state map[string]any) map[string]float64 {
	positions := make(map[string]float64)
	if state == nil {
		return positions
	}
	for _, entry := range listFrom(state, "assetPositions") {
		pos := entry
		if nested, ok := entry["position"].(map[string]any); ok {
			pos = nested
		}
		coin := stringFromAny(pos["coin"])
		if coin == "" {
			continue
		}
		positions[coin] = floatOrZero(pos["szi"])
	}
	return positions
}

func parseOpenOrders(payload any) []OpenOrder {
	entries := listFrom(payload, "openOrders", "orders")
	orders := make([]OpenOrder, 0, len(entries))
	for _, entry := range entries {
		oid := int64FromAny(entry["oid"])
		if oid == 0 {
			continue
		}
		orders = append(orders, OpenOrder{
			OrderID: oid,
			Coin:    stringFromAny(entry["coin"]),
			Side:    stringFromAny(entry["side"]),
			LimitPx: floatOrZero(entry["limitPx"]),
			Size:    floatOrZero(entry["sz"]),
			Cloid:   stringFromAny(entry["cloid"]),
		})
	}
	return orders
}

// parseOrderStatus reads {"status":"order","order":{"order":{...},"status":"filled"}}.
func parseOrderStatus(payload any) (*OrderStatus, error) {
	resp, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("order status response is %T", payload)
	}
	if stringFromAny(resp["status"]) != "order" {
		return &OrderStatus{Status: StatusUnknownOid}, nil
	}
	wrapper, ok := resp["order"].(map[string]any)
	if !ok {
		return nil, errors.New("order status response has no order")
	}
	order, _ := wrapper["order"].(map[string]any)
	return &OrderStatus{
		Status: stringFromAny(wrapper["status"]),
		Order: OrderRecord{
			OrderID:    int64FromAny(order["oid"]),
			Coin:       stringFromAny(order["coin"]),
			Side:       stringFromAny(order["side"]),
			LimitPx:    floatOrZero(order["limitPx"]),
			Size:       floatOrZero(order["sz"]),
			OrigSize:   floatOrZero(order["origSz"]),
			Cloid:      stringFromAny(order["cloid"]),
			ReduceOnly: boolFromAny(order["reduceOnly"]),
		},
	}, nil
}
