package account

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeInfo struct {
	responses map[string]any
	requests  []map[string]any
	err       error
}

func (f *fakeInfo) InfoAny(_ context.Context, req any) (any, error) {
	m, _ := req.(map[string]any)
	f.requests = append(f.requests, m)
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[m["type"].(string)], nil
}

func TestBalances(t *testing.T) {
	info := &fakeInfo{responses: map[string]any{
		"spotClearinghouseState": map[string]any{
			"balances": []any{
				map[string]any{"coin": "USDC", "total": "1000.5", "hold": "200"},
				map[string]any{"coin": "HYPE", "total": "12", "hold": "0"},
			},
		},
		"clearinghouseState": map[string]any{
			"marginSummary": map[string]any{"accountValue": "530.2"},
			"withdrawable":  "410.1",
			"assetPositions": []any{
				map[string]any{"position": map[string]any{"coin": "ETH", "szi": "-0.25"}},
			},
		},
	}}
	acct := New(info, zap.NewNop(), "0xabc")
	snap, err := acct.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if got := snap.Spot["USDC"]; got.Total != 1000.5 || got.Available != 800.5 {
		t.Fatalf("unexpected USDC balance %+v", got)
	}
	if got := snap.Perp[MarginAsset]; got.Total != 530.2 || got.Available != 410.1 {
		t.Fatalf("unexpected margin balance %+v", got)
	}
	if snap.Positions["ETH"] != -0.25 {
		t.Fatalf("expected ETH -0.25, got %v", snap.Positions["ETH"])
	}
	for _, req := range info.requests {
		if req["user"] != "0xabc" {
			t.Fatalf("request without user: %v", req)
		}
	}
}

func TestBalancesRequiresUser(t *testing.T) {
	acct := New(&fakeInfo{}, zap.NewNop(), " ")
	if _, err := acct.Balances(context.Background()); err == nil {
		t.Fatalf("expected error without user")
	}
}

func TestOpenOrders(t *testing.T) {
	info := &fakeInfo{responses: map[string]any{
		"openOrders": []any{
			map[string]any{"oid": float64(11), "coin": "ETH", "side": "B", "limitPx": "1800.5", "sz": "0.1", "cloid": "0x01"},
			map[string]any{"coin": "ETH"},
		},
	}}
	orders, err := New(info, zap.NewNop(), "0xabc").OpenOrders(context.Background())
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order with an oid, got %d", len(orders))
	}
	if o := orders[0]; o.OrderID != 11 || o.LimitPx != 1800.5 || o.Cloid != "0x01" {
		t.Fatalf("unexpected order %+v", o)
	}
}

func TestOrderStatusFilled(t *testing.T) {
	info := &fakeInfo{responses: map[string]any{
		"orderStatus": map[string]any{
			"status": "order",
			"order": map[string]any{
				"order": map[string]any{
					"coin": "ETH", "side": "A", "limitPx": "1900", "sz": "0.0",
					"origSz": "0.5", "oid": float64(42), "cloid": "0xabc", "reduceOnly": true,
				},
				"status":          "filled",
				"statusTimestamp": float64(1700000000000),
			},
		},
	}}
	status, err := New(info, zap.NewNop(), "0xabc").OrderStatus(context.Background(), 42)
	if err != nil {
		t.Fatalf("order status: %v", err)
	}
	if status.Status != "filled" || status.Order.OrigSize != 0.5 || !status.Order.ReduceOnly {
		t.Fatalf("unexpected status %+v", status)
	}
	if info.requests[0]["oid"] != int64(42) {
		t.Fatalf("expected oid in request, got %v", info.requests[0])
	}
}

func TestOrderStatusUnknown(t *testing.T) {
	info := &fakeInfo{responses: map[string]any{"orderStatus": map[string]any{"status": "unknownOid"}}}
	status, err := New(info, zap.NewNop(), "0xabc").OrderStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("order status: %v", err)
	}
	if status.Status != StatusUnknownOid {
		t.Fatalf("expected unknownOid, got %s", status.Status)
	}
}

func TestQueryErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	acct := New(&fakeInfo{err: boom}, zap.NewNop(), "0xabc")
	if _, err := acct.OpenOrders(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
