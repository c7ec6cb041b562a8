package strategy

import (
	"bytes"
	"testing"

	"hl-grid-bot/internal/market"
)

func TestCloidSourceIncreasing(t *testing.T) {
	src := newCloidSourceWithPrefix(0xdeadbeef)
	prev := src.Next()
	for i := 0; i < 100; i++ {
		next := src.Next()
		if bytes.Compare(next[:], prev[:]) <= 0 {
			t.Fatalf("cloid %s not greater than %s", next, prev)
		}
		prev = next
	}
}

func TestCloidRoundTrip(t *testing.T) {
	c := newCloidSourceWithPrefix(1).Next()
	if got := c.String(); got != "0x00000000000000010000000000000001" {
		t.Fatalf("unexpected cloid string %s", got)
	}
	parsed, err := ParseCloid(c.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != c {
		t.Fatalf("expected %s, got %s", c, parsed)
	}
	if _, err := ParseCloid("0x1234"); err == nil {
		t.Fatalf("expected error for short cloid")
	}
	if _, err := ParseCloid("0xzz000000000000010000000000000001"); err == nil {
		t.Fatalf("expected error for non-hex cloid")
	}
}

func TestZeroCloidMarshalsEmpty(t *testing.T) {
	var c Cloid
	text, err := c.MarshalText()
	if err != nil || len(text) != 0 {
		t.Fatalf("zero cloid should marshal empty, got %q %v", text, err)
	}
}

func TestContextQueues(t *testing.T) {
	ctx := NewContext(nil, newCloidSourceWithPrefix(3))
	ctx.PlaceOrder(OrderRequest{Kind: OrderLimit, Side: SideBuy, Cloid: ctx.NextCloid()})
	ctx.CancelOrder("ETH", ctx.NextCloid())
	if ctx.PendingRequests() != 2 {
		t.Fatalf("expected 2 pending requests")
	}
	if len(ctx.DrainOrders()) != 1 || len(ctx.DrainCancels()) != 1 {
		t.Fatalf("drain returned wrong counts")
	}
	if ctx.PendingRequests() != 0 {
		t.Fatalf("queues should be empty after drain")
	}
}

func TestContextApplyFill(t *testing.T) {
	ctx := NewContext(nil, nil)
	spot := market.NewInfo("HYPE/USDC", "@107", market.KindSpot, 10107, 2)
	spot.Base, spot.Quote = "HYPE", "USDC"
	ctx.SpotBalances["USDC"] = Balance{Total: 1000, Available: 1000}

	ctx.ApplyFill(spot, OrderFill{Side: SideBuy, Size: 2, Price: 100})
	if got := ctx.SpotBalance("HYPE").Available; got != 2 {
		t.Fatalf("expected 2 HYPE, got %v", got)
	}
	if got := ctx.SpotBalance("USDC").Available; got != 800 {
		t.Fatalf("expected 800 USDC, got %v", got)
	}

	perp := market.NewInfo("ETH", "ETH", market.KindPerp, 1, 4)
	ctx.ApplyFill(perp, OrderFill{Side: SideSell, Size: 0.5, Price: 3000})
	if got := ctx.Position("ETH"); got != -0.5 {
		t.Fatalf("expected -0.5 ETH position, got %v", got)
	}
}
