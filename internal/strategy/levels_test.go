package strategy

import (
	"math"
	"testing"

	"hl-grid-bot/internal/market"
)

func TestCalculateGridPricesBounds(t *testing.T) {
	for _, gt := range []GridType{GridArithmetic, GridGeometric} {
		for _, n := range []int{2, 3, 7, 50} {
			levels, err := CalculateGridPrices(gt, 90, 110, n)
			if err != nil {
				t.Fatalf("%s n=%d: %v", gt, n, err)
			}
			if len(levels) != n {
				t.Fatalf("%s: expected %d levels, got %d", gt, n, len(levels))
			}
			if math.Abs(levels[0]-90) > 1e-9 || math.Abs(levels[n-1]-110) > 1e-9 {
				t.Fatalf("%s: bounds %v..%v", gt, levels[0], levels[n-1])
			}
			for i := 1; i < n; i++ {
				if levels[i] <= levels[i-1] {
					t.Fatalf("%s: levels not increasing at %d: %v", gt, i, levels)
				}
			}
		}
	}
}

func TestCalculateGridPricesRejectsBadInput(t *testing.T) {
	if _, err := CalculateGridPrices(GridArithmetic, 90, 110, 1); err == nil {
		t.Fatalf("expected error for n=1")
	}
	if _, err := CalculateGridPrices(GridGeometric, 110, 90, 5); err == nil {
		t.Fatalf("expected error for inverted range")
	}
	if _, err := CalculateGridPrices("fibonacci", 90, 110, 5); err == nil {
		t.Fatalf("expected error for unknown grid type")
	}
}

func TestArithmeticLevels(t *testing.T) {
	levels, err := CalculateGridPrices(GridArithmetic, 90, 110, 5)
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	want := []float64{90, 95, 100, 105, 110}
	for i := range want {
		if math.Abs(levels[i]-want[i]) > 1e-9 {
			t.Fatalf("level %d: expected %v, got %v", i, want[i], levels[i])
		}
	}
}

func TestGeometricLevelsConstantRatio(t *testing.T) {
	levels, err := CalculateGridPrices(GridGeometric, 100, 200, 6)
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	ratio := levels[1] / levels[0]
	for i := 2; i < len(levels); i++ {
		if math.Abs(levels[i]/levels[i-1]-ratio) > 1e-9 {
			t.Fatalf("ratio drift at %d", i)
		}
	}
}

func TestSpreadLevels(t *testing.T) {
	levels, err := SpreadLevels(100, 110, 100)
	if err != nil {
		t.Fatalf("spread levels: %v", err)
	}
	// 100, 101, 102.01, ... stays within 110
	if len(levels) != 10 {
		t.Fatalf("expected 10 levels, got %d: %v", len(levels), levels)
	}
	if levels[len(levels)-1] > 110 {
		t.Fatalf("last level above range: %v", levels[len(levels)-1])
	}
	if _, err := SpreadLevels(100, 100.5, 100); err == nil {
		t.Fatalf("expected error when no zone fits")
	}
}

func TestSpacingStats(t *testing.T) {
	minPct, maxPct := SpacingStats(GridGeometric, 100, 200, 6)
	if math.Abs(minPct-maxPct) > 1e-12 {
		t.Fatalf("geometric spacing should be constant: %v vs %v", minPct, maxPct)
	}
	minPct, maxPct = SpacingStats(GridArithmetic, 90, 110, 4)
	if math.Abs(minPct-5.0/110*100) > 1e-9 || math.Abs(maxPct-5.0/90*100) > 1e-9 {
		t.Fatalf("arithmetic spacing: %v %v", minPct, maxPct)
	}
}

func TestArithmeticSpacingDecreasesUpward(t *testing.T) {
	levels, err := CalculateGridPrices(GridArithmetic, 50, 150, 11)
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	prev := math.Inf(1)
	for i := 0; i+1 < len(levels); i++ {
		pct := (levels[i+1] - levels[i]) / levels[i] * 100
		if pct >= prev {
			t.Fatalf("spacing pct not decreasing at %d: %v >= %v", i, pct, prev)
		}
		prev = pct
	}
}

func TestGridSpecLevelsDropsCollapsedLevels(t *testing.T) {
	info := market.NewInfo("X", "X", market.KindPerp, 0, 4)
	// two decimals allowed, so 1.001 and 1.002 collapse onto 1.00
	spec := GridSpec{GridType: GridArithmetic, Lower: 1.0, Upper: 1.02, GridCount: 21}
	levels, err := spec.Levels(info)
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	for i := 1; i < len(levels); i++ {
		if levels[i] <= levels[i-1] {
			t.Fatalf("levels not strictly increasing: %v", levels)
		}
	}
	if len(levels) != 3 {
		t.Fatalf("expected 3 distinct levels, got %v", levels)
	}
}

func TestBuildZonesOrientation(t *testing.T) {
	info := market.NewInfo("HYPE/USDC", "@107", market.KindSpot, 107, 2)
	levels := []float64{90, 95, 100, 105, 110}
	zones := BuildZones(levels, 102, 1000, 10, info, LongOrientation)
	if len(zones) != 4 {
		t.Fatalf("expected 4 zones, got %d", len(zones))
	}
	want := []ZoneState{ZoneWaitingBuy, ZoneWaitingBuy, ZoneWaitingSell, ZoneWaitingSell}
	for i, z := range zones {
		if z.State != want[i] {
			t.Fatalf("zone %d: expected %s, got %s", i, want[i], z.State)
		}
		if z.Short {
			t.Fatalf("zone %d should be long", i)
		}
	}
	if zones[0].Size != 2.78 {
		t.Fatalf("expected 250/90 rounded to 2.78, got %v", zones[0].Size)
	}
}

func TestBuildZonesMinimumSize(t *testing.T) {
	info := market.NewInfo("ETH", "ETH", market.KindPerp, 1, 2)
	zones := BuildZones([]float64{100, 101, 102}, 100, 10, 10, info, LongOrientation)
	for _, z := range zones {
		if z.Size*z.Lower < 10-1e-9 {
			t.Fatalf("zone %d below min notional: %v", z.Index, z.Size*z.Lower)
		}
	}
}

func TestShortAndNeutralOrientation(t *testing.T) {
	if short, state := ShortOrientation(100, 105, 102); !short || state != ZoneWaitingBuy {
		t.Fatalf("short zone below reference should hold a short: %v %s", short, state)
	}
	if short, state := ShortOrientation(105, 110, 102); !short || state != ZoneWaitingSell {
		t.Fatalf("short zone above reference should open with a sell: %v %s", short, state)
	}
	if short, state := NeutralOrientation(95, 100, 102); short || state != ZoneWaitingBuy {
		t.Fatalf("neutral zone below reference: %v %s", short, state)
	}
	if short, state := NeutralOrientation(100, 105, 102); !short || state != ZoneWaitingSell {
		t.Fatalf("neutral zone straddling reference: %v %s", short, state)
	}
}
