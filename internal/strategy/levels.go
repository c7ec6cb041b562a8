package strategy

import (
	"errors"
	"fmt"
	"math"

	"hl-grid-bot/internal/market"
)

type GridType string

const (
	GridArithmetic GridType = "arithmetic"
	GridGeometric  GridType = "geometric"
)

// maxSpreadLevels bounds spread-based grids against tiny spacings.
const maxSpreadLevels = 10000

// CalculateGridPrices returns n levels from low to high inclusive.
func CalculateGridPrices(gridType GridType, low, high float64, n int) ([]float64, error) {
	if n < 2 {
		return nil, fmt.Errorf("grid needs at least 2 levels, got %d", n)
	}
	if low <= 0 || high <= low {
		return nil, fmt.Errorf("invalid grid range [%v, %v]", low, high)
	}
	levels := make([]float64, n)
	steps := float64(n - 1)
	switch gridType {
	case GridArithmetic:
		step := (high - low) / steps
		for i := range levels {
			levels[i] = low + float64(i)*step
		}
	case GridGeometric:
		ratio := math.Pow(high/low, 1/steps)
		for i := range levels {
			levels[i] = low * math.Pow(ratio, float64(i))
		}
	default:
		return nil, fmt.Errorf("unsupported grid type %q", gridType)
	}
	levels[n-1] = high
	return levels, nil
}

// SpreadLevels walks up from low by a fixed basis point step while the level
// stays within high.
func SpreadLevels(low, high, bips float64) ([]float64, error) {
	if bips <= 0 {
		return nil, errors.New("spread must be > 0 bips")
	}
	if low <= 0 || high <= low {
		return nil, fmt.Errorf("invalid grid range [%v, %v]", low, high)
	}
	factor := 1 + bips/10000
	levels := []float64{low}
	for price := low * factor; price <= high; price *= factor {
		levels = append(levels, price)
		if len(levels) > maxSpreadLevels {
			return nil, fmt.Errorf("spread of %v bips yields more than %d levels", bips, maxSpreadLevels)
		}
	}
	if len(levels) < 2 {
		return nil, fmt.Errorf("spread of %v bips leaves no zone inside [%v, %v]", bips, low, high)
	}
	return levels, nil
}

// SpacingStats reports the per-level spacing as a percentage of price:
// constant for geometric grids, widest at the bottom for arithmetic ones.
func SpacingStats(gridType GridType, low, high float64, n int) (minPct, maxPct float64) {
	if n < 2 || low <= 0 || high <= low {
		return 0, 0
	}
	if gridType == GridGeometric {
		ratio := math.Pow(high/low, 1/float64(n-1))
		pct := (ratio - 1) * 100
		return pct, pct
	}
	spacing := (high - low) / float64(n)
	return spacing / high * 100, spacing / low * 100
}

// GridSpec is the market-independent part of a grid definition.
type GridSpec struct {
	GridType        GridType
	Lower           float64
	Upper           float64
	GridCount       int
	SpreadBips      float64
	TotalInvestment float64
}

// Levels computes the raw levels and rounds them to the market's price rules,
// dropping levels that collapse onto their neighbour.
func (s GridSpec) Levels(info *market.Info) ([]float64, error) {
	var raw []float64
	var err error
	if s.SpreadBips > 0 {
		raw, err = SpreadLevels(s.Lower, s.Upper, s.SpreadBips)
	} else {
		raw, err = CalculateGridPrices(s.GridType, s.Lower, s.Upper, s.GridCount)
	}
	if err != nil {
		return nil, err
	}
	levels := make([]float64, 0, len(raw))
	for _, px := range raw {
		rounded := info.RoundPrice(px)
		if len(levels) > 0 && rounded <= levels[len(levels)-1] {
			continue
		}
		levels = append(levels, rounded)
	}
	if len(levels) < 2 {
		return nil, errors.New("grid collapses to fewer than 2 levels after price rounding")
	}
	return levels, nil
}

// Spacing reports SpacingStats for the configured grid.
func (s GridSpec) Spacing(levelCount int) (float64, float64) {
	if s.SpreadBips > 0 {
		pct := s.SpreadBips / 100
		return pct, pct
	}
	n := s.GridCount
	if n == 0 {
		n = levelCount
	}
	return SpacingStats(s.GridType, s.Lower, s.Upper, n)
}

// Orienter decides the opening direction and starting side of a zone.
type Orienter func(lower, upper, reference float64) (short bool, state ZoneState)

// BuildZones pairs consecutive levels into zones, sizes each one from an even
// split of the investment and assigns its starting side.
func BuildZones(levels []float64, reference, investment, minNotional float64, info *market.Info, orient Orienter) []*Zone {
	if len(levels) < 2 {
		return nil
	}
	count := len(levels) - 1
	perZone := investment / float64(count)
	zones := make([]*Zone, 0, count)
	for i := 0; i < count; i++ {
		lower, upper := levels[i], levels[i+1]
		size := info.RoundSize(perZone / lower)
		if floor := info.EnsureMinSize(lower, minNotional); size < floor {
			size = floor
		}
		short, state := orient(lower, upper, reference)
		zones = append(zones, &Zone{
			Index: i,
			Lower: lower,
			Upper: upper,
			Size:  size,
			State: state,
			Short: short,
		})
	}
	return zones
}

// LongOrientation opens every zone long: zones at or above the reference
// start by selling inventory, the rest start by buying.
func LongOrientation(_, upper, reference float64) (bool, ZoneState) {
	if reference <= upper {
		return false, ZoneWaitingSell
	}
	return false, ZoneWaitingBuy
}

// ShortOrientation mirrors LongOrientation for short positions.
func ShortOrientation(lower, _, reference float64) (bool, ZoneState) {
	if reference >= lower {
		return true, ZoneWaitingBuy
	}
	return true, ZoneWaitingSell
}

// NeutralOrientation buys below the reference and sells above it without
// requiring an initial position.
func NeutralOrientation(_, upper, reference float64) (bool, ZoneState) {
	if upper <= reference {
		return false, ZoneWaitingBuy
	}
	return true, ZoneWaitingSell
}
