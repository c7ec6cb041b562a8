package market

import (
	"math"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindSpot Kind = "spot"
	KindPerp Kind = "perp"
)

// SpotAssetOffset is added to a spot pair index to form its order asset id.
const SpotAssetOffset = 10000

const (
	sigFigs          = 5
	spotMaxDecimals  = 8
	perpMaxDecimals  = 6
	zeroPriceEpsilon = 1e-9
)

// Info holds the precision rules of one tradable market plus the last seen
// mid. Everything except LastPrice is fixed once loaded.
type Info struct {
	Symbol        string
	Coin          string
	Kind          Kind
	AssetIndex    int
	SzDecimals    int
	PriceDecimals int
	Base          string
	Quote         string
	MaxLeverage   int
	LastPrice     float64
}

func NewInfo(symbol, coin string, kind Kind, assetIndex, szDecimals int) *Info {
	return &Info{
		Symbol:        symbol,
		Coin:          coin,
		Kind:          kind,
		AssetIndex:    assetIndex,
		SzDecimals:    szDecimals,
		PriceDecimals: PriceDecimals(kind, szDecimals),
	}
}

// PriceDecimals is the venue cap on price decimal places for a market.
func PriceDecimals(kind Kind, szDecimals int) int {
	max := perpMaxDecimals
	if kind == KindSpot {
		max = spotMaxDecimals
	}
	if d := max - szDecimals; d > 0 {
		return d
	}
	return 0
}

func (m *Info) IsSpot() bool {
	return m.Kind == KindSpot
}

// RoundSize rounds half away from zero to the market's size decimals.
func (m *Info) RoundSize(x float64) float64 {
	return roundPlaces(x, m.SzDecimals)
}

// RoundPrice applies the five significant figure rule and then the decimal cap.
func (m *Info) RoundPrice(x float64) float64 {
	if math.Abs(x) < zeroPriceEpsilon {
		return 0
	}
	magnitude := math.Floor(math.Log10(math.Abs(x)))
	scale := math.Pow(10, sigFigs-magnitude-1)
	sig := math.Round(x*scale) / scale
	return roundPlaces(sig, m.PriceDecimals)
}

// EnsureMinSize returns the smallest lot-rounded size whose notional at price
// reaches minNotional.
func (m *Info) EnsureMinSize(price, minNotional float64) float64 {
	if price <= 0 || minNotional <= 0 {
		return 0
	}
	size := m.RoundSize(minNotional / price)
	step := math.Pow10(-m.SzDecimals)
	for size*price < minNotional-zeroPriceEpsilon {
		size = m.RoundSize(size + step)
	}
	return size
}

func roundPlaces(x float64, places int) float64 {
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(x).Round(int32(places)).InexactFloat64()
}
