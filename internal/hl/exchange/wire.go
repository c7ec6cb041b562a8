package exchange

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const wireDecimals = 8

func LimitOrderWire(asset int, isBuy bool, size, limit float64, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	price, err := floatToWire(limit)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	sizeWire, err := floatToWire(size)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

// floatToWire renders x with at most 8 decimals and no trailing zeros. Values
// that would lose precision are rejected rather than silently rounded.
func floatToWire(x float64) (string, error) {
	exact := decimal.NewFromFloat(x)
	rounded := exact.Round(wireDecimals)
	if rounded.Sub(exact).Abs().GreaterThanOrEqual(decimal.New(1, -12)) {
		return "", fmt.Errorf("float_to_wire causes rounding: %v", x)
	}
	if rounded.IsZero() {
		return "0", nil
	}
	return rounded.String(), nil
}
