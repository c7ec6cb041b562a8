package strategy

import (
	"fmt"

	"hl-grid-bot/internal/market"

	"go.uber.org/zap"
)

// SpotGrid runs a long-only grid on a spot pair. Sells never exceed held
// inventory, so the aggregate position floors at zero.
type SpotGrid struct {
	*grid
}

func NewSpotGrid(cfg GridConfig, log *zap.Logger) *SpotGrid {
	return &SpotGrid{grid: newGrid(cfg, spotVenue{}, false, log)}
}

type spotVenue struct{}

func (spotVenue) name() string { return "spot_grid" }

func (spotVenue) orienter() Orienter { return LongOrientation }

func (spotVenue) held(ctx *Context, info *market.Info) (float64, float64) {
	return ctx.SpotBalance(info.Base).Available, 0
}

func (spotVenue) fund(ctx *Context, info *market.Info, cost float64) error {
	available := ctx.SpotBalance(info.Quote).Available
	if available < cost {
		return fmt.Errorf("%w: need %.4f %s, have %.4f", ErrInsufficientFunds, cost, info.Quote, available)
	}
	return nil
}

func (spotVenue) reduceOnly() bool { return false }

func (spotVenue) decorate(*Context, *Summary) {}
