package strategy

import (
	"fmt"

	"hl-grid-bot/internal/market"

	"go.uber.org/zap"
)

type Bias string

const (
	BiasLong    Bias = "long"
	BiasShort   Bias = "short"
	BiasNeutral Bias = "neutral"
)

type PerpGridConfig struct {
	GridConfig
	Leverage   int
	MarginMode string
	Bias       Bias
}

// PerpGrid runs a grid on a perpetual market. The bias picks each zone's
// orientation and closing orders are sent reduce-only.
type PerpGrid struct {
	*grid
	perp *perpVenue
}

func NewPerpGrid(cfg PerpGridConfig, log *zap.Logger) *PerpGrid {
	if cfg.Bias == "" {
		cfg.Bias = BiasLong
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	v := &perpVenue{leverage: cfg.Leverage, marginMode: cfg.MarginMode, bias: cfg.Bias}
	return &PerpGrid{grid: newGrid(cfg.GridConfig, v, true, log), perp: v}
}

func (p *PerpGrid) Leverage() int { return p.perp.leverage }

func (p *PerpGrid) MarginMode() string { return p.perp.marginMode }

type perpVenue struct {
	leverage   int
	marginMode string
	bias       Bias
}

func (v *perpVenue) name() string { return "perp_grid" }

func (v *perpVenue) orienter() Orienter { return BiasOrienter(v.bias) }

// BiasOrienter maps a perp grid bias to its zone orientation. Unknown
// biases orient long.
func BiasOrienter(bias Bias) Orienter {
	switch bias {
	case BiasShort:
		return ShortOrientation
	case BiasNeutral:
		return NeutralOrientation
	default:
		return LongOrientation
	}
}

func (v *perpVenue) held(ctx *Context, info *market.Info) (float64, float64) {
	pos := ctx.Position(info.Symbol)
	if pos >= 0 {
		return pos, 0
	}
	return 0, -pos
}

func (v *perpVenue) fund(ctx *Context, _ *market.Info, cost float64) error {
	margin := cost / float64(v.leverage)
	available := ctx.MarginBalance().Available
	if available < margin {
		return fmt.Errorf("%w: need %.4f %s margin at %dx, have %.4f", ErrInsufficientFunds, margin, MarginAsset, v.leverage, available)
	}
	return nil
}

func (v *perpVenue) reduceOnly() bool { return true }

func (v *perpVenue) decorate(ctx *Context, s *Summary) {
	s.Leverage = v.leverage
	s.MarginMode = v.marginMode
	s.Bias = string(v.bias)
	if ctx != nil {
		s.MarginAvailable = ctx.MarginBalance().Available
	}
}
