package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"hl-grid-bot/internal/config"
	"hl-grid-bot/internal/hl/rest"
	"hl-grid-bot/internal/logging"
	"hl-grid-bot/internal/market"
	"hl-grid-bot/internal/strategy"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	price := flag.Float64("price", 0, "reference price override; defaults to the trigger or the current mid")
	asJSON := flag.Bool("json", false, "print the plan as JSON")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	client := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, cfg.REST.MaxRetries, log)
	markets, err := market.LoadTable(ctx, client)
	if err != nil {
		fatal(err)
	}
	info, ok := markets.Lookup(cfg.Strategy.Symbol)
	if !ok {
		fatal(fmt.Errorf("unknown trading symbol %s", cfg.Strategy.Symbol))
	}

	reference := *price
	if reference <= 0 && cfg.Strategy.TriggerPrice != nil {
		reference = *cfg.Strategy.TriggerPrice
	}
	if reference <= 0 {
		mids, err := market.FetchMids(ctx, client)
		if err != nil {
			fatal(err)
		}
		reference = mids[info.Coin]
		log.Info("reference from mid", zap.String("coin", info.Coin), zap.Float64("mid", reference))
	}

	p, err := buildPlan(cfg, info, reference)
	if err != nil {
		fatal(err)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(p); err != nil {
			fatal(err)
		}
		return
	}
	if err := p.write(os.Stdout); err != nil {
		fatal(err)
	}
}

type zoneLine struct {
	Index int                `json:"index"`
	Lower float64            `json:"lower"`
	Upper float64            `json:"upper"`
	Size  float64            `json:"size"`
	Side  strategy.Side      `json:"side"`
	State strategy.ZoneState `json:"state"`
	Short bool               `json:"short,omitempty"`
	Price float64            `json:"order_price"`
}

type plan struct {
	Strategy      string     `json:"strategy"`
	Symbol        string     `json:"symbol"`
	Coin          string     `json:"coin"`
	Reference     float64    `json:"reference"`
	Levels        []float64  `json:"levels"`
	Zones         []zoneLine `json:"zones"`
	SpacingMinPct float64    `json:"spacing_min_pct"`
	SpacingMaxPct float64    `json:"spacing_max_pct"`
	RequiredLong  float64    `json:"required_long"`
	RequiredShort float64    `json:"required_short"`
	QuoteForBuys  float64    `json:"quote_for_buys"`
	Leverage      int        `json:"leverage,omitempty"`
	MarginNeeded  float64    `json:"margin_needed,omitempty"`
}

// buildPlan lays out the grid exactly as the strategy would on its first
// tick at reference, without placing anything.
func buildPlan(cfg *config.Config, info *market.Info, reference float64) (*plan, error) {
	if reference <= 0 {
		return nil, errors.New("reference price must be > 0")
	}
	s := cfg.Strategy
	spec := strategy.GridSpec{
		GridType:        strategy.GridType(s.GridType),
		Lower:           s.LowerPrice,
		Upper:           s.UpperPrice,
		GridCount:       s.GridCount,
		SpreadBips:      s.SpreadBips,
		TotalInvestment: s.TotalInvestment,
	}
	levels, err := spec.Levels(info)
	if err != nil {
		return nil, err
	}
	orient := strategy.LongOrientation
	if cfg.IsPerp() {
		orient = strategy.BiasOrienter(strategy.Bias(s.Bias))
	}
	zones := strategy.BuildZones(levels, reference, s.TotalInvestment, cfg.Engine.MinNotional, info, orient)
	minPct, maxPct := spec.Spacing(len(levels))
	p := &plan{
		Strategy:      s.Type,
		Symbol:        info.Symbol,
		Coin:          info.Coin,
		Reference:     reference,
		Levels:        levels,
		SpacingMinPct: minPct,
		SpacingMaxPct: maxPct,
	}
	var notional float64
	for _, z := range zones {
		p.Zones = append(p.Zones, zoneLine{
			Index: z.Index,
			Lower: z.Lower,
			Upper: z.Upper,
			Size:  z.Size,
			Side:  z.NextSide(),
			State: z.State,
			Short: z.Short,
			Price: z.NextPrice(),
		})
		notional += z.Size * z.NextPrice()
		switch {
		case !z.Short && z.State == strategy.ZoneWaitingSell:
			p.RequiredLong += z.Size
		case z.Short && z.State == strategy.ZoneWaitingBuy:
			p.RequiredShort += z.Size
		case z.State == strategy.ZoneWaitingBuy:
			p.QuoteForBuys += z.Size * z.Lower
		}
	}
	p.RequiredLong = info.RoundSize(p.RequiredLong)
	p.RequiredShort = info.RoundSize(p.RequiredShort)
	if cfg.IsPerp() && s.Leverage > 0 {
		p.Leverage = s.Leverage
		p.MarginNeeded = notional / float64(s.Leverage)
	}
	return p, nil
}

func (p *plan) write(out io.Writer) error {
	fmt.Fprintf(out, "%s %s (%s) reference %g\n", p.Strategy, p.Symbol, p.Coin, p.Reference)
	fmt.Fprintf(out, "%d levels, %d zones, spacing %.3f%% .. %.3f%%\n", len(p.Levels), len(p.Zones), p.SpacingMinPct, p.SpacingMaxPct)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "zone\tlower\tupper\tsize\tside\torder px\tshort")
	for _, z := range p.Zones {
		fmt.Fprintf(tw, "%d\t%g\t%g\t%g\t%s\t%g\t%t\n", z.Index, z.Lower, z.Upper, z.Size, z.Side, z.Price, z.Short)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "required long %g, required short %g, quote for buys %g\n", p.RequiredLong, p.RequiredShort, p.QuoteForBuys)
	if p.Leverage > 0 {
		fmt.Fprintf(out, "leverage %dx, margin needed %g\n", p.Leverage, p.MarginNeeded)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
