package strategy

type ZoneState string

const (
	ZoneWaitingBuy  ZoneState = "WAITING_BUY"
	ZoneWaitingSell ZoneState = "WAITING_SELL"
)

// Zone is one price band of the grid. Long zones open with a buy at Lower and
// close with a sell at Upper; short zones do the reverse.
type Zone struct {
	Index      int
	Lower      float64
	Upper      float64
	Size       float64
	State      ZoneState
	Short      bool
	EntryPrice float64
	Order      Cloid
	Roundtrips int
}

func (z *Zone) HasOrder() bool {
	return !z.Order.IsZero()
}

// NextSide is the side of the order the zone is waiting on.
func (z *Zone) NextSide() Side {
	if z.State == ZoneWaitingBuy {
		return SideBuy
	}
	return SideSell
}

func (z *Zone) NextPrice() float64 {
	if z.State == ZoneWaitingBuy {
		return z.Lower
	}
	return z.Upper
}

// closing reports whether the zone's next order reduces its position.
func (z *Zone) closing() bool {
	if z.Short {
		return z.State == ZoneWaitingBuy
	}
	return z.State == ZoneWaitingSell
}

func (z *Zone) view() ZoneView {
	v := ZoneView{
		Index:      z.Index,
		Lower:      z.Lower,
		Upper:      z.Upper,
		Size:       z.Size,
		Side:       z.NextSide(),
		Short:      z.Short,
		EntryPrice: z.EntryPrice,
		Roundtrips: z.Roundtrips,
	}
	if z.HasOrder() {
		v.Cloid = z.Order.String()
	}
	return v
}

// position tracks the strategy's aggregate inventory with a volume weighted
// entry price. Reductions keep the entry price.
type position struct {
	size     float64
	avgEntry float64
	// allowShort lets sells past zero open a short instead of flooring at zero.
	allowShort bool
}

func (p *position) apply(side Side, size, price float64) {
	if size <= 0 {
		return
	}
	signed := size
	if !side.IsBuy() {
		signed = -size
	}
	if !p.allowShort && signed < 0 && p.size+signed <= 0 {
		p.size = 0
		p.avgEntry = 0
		return
	}
	switch {
	case p.size == 0 || (p.size > 0) == (signed > 0):
		total := p.size + signed
		p.avgEntry = (abs(p.size)*p.avgEntry + size*price) / abs(total)
		p.size = total
	case abs(signed) <= abs(p.size):
		p.size += signed
	default:
		remainder := p.size + signed
		if !p.allowShort && remainder < 0 {
			p.size = 0
			break
		}
		p.size = remainder
		p.avgEntry = price
	}
	if p.size == 0 {
		p.avgEntry = 0
	}
}

func (p *position) unrealized(price float64) float64 {
	if p.size == 0 || price <= 0 {
		return 0
	}
	return (price - p.avgEntry) * p.size
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
