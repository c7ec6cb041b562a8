package engine

import (
	"time"

	"hl-grid-bot/internal/strategy"
)

// pendingOrder tracks one accepted order until its fills reach the target
// size or the venue reports it gone.
type pendingOrder struct {
	cloid       strategy.Cloid
	orderID     int64
	symbol      string
	side        strategy.Side
	limitPx     float64
	target      float64
	reduceOnly  bool
	filled      float64
	notional    float64
	fees        float64
	submittedAt time.Time
}

func (p *pendingOrder) merge(size, px, fee float64) {
	p.filled += size
	p.notional += size * px
	p.fees += fee
}

// avgPx is the volume weighted price of the fills merged so far.
func (p *pendingOrder) avgPx() float64 {
	if p.filled <= 0 {
		return 0
	}
	return p.notional / p.filled
}

func (p *pendingOrder) complete(threshold float64) bool {
	return p.target > 0 && p.filled >= threshold*p.target
}

func (p *pendingOrder) aggregate(timeMS int64) strategy.OrderFill {
	return strategy.OrderFill{
		Symbol:     p.symbol,
		Side:       p.side,
		Size:       p.filled,
		Price:      p.avgPx(),
		Fee:        p.fees,
		ReduceOnly: p.reduceOnly,
		Cloid:      p.cloid,
		OrderID:    p.orderID,
		TimeMS:     timeMS,
	}
}

// completedSet remembers the most recent terminal cloids. The oldest entry
// is evicted once capacity is reached.
type completedSet struct {
	capacity int
	ring     []strategy.Cloid
	next     int
	members  map[strategy.Cloid]struct{}
}

func newCompletedSet(capacity int) *completedSet {
	if capacity <= 0 {
		capacity = 10000
	}
	return &completedSet{capacity: capacity, members: make(map[strategy.Cloid]struct{}, capacity)}
}

func (c *completedSet) Add(id strategy.Cloid) {
	if id.IsZero() {
		return
	}
	if _, ok := c.members[id]; ok {
		return
	}
	if len(c.ring) < c.capacity {
		c.ring = append(c.ring, id)
	} else {
		delete(c.members, c.ring[c.next])
		c.ring[c.next] = id
		c.next = (c.next + 1) % c.capacity
	}
	c.members[id] = struct{}{}
}

func (c *completedSet) Contains(id strategy.Cloid) bool {
	_, ok := c.members[id]
	return ok
}

func (c *completedSet) Len() int {
	return len(c.ring)
}
