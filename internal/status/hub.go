package status

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Hub fans events out to any number of subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event, and the next event it
// does receive is preceded by an EventLag notice with the missed count.
// The latest config and summary are cached and replayed to new subscribers.
type Hub struct {
	backlog int
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	seq     uint64
	subs    map[*Subscription]struct{}
	config  *Event
	summary *Event
}

type Subscription struct {
	hub    *Hub
	ch     chan Event
	lagged atomic.Uint64
	// unreported is the count not yet sent as a lag notice, guarded by hub.mu.
	unreported uint64
	once       sync.Once
}

func NewHub(backlog int, log *zap.Logger) *Hub {
	if backlog <= 0 {
		backlog = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{backlog: backlog, log: log, now: time.Now, subs: make(map[*Subscription]struct{})}
}

func (h *Hub) Publish(typ EventType, data any) Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ev := Event{Seq: h.seq, Type: typ, TimeMS: h.now().UnixMilli(), Data: data}
	switch typ {
	case EventConfig:
		h.config = &ev
	case EventSummary:
		h.summary = &ev
	}
	for sub := range h.subs {
		h.deliver(sub, ev)
	}
	return ev
}

// deliver must be called with h.mu held. Lag notices carry no sequence
// number of their own.
func (h *Hub) deliver(sub *Subscription, ev Event) {
	if sub.unreported > 0 {
		notice := Event{Type: EventLag, TimeMS: ev.TimeMS, Data: LagUpdate{Missed: sub.unreported}}
		select {
		case sub.ch <- notice:
			sub.unreported = 0
		default:
			h.miss(sub, ev)
			return
		}
	}
	select {
	case sub.ch <- ev:
	default:
		h.miss(sub, ev)
	}
}

func (h *Hub) miss(sub *Subscription, ev Event) {
	sub.unreported++
	if sub.lagged.Add(1) == 1 {
		h.log.Debug("status subscriber lagging", zap.Uint64("seq", ev.Seq))
	}
}

// Subscribe registers a consumer. The cached config and summary, when
// present, are the first events it receives.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{hub: h, ch: make(chan Event, h.backlog)}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cached := range []*Event{h.config, h.summary} {
		if cached == nil {
			continue
		}
		h.deliver(sub, *cached)
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Snapshot returns the cached config and summary events.
func (h *Hub) Snapshot() (config, summary *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.config != nil {
		c := *h.config
		config = &c
	}
	if h.summary != nil {
		s := *h.summary
		summary = &s
	}
	return config, summary
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Lagged is the total number of events this subscriber missed.
func (s *Subscription) Lagged() uint64 {
	return s.lagged.Load()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}
