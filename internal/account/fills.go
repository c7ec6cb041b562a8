package account

import (
	"container/list"
	"encoding/json"
	"fmt"
	"strconv"
)

// Fill is one execution reported on the account feed. Cloid is empty for
// orders placed without one.
type Fill struct {
	OrderID  int64
	Coin     string
	Side     string
	Size     float64
	Price    float64
	Fee      float64
	FeeToken string
	Cloid    string
	TimeMS   int64
	Hash     string
	TradeID  int64
}

// Key identifies a fill across redeliveries.
func (f Fill) Key() string {
	if f.Hash != "" && f.TradeID != 0 {
		return f.Hash + ":" + strconv.FormatInt(f.TradeID, 10)
	}
	if f.Hash != "" {
		return f.Hash
	}
	return fmt.Sprintf("%d:%d:%s:%s", f.OrderID, f.TimeMS, floatKey(f.Size), floatKey(f.Price))
}

// FillEvent is the decoded payload of a "user" or "userFills" message.
type FillEvent struct {
	Fills    []Fill
	Snapshot bool
}

// ParseFillEvent decodes the data of a user event message. Non-fill user
// events decode to an empty event.
func ParseFillEvent(data json.RawMessage) (FillEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return FillEvent{}, err
	}
	return FillEvent{
		Fills:    parseFills(payload),
		Snapshot: boolFromAny(payload["isSnapshot"]),
	}, nil
}

func parseFills(payload any) []Fill {
	entries := listFrom(payload, "fills")
	fills := make([]Fill, 0, len(entries))
	for _, entry := range entries {
		fills = append(fills, parseFill(entry))
	}
	return fills
}

func parseFill(entry map[string]any) Fill {
	return Fill{
		OrderID:  int64FromAny(entry["oid"]),
		Coin:     stringFromAny(entry["coin"]),
		Side:     stringFromAny(entry["side"]),
		Size:     floatOrZero(entry["sz"]),
		Price:    floatOrZero(entry["px"]),
		Fee:      floatOrZero(entry["fee"]),
		FeeToken: stringFromAny(entry["feeToken"]),
		Cloid:    stringFromAny(entry["cloid"]),
		TimeMS:   int64FromAny(entry["time"]),
		Hash:     stringFromAny(entry["hash"]),
		TradeID:  int64FromAny(entry["tid"]),
	}
}

func floatKey(v float64) string {
	return strconv.FormatFloat(v, 'g', 12, 64)
}

// Seen is a bounded FIFO set of fill keys. The oldest key is evicted once
// the capacity is reached.
type Seen struct {
	capacity int
	keys     map[string]*list.Element
	order    *list.List
}

func NewSeen(capacity int) *Seen {
	if capacity <= 0 {
		capacity = 1
	}
	return &Seen{capacity: capacity, keys: make(map[string]*list.Element), order: list.New()}
}

// Add records key and reports whether it was new.
func (s *Seen) Add(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = s.order.PushBack(key)
	for s.order.Len() > s.capacity {
		front := s.order.Front()
		s.order.Remove(front)
		delete(s.keys, front.Value.(string))
	}
	return true
}

func (s *Seen) Contains(key string) bool {
	_, ok := s.keys[key]
	return ok
}

func (s *Seen) Len() int {
	return s.order.Len()
}
