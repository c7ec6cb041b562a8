package exchange

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrRejected marks a request the venue refused as a whole.
var ErrRejected = errors.New("exchange rejected request")

// ParseOrderStatuses reads the per-order statuses of an order response.
func ParseOrderStatuses(resp map[string]any) ([]OrderStatus, error) {
	items, err := responseStatuses(resp)
	if err != nil {
		return nil, err
	}
	out := make([]OrderStatus, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			out = append(out, OrderStatus{Error: fmt.Sprintf("unexpected status %v", item)})
			continue
		}
		switch {
		case m["resting"] != nil:
			resting, _ := m["resting"].(map[string]any)
			out = append(out, OrderStatus{Resting: true, OrderID: int64FromAny(resting["oid"])})
		case m["filled"] != nil:
			filled, _ := m["filled"].(map[string]any)
			out = append(out, OrderStatus{
				Filled:  true,
				OrderID: int64FromAny(filled["oid"]),
				TotalSz: floatFromAny(filled["totalSz"]),
				AvgPx:   floatFromAny(filled["avgPx"]),
			})
		case m["error"] != nil:
			out = append(out, OrderStatus{Error: fmt.Sprint(m["error"])})
		default:
			out = append(out, OrderStatus{Error: fmt.Sprintf("status %d: unrecognized %v", i, m)})
		}
	}
	return out, nil
}

// ParseCancelStatuses reads the per-cancel statuses of a cancel response.
func ParseCancelStatuses(resp map[string]any) ([]CancelStatus, error) {
	items, err := responseStatuses(resp)
	if err != nil {
		return nil, err
	}
	out := make([]CancelStatus, 0, len(items))
	for _, item := range items {
		switch val := item.(type) {
		case string:
			if val == "success" {
				out = append(out, CancelStatus{Success: true})
			} else {
				out = append(out, CancelStatus{Error: val})
			}
		case map[string]any:
			out = append(out, CancelStatus{Error: fmt.Sprint(val["error"])})
		default:
			out = append(out, CancelStatus{Error: fmt.Sprintf("unexpected status %v", item)})
		}
	}
	return out, nil
}

// checkStatus turns {"status":"err","response":"..."} into ErrRejected.
func checkStatus(resp map[string]any) error {
	if resp == nil {
		return fmt.Errorf("%w: empty response", ErrRejected)
	}
	if status, _ := resp["status"].(string); status != "ok" {
		return fmt.Errorf("%w: %v", ErrRejected, resp["response"])
	}
	return nil
}

func responseStatuses(resp map[string]any) ([]any, error) {
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	body, _ := resp["response"].(map[string]any)
	data, _ := body["data"].(map[string]any)
	statuses, ok := data["statuses"].([]any)
	if !ok {
		return nil, errors.New("response has no statuses")
	}
	return statuses, nil
}

func int64FromAny(v any) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case int64:
		return val
	case int:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

func floatFromAny(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
