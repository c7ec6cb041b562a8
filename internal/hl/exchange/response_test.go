package exchange

import (
	"errors"
	"testing"
)

func TestParseOrderStatuses(t *testing.T) {
	resp := map[string]any{
		"status": "ok",
		"response": map[string]any{
			"type": "order",
			"data": map[string]any{
				"statuses": []any{
					map[string]any{
						"filled": map[string]any{
							"oid":     float64(292577153770),
							"totalSz": "0.02",
							"avgPx":   "1891.4",
						},
					},
					map[string]any{"resting": map[string]any{"oid": float64(12)}},
				},
			},
		},
	}
	statuses, err := ParseOrderStatuses(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !statuses[0].Filled || statuses[0].OrderID != 292577153770 || statuses[0].AvgPx != 1891.4 {
		t.Fatalf("unexpected filled status %+v", statuses[0])
	}
	if !statuses[1].Resting || statuses[1].OrderID != 12 {
		t.Fatalf("unexpected resting status %+v", statuses[1])
	}
}

func TestParseOrderStatusesRejected(t *testing.T) {
	resp := map[string]any{"status": "err", "response": "Insufficient margin"}
	if _, err := ParseOrderStatuses(resp); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}
