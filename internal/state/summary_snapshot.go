package state

import (
	"context"
	"encoding/json"
	"strings"

	"hl-grid-bot/internal/strategy"
)

const SummarySnapshotKey = "grid:last_summary"

// SummarySnapshot is the last strategy summary written on a summary tick.
// It is kept for operators and is never read back into strategy state.
type SummarySnapshot struct {
	Summary     strategy.Summary `json:"summary"`
	UpdatedAtMS int64            `json:"updated_at_ms"`
}

func LoadSummarySnapshot(ctx context.Context, store Store) (SummarySnapshot, bool, error) {
	if store == nil {
		return SummarySnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, SummarySnapshotKey)
	if err != nil {
		return SummarySnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return SummarySnapshot{}, false, nil
	}
	var snapshot SummarySnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return SummarySnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveSummarySnapshot(ctx context.Context, store Store, snapshot SummarySnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, SummarySnapshotKey, string(payload))
}
