package state

import (
	"context"
	"encoding/json"
	"strings"
)

const CycleSnapshotKey = "bot:last_cycle"

// CycleSnapshot is the last live cycle as shown by /status and verify.
type CycleSnapshot struct {
	Asset       string  `json:"asset"`
	Action      string  `json:"action"`
	Price       float64 `json:"price"`
	RSI         float64 `json:"rsi"`
	PrevRSI     float64 `json:"prev_rsi"`
	IsBuying    bool    `json:"is_buying"`
	Error       string  `json:"error,omitempty"`
	UpdatedAtMS int64   `json:"updated_at_ms"`
}

func LoadCycleSnapshot(ctx context.Context, store Store) (CycleSnapshot, bool, error) {
	if store == nil {
		return CycleSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, CycleSnapshotKey)
	if err != nil {
		return CycleSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return CycleSnapshot{}, false, nil
	}
	var snapshot CycleSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return CycleSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveCycleSnapshot(ctx context.Context, store Store, snapshot CycleSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, CycleSnapshotKey, string(payload))
}
