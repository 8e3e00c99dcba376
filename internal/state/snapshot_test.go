package state

import (
	"context"
	"testing"
)

func TestCycleSnapshotRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	snapshot := CycleSnapshot{
		Asset:       "BTCUSDT",
		Action:      "BUY",
		Price:       42000.5,
		RSI:         28.4,
		PrevRSI:     31.2,
		IsBuying:    false,
		UpdatedAtMS: 12345,
	}
	if err := SaveCycleSnapshot(ctx, store, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	got, ok, err := LoadCycleSnapshot(ctx, store)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to be present")
	}
	if got != snapshot {
		t.Fatalf("unexpected snapshot: %#v", got)
	}
}

func TestCycleSnapshotMissing(t *testing.T) {
	store := &memoryStore{}
	got, ok, err := LoadCycleSnapshot(context.Background(), store)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot, got %#v", got)
	}
}

func TestCycleSnapshotInvalid(t *testing.T) {
	store := &memoryStore{items: map[string]string{CycleSnapshotKey: "{"}}
	_, _, err := LoadCycleSnapshot(context.Background(), store)
	if err == nil {
		t.Fatalf("expected error for invalid snapshot JSON")
	}
}
