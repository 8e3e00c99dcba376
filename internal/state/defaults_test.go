package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSeedDefaultsOnlyFillsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	data := "bot:is_buying: true\nbot:last_rsi: \"50\"\nnote: hello\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := &memoryStore{items: map[string]string{KeyIsBuying: "false"}}
	n, err := SeedDefaults(context.Background(), store, path)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 seeded keys, got %d", n)
	}
	if store.items[KeyIsBuying] != "false" {
		t.Fatalf("existing value overwritten: %q", store.items[KeyIsBuying])
	}
	if store.items[KeyLastRSI] != "50" || store.items["note"] != "hello" {
		t.Fatalf("unexpected store contents %v", store.items)
	}
}

func TestSeedDefaultsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.json")
	if err := os.WriteFile(path, []byte(`{"bot:is_buying": "false"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := &memoryStore{}
	if _, err := SeedDefaults(context.Background(), store, path); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st, err := NewBotStateStore(store, "BTCUSDT", true).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.IsBuying {
		t.Fatalf("expected defaults to set waiting-to-sell")
	}
}

func TestSeedDefaultsMissingFile(t *testing.T) {
	n, err := SeedDefaults(context.Background(), &memoryStore{}, filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil || n != 0 {
		t.Fatalf("expected no-op, got %d %v", n, err)
	}
}
