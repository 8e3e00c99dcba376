package exec

import (
	"context"
	"testing"

	"rsi-grid-bot/internal/exchange"

	"github.com/shopspring/decimal"
)

func fills(status exchange.Status, pairs ...string) exchange.OrderStatus {
	st := exchange.OrderStatus{Status: status}
	for i := 0; i+1 < len(pairs); i += 2 {
		st.Fills = append(st.Fills, exchange.Fill{
			Price:    decimal.RequireFromString(pairs[i]),
			Quantity: decimal.RequireFromString(pairs[i+1]),
		})
	}
	return st
}

func TestProgressUnloggedReportsOnlyNewFills(t *testing.T) {
	var p Progress
	qty, price, ok := p.Unlogged(fills(exchange.StatusPartiallyFilled, "98.5", "0.004"))
	if !ok || qty.String() != "0.004" || price.String() != "98.5" {
		t.Fatalf("unexpected first delta: %s @ %s (%v)", qty, price, ok)
	}
	if _, _, ok := p.Unlogged(fills(exchange.StatusPartiallyFilled, "98.5", "0.004")); ok {
		t.Fatalf("expected the same fills not to be reported twice")
	}
	qty, price, ok = p.Unlogged(fills(exchange.StatusFilled, "98.5", "0.004", "99", "0.006"))
	if !ok || qty.String() != "0.006" || price.String() != "99" {
		t.Fatalf("unexpected second delta: %s @ %s (%v)", qty, price, ok)
	}
}

func TestProgressRetireStartsNextAttempt(t *testing.T) {
	var p Progress
	p.Unlogged(fills(exchange.StatusExpired, "98.5", "0.004"))
	p.Retire(decimal.RequireFromString("0.004"))
	if p.Attempt != 1 || !p.Logged.IsZero() || !p.LoggedNotional.IsZero() {
		t.Fatalf("unexpected progress after retire: %+v", p)
	}
	if got := p.Remaining(decimal.RequireFromString("0.01")); got.String() != "0.006" {
		t.Fatalf("expected 0.006 remaining, got %s", got)
	}
}

func TestProgressPersistsUntilCleared(t *testing.T) {
	store := newMemoryStore()
	executor, _ := testExecutor(&mockClient{}, store, Config{})
	ctx := context.Background()
	intent := Intent{Asset: "BTCUSDT", Version: 2, Side: exchange.SideBuy}

	p, err := executor.LoadProgress(ctx, intent)
	if err != nil || p.Attempt != 0 || !p.Closed.IsZero() {
		t.Fatalf("expected empty progress, got %+v (%v)", p, err)
	}
	p.Unlogged(fills(exchange.StatusCanceled, "98.5", "0.004"))
	p.Retire(decimal.RequireFromString("0.004"))
	if err := executor.SaveProgress(ctx, intent, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	restarted, _ := testExecutor(&mockClient{}, store, Config{})
	got, err := restarted.LoadProgress(ctx, intent)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Attempt != 1 || got.Closed.String() != "0.004" {
		t.Fatalf("unexpected reloaded progress: %+v", got)
	}
	if intent.ClientOrderID(got.Attempt) == intent.ClientOrderID(0) {
		t.Fatalf("expected the next attempt to use a new client order id")
	}

	if err := restarted.ClearProgress(ctx, intent); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected no records left, got %v", store.data)
	}
}
