package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"rsi-grid-bot/internal/binance/rest"

	"go.uber.org/zap"
)

// klineServer serves one 1m candle per minute from base, closing at 100+i.
func klineServer(t *testing.T, base time.Time, count int, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		*calls++
		q := r.URL.Query()
		if q.Get("interval") != "1m" || q.Get("symbol") != "BTCUSDT" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		first := 0
		if v := q.Get("startTime"); v != "" {
			ms, _ := strconv.ParseInt(v, 10, 64)
			first = int(time.UnixMilli(ms).Sub(base) / time.Minute)
		} else {
			first = count - limit
		}
		last := count
		if v := q.Get("endTime"); v != "" {
			ms, _ := strconv.ParseInt(v, 10, 64)
			if e := int(time.UnixMilli(ms).Sub(base)/time.Minute) + 1; e < last {
				last = e
			}
		}
		if last-first > limit {
			last = first + limit
		}
		rows := make([]string, 0)
		for i := first; i < last; i++ {
			open := base.Add(time.Duration(i) * time.Minute)
			rows = append(rows, fmt.Sprintf(`[%d,"1","1","1","%d","0",%d,"0",1,"0","0","0"]`,
				open.UnixMilli(), 100+i, open.Add(time.Minute-time.Millisecond).UnixMilli()))
		}
		_, _ = w.Write([]byte("[" + strings.Join(rows, ",") + "]"))
	}))
}

func TestRecentPricesDropsFormingCandle(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	server := klineServer(t, base, 20, &calls)
	defer server.Close()

	src := NewBinanceKlines(rest.New(server.URL, time.Second, nil, zap.NewNop()), zap.NewNop())
	// candle 19 is still open
	src.now = func() time.Time { return base.Add(19*time.Minute + 30*time.Second) }

	series, err := src.RecentPrices(context.Background(), "btcusdt", 5, time.Minute)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	closes := series.Closes()
	if len(closes) != 5 || closes[0] != 114 || closes[4] != 118 {
		t.Fatalf("unexpected closes %v", closes)
	}
}

func TestHistoricalPricesPages(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	server := klineServer(t, base, 2500, &calls)
	defer server.Close()

	src := NewBinanceKlines(rest.New(server.URL, time.Second, nil, zap.NewNop()), zap.NewNop())
	series, err := src.HistoricalPrices(context.Background(), "BTCUSDT", base, base.Add(2200*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("historical: %v", err)
	}
	if len(series) != 2200 {
		t.Fatalf("expected 2200 candles, got %d", len(series))
	}
	if err := series.Validate(); err != nil {
		t.Fatalf("series not ordered: %v", err)
	}
	if series[2199].Close != 2299 {
		t.Fatalf("unexpected last close %v", series[2199].Close)
	}
	if calls != 3 {
		t.Fatalf("expected 3 pages, got %d", calls)
	}
}

func TestIntervalName(t *testing.T) {
	if name, err := IntervalName(time.Hour); err != nil || name != "1h" {
		t.Fatalf("unexpected interval %q %v", name, err)
	}
	if _, err := IntervalName(7 * time.Minute); err == nil {
		t.Fatalf("expected unsupported interval error")
	}
}
