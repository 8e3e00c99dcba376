package market

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotIncreasing = errors.New("price series timestamps must be strictly increasing")
	ErrMarketStale   = errors.New("market data stale")
)

type Point struct {
	Time  time.Time
	Close float64
}

// PriceSeries is an ordered close-price history.
type PriceSeries []Point

func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Close
	}
	return out
}

func (s PriceSeries) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Time.After(s[i-1].Time) {
			return fmt.Errorf("index %d (%s <= %s): %w", i, s[i].Time.UTC().Format(time.RFC3339), s[i-1].Time.UTC().Format(time.RFC3339), ErrNotIncreasing)
		}
	}
	return nil
}

// CheckAge fails with ErrMarketStale when the newest point is more than
// maxAge older than now. maxAge <= 0 disables the check.
func (s PriceSeries) CheckAge(now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 || len(s) == 0 {
		return nil
	}
	newest := s[len(s)-1].Time
	if age := now.Sub(newest); age > maxAge {
		return fmt.Errorf("newest close %s is %s old, limit %s: %w", newest.UTC().Format(time.RFC3339), age, maxAge, ErrMarketStale)
	}
	return nil
}

// Between returns the points with start <= Time < end. A zero bound is open.
func (s PriceSeries) Between(start, end time.Time) PriceSeries {
	out := make(PriceSeries, 0, len(s))
	for _, p := range s {
		if !start.IsZero() && p.Time.Before(start) {
			continue
		}
		if !end.IsZero() && !p.Time.Before(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Resample keeps the last close of every interval bucket.
func (s PriceSeries) Resample(interval time.Duration) PriceSeries {
	if interval <= 0 || len(s) == 0 {
		return s
	}
	out := make(PriceSeries, 0, len(s))
	for _, p := range s {
		bucket := p.Time.Truncate(interval)
		if n := len(out); n > 0 && out[n-1].Time.Equal(bucket) {
			out[n-1].Close = p.Close
			continue
		}
		out = append(out, Point{Time: bucket, Close: p.Close})
	}
	return out
}

// Tail returns the last n points.
func (s PriceSeries) Tail(n int) PriceSeries {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// Source provides close prices for the live loop and the backtester.
type Source interface {
	RecentPrices(ctx context.Context, asset string, lookback int, interval time.Duration) (PriceSeries, error)
	HistoricalPrices(ctx context.Context, asset string, start, end time.Time, interval time.Duration) (PriceSeries, error)
}
