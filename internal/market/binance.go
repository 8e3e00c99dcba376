package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rsi-grid-bot/internal/binance/rest"

	"go.uber.org/zap"
)

const (
	klinesPath     = "/api/v3/klines"
	maxKlinesLimit = 1000
)

var intervalNames = map[time.Duration]string{
	time.Minute:        "1m",
	3 * time.Minute:    "3m",
	5 * time.Minute:    "5m",
	15 * time.Minute:   "15m",
	30 * time.Minute:   "30m",
	time.Hour:          "1h",
	2 * time.Hour:      "2h",
	4 * time.Hour:      "4h",
	6 * time.Hour:      "6h",
	8 * time.Hour:      "8h",
	12 * time.Hour:     "12h",
	24 * time.Hour:     "1d",
	3 * 24 * time.Hour: "3d",
	7 * 24 * time.Hour: "1w",
}

// IntervalName maps a candle duration to the exchange interval code.
func IntervalName(interval time.Duration) (string, error) {
	name, ok := intervalNames[interval]
	if !ok {
		return "", fmt.Errorf("unsupported kline interval %s", interval)
	}
	return name, nil
}

// Kline is one candle; Time is the open time.
type Kline struct {
	Time      time.Time
	CloseTime time.Time
	Close     float64
}

// BinanceKlines reads candles from the spot REST API. Point times are
// candle open times.
type BinanceKlines struct {
	client *rest.Client
	log    *zap.Logger
	now    func() time.Time
}

func NewBinanceKlines(client *rest.Client, log *zap.Logger) *BinanceKlines {
	if log == nil {
		log = zap.NewNop()
	}
	return &BinanceKlines{client: client, log: log, now: time.Now}
}

// RecentPrices returns the last lookback closed candles. The still-forming
// candle is dropped so the RSI only sees final closes.
func (b *BinanceKlines) RecentPrices(ctx context.Context, asset string, lookback int, interval time.Duration) (PriceSeries, error) {
	if lookback <= 0 {
		return nil, errors.New("lookback must be > 0")
	}
	limit := lookback + 1
	if limit > maxKlinesLimit {
		limit = maxKlinesLimit
	}
	klines, err := b.fetch(ctx, asset, interval, time.Time{}, time.Time{}, limit)
	if err != nil {
		return nil, err
	}
	now := b.now()
	out := make(PriceSeries, 0, len(klines))
	for _, k := range klines {
		if k.CloseTime.After(now) {
			continue
		}
		out = append(out, Point{Time: k.Time, Close: k.Close})
	}
	return out.Tail(lookback), nil
}

// HistoricalPrices pages forward from start until end (exclusive) or until
// the exchange runs out of candles.
func (b *BinanceKlines) HistoricalPrices(ctx context.Context, asset string, start, end time.Time, interval time.Duration) (PriceSeries, error) {
	if start.IsZero() {
		return nil, errors.New("start time is required")
	}
	if end.IsZero() {
		end = b.now()
	}
	var out PriceSeries
	cursor := start
	for cursor.Before(end) {
		klines, err := b.fetch(ctx, asset, interval, cursor, end.Add(-time.Millisecond), maxKlinesLimit)
		if err != nil {
			return nil, err
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			if k.Time.Before(end) && (len(out) == 0 || k.Time.After(out[len(out)-1].Time)) {
				out = append(out, Point{Time: k.Time, Close: k.Close})
			}
		}
		next := klines[len(klines)-1].Time.Add(interval)
		if !next.After(cursor) {
			break
		}
		cursor = next
		b.log.Debug("klines page",
			zap.String("asset", asset),
			zap.Int("candles", len(klines)),
			zap.Time("next", cursor),
		)
		if len(klines) < maxKlinesLimit {
			break
		}
	}
	return out, nil
}

func (b *BinanceKlines) fetch(ctx context.Context, asset string, interval time.Duration, start, end time.Time, limit int) ([]Kline, error) {
	name, err := IntervalName(interval)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(asset))
	params.Set("interval", name)
	params.Set("limit", strconv.Itoa(limit))
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	var raw [][]json.RawMessage
	if err := b.client.Get(ctx, klinesPath, params, &raw); err != nil {
		return nil, fmt.Errorf("klines %s: %w", asset, err)
	}
	return parseKlines(raw)
}

func parseKlines(raw [][]json.RawMessage) ([]Kline, error) {
	out := make([]Kline, 0, len(raw))
	for i, row := range raw {
		if len(row) < 7 {
			return nil, fmt.Errorf("kline %d: %d fields", i, len(row))
		}
		var openMs, closeMs int64
		var closeStr string
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		if err := json.Unmarshal(row[4], &closeStr); err != nil {
			return nil, fmt.Errorf("kline %d close: %w", i, err)
		}
		if err := json.Unmarshal(row[6], &closeMs); err != nil {
			return nil, fmt.Errorf("kline %d close time: %w", i, err)
		}
		closePrice, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			return nil, fmt.Errorf("kline %d close: %w", i, err)
		}
		out = append(out, Kline{
			Time:      time.UnixMilli(openMs).UTC(),
			CloseTime: time.UnixMilli(closeMs).UTC(),
			Close:     closePrice,
		})
	}
	return out, nil
}
