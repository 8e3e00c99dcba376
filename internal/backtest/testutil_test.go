package backtest

import (
	"time"

	"rsi-grid-bot/internal/market"
)

func seriesOf(prices ...float64) market.PriceSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(market.PriceSeries, len(prices))
	for i, p := range prices {
		out[i] = market.Point{Time: start.Add(time.Duration(i) * time.Minute), Close: p}
	}
	return out
}
