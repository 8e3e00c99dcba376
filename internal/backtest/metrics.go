package backtest

import (
	"fmt"
	"math"
	"strings"
)

type Metric string

const (
	// MetricTotalReturn compounds trade returns: prod(1+r) - 1.
	MetricTotalReturn Metric = "total_return"
	// MetricSumReturn adds trade returns without compounding.
	MetricSumReturn   Metric = "sum_return"
	MetricWinRate     Metric = "win_rate"
	MetricMaxDrawdown Metric = "max_drawdown"
	MetricTradeCount  Metric = "trade_count"
)

var metrics = []Metric{MetricTotalReturn, MetricSumReturn, MetricWinRate, MetricMaxDrawdown, MetricTradeCount}

func Metrics() []Metric {
	return append([]Metric(nil), metrics...)
}

func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range metrics {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Evaluate reduces a portfolio to a scalar. With no trades every metric is
// 0 except win rate, which is NaN.
func (m Metric) Evaluate(r PortfolioResult) float64 {
	switch m {
	case MetricTotalReturn:
		return TotalReturn(r.Trades)
	case MetricSumReturn:
		var sum float64
		for _, t := range r.Trades {
			sum += t.ReturnPct
		}
		return sum
	case MetricWinRate:
		return WinRate(r.Trades)
	case MetricMaxDrawdown:
		return MaxDrawdown(r.Equity)
	case MetricTradeCount:
		return float64(len(r.Trades))
	}
	return math.NaN()
}

// HigherIsBetter is false for drawdown.
func (m Metric) HigherIsBetter() bool {
	return m != MetricMaxDrawdown
}

func TotalReturn(trades []Trade) float64 {
	equity := 1.0
	for _, t := range trades {
		equity *= 1 + t.ReturnPct
	}
	return equity - 1
}

func WinRate(trades []Trade) float64 {
	if len(trades) == 0 {
		return math.NaN()
	}
	wins := 0
	for _, t := range trades {
		if t.ReturnPct > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// MaxDrawdown is the largest fractional peak-to-trough decline of an equity
// curve.
func MaxDrawdown(equity []float64) float64 {
	var peak, worst float64
	for i, v := range equity {
		if i == 0 || v > peak {
			peak = v
			continue
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
