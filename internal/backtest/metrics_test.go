package backtest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultWithReturns(returns ...float64) PortfolioResult {
	res := PortfolioResult{Equity: []float64{1}}
	equity := 1.0
	for _, r := range returns {
		res.Trades = append(res.Trades, Trade{ReturnPct: r})
		equity *= 1 + r
		res.Equity = append(res.Equity, equity)
	}
	return res
}

func TestMetricsOnTrades(t *testing.T) {
	res := resultWithReturns(0.1, -0.2, 0.05)

	assert.InDelta(t, 1.1*0.8*1.05-1, MetricTotalReturn.Evaluate(res), 1e-12)
	assert.InDelta(t, -0.05, MetricSumReturn.Evaluate(res), 1e-12)
	assert.InDelta(t, 2.0/3.0, MetricWinRate.Evaluate(res), 1e-12)
	assert.InDelta(t, 0.2, MetricMaxDrawdown.Evaluate(res), 1e-12)
	assert.Equal(t, 3.0, MetricTradeCount.Evaluate(res))
}

func TestMetricsWithoutTrades(t *testing.T) {
	res := resultWithReturns()
	assert.Equal(t, 0.0, MetricTotalReturn.Evaluate(res))
	assert.Equal(t, 0.0, MetricSumReturn.Evaluate(res))
	assert.Equal(t, 0.0, MetricMaxDrawdown.Evaluate(res))
	assert.Equal(t, 0.0, MetricTradeCount.Evaluate(res))
	assert.True(t, math.IsNaN(MetricWinRate.Evaluate(res)))
}

func TestMaxDrawdownUsesRunningPeak(t *testing.T) {
	dd := MaxDrawdown([]float64{1, 1.5, 1.2, 2, 1, 1.8})
	assert.InDelta(t, 0.5, dd, 1e-12)
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric(" Win_Rate ")
	require.NoError(t, err)
	assert.Equal(t, MetricWinRate, m)

	_, err = ParseMetric("sharpe")
	assert.Error(t, err)
	assert.Len(t, Metrics(), 5)
}
