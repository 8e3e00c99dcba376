package backtest

import (
	"math"
	"testing"

	"rsi-grid-bot/internal/indicator"
	"rsi-grid-bot/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulateRSI(t *testing.T, prices []float64, window int, param GridParameter, cfg SimulatorConfig) PortfolioResult {
	t.Helper()
	series := seriesOf(prices...)
	rsi, err := indicator.RSI(series.Closes(), window)
	require.NoError(t, err)
	res, err := Simulate(param, series, signal.Generate(rsi, param.Entry, param.Exit), cfg)
	require.NoError(t, err)
	return res
}

func TestRoundTripTrade(t *testing.T) {
	prices := []float64{100, 110, 108, 80, 60, 70, 100, 120}
	cfg := SimulatorConfig{StopLoss: 0.5, TakeProfit: 0.5}
	res := simulateRSI(t, prices, 2, GridParameter{Entry: 40, Exit: 60}, cfg)

	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.Equal(t, 80.0, trade.OpenPrice)
	assert.Equal(t, 100.0, trade.ClosePrice)
	assert.Equal(t, ReasonSignal, trade.Reason)
	assert.Equal(t, SideLong, trade.Side)
	assert.InDelta(t, 0.25, trade.ReturnPct, 1e-12)
	assert.Greater(t, trade.ReturnPct, 0.0)
	assert.Nil(t, res.Open)
	assert.Equal(t, []float64{1, 1.25}, res.Equity)
}

func TestWarmupBelowEntryDoesNotTrigger(t *testing.T) {
	// RSI is already 0 when it first becomes defined, so there is no
	// downward crossing of the entry level to act on.
	prices := []float64{100, 90, 80, 70, 60, 70, 80, 90, 100}
	cfg := SimulatorConfig{StopLoss: 0.5, TakeProfit: 0.5}
	res := simulateRSI(t, prices, 2, GridParameter{Entry: 40, Exit: 60}, cfg)
	assert.Empty(t, res.Trades)
	assert.Nil(t, res.Open)
}

func TestStopLossBeatsExitSignal(t *testing.T) {
	series := seriesOf(100, 100, 80)
	signals := []signal.Signal{{Enter: true}, {}, {Exit: true}}
	res, err := Simulate(GridParameter{}, series, signals, SimulatorConfig{StopLoss: 0.1})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, ReasonStopLoss, res.Trades[0].Reason)
	assert.InDelta(t, -0.2, res.Trades[0].ReturnPct, 1e-12)
}

func TestTakeProfitBeatsExitSignal(t *testing.T) {
	series := seriesOf(100, 100, 130)
	signals := []signal.Signal{{Enter: true}, {}, {Exit: true}}
	res, err := Simulate(GridParameter{}, series, signals, SimulatorConfig{StopLoss: 0.1, TakeProfit: 0.2})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, ReasonTakeProfit, res.Trades[0].Reason)
}

func TestStopsIgnoredOnEntryBar(t *testing.T) {
	series := seriesOf(100, 100, 100)
	signals := []signal.Signal{{Enter: true, Exit: true}, {}, {}}
	res, err := Simulate(GridParameter{}, series, signals, SimulatorConfig{})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	require.NotNil(t, res.Open)
	assert.Equal(t, 100.0, res.Open.OpenPrice)
}

func TestEntryIgnoredWhileLong(t *testing.T) {
	series := seriesOf(100, 90, 95, 120)
	signals := []signal.Signal{{Enter: true}, {Enter: true}, {Enter: true}, {Exit: true}}
	res, err := Simulate(GridParameter{}, series, signals, SimulatorConfig{})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 100.0, res.Trades[0].OpenPrice)
	assert.Equal(t, 120.0, res.Trades[0].ClosePrice)
}

func TestExitIgnoredWhileFlat(t *testing.T) {
	series := seriesOf(100, 90, 95)
	signals := []signal.Signal{{Exit: true}, {Exit: true}, {}}
	res, err := Simulate(GridParameter{}, series, signals, SimulatorConfig{})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Nil(t, res.Open)
}

func TestOpenPositionFlaggedAtEnd(t *testing.T) {
	series := seriesOf(100, 105, 110)
	signals := []signal.Signal{{Enter: true}, {}, {}}
	res, err := Simulate(GridParameter{}, series, signals, SimulatorConfig{Fee: 0.001})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	require.NotNil(t, res.Open)
	assert.Equal(t, 110.0, res.Open.LastPrice)
	assert.InDelta(t, TradeReturn(100, 110, 0.001), res.Open.UnrealizedPct, 1e-12)
	assert.Equal(t, []float64{1}, res.Equity)
}

func TestFeeChargedOnBothLegs(t *testing.T) {
	assert.InDelta(t, -0.02, TradeReturn(100, 100, 0.01), 1e-12)

	series := seriesOf(100, 100)
	signals := []signal.Signal{{Enter: true}, {Exit: true}}
	res, err := Simulate(GridParameter{}, series, signals, SimulatorConfig{Fee: 0.01})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.InDelta(t, -0.02, res.Trades[0].ReturnPct, 1e-12)
	assert.Equal(t, 0.01, res.Trades[0].FeeRate)
}

func TestSimulateSkipsInvalidPrices(t *testing.T) {
	series := seriesOf(100, math.NaN(), 120)
	signals := []signal.Signal{{Enter: true}, {Exit: true}, {Exit: true}}
	res, err := Simulate(GridParameter{}, series, signals, SimulatorConfig{})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 120.0, res.Trades[0].ClosePrice)
}

func TestSimulateLengthMismatch(t *testing.T) {
	_, err := Simulate(GridParameter{}, seriesOf(1, 2), []signal.Signal{{}}, SimulatorConfig{})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestSimulateDeterministic(t *testing.T) {
	prices := []float64{50, 48, 45, 40, 42, 47, 52, 49, 44, 41, 46, 53, 58, 55, 50, 47, 51, 56}
	param := GridParameter{Entry: 40, Exit: 60}
	cfg := SimulatorConfig{Fee: 0.001, StopLoss: 0.05, TakeProfit: 0.1}
	first := simulateRSI(t, prices, 3, param, cfg)
	second := simulateRSI(t, prices, 3, param, cfg)
	assert.Equal(t, first, second)
}
