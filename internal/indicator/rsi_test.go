package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSIWarmupIsNaN(t *testing.T) {
	out, err := RSI([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	require.Len(t, out, 5)
	for i := 0; i < 3; i++ {
		assert.True(t, math.IsNaN(out[i]), "index %d should be NaN", i)
	}
	assert.Equal(t, 100.0, out[3])
	assert.Equal(t, 100.0, out[4])
}

func TestRSIKnownValues(t *testing.T) {
	prices := []float64{100, 90, 80, 70, 60, 70, 80, 90, 100}
	out, err := RSI(prices, 2)
	require.NoError(t, err)
	want := []float64{math.NaN(), math.NaN(), 0, 0, 0, 50, 100, 100, 100}
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(out[i]), "index %d", i)
			continue
		}
		assert.InDelta(t, want[i], out[i], 1e-12, "index %d", i)
	}
}

func TestRSIMixedWindow(t *testing.T) {
	// gains 2+1, losses 1 over the last three deltas
	out, err := RSI([]float64{10, 12, 11, 12}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, out[3], 1e-12)
}

func TestRSIFlatPriceIsHundred(t *testing.T) {
	prices := make([]float64, 50)
	for i := range prices {
		prices[i] = 42
	}
	out, err := RSI(prices, 14)
	require.NoError(t, err)
	for i := 14; i < len(out); i++ {
		assert.Equal(t, 100.0, out[i])
	}
}

func TestRSIBounded(t *testing.T) {
	prices := []float64{5, 7, 3, 9, 1, 8, 8, 2, 6, 4, 10, 0.5}
	out, err := RSI(prices, 4)
	require.NoError(t, err)
	for i := 4; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i], 0.0)
		assert.LessOrEqual(t, out[i], 100.0)
	}
}

func TestRSIInsufficientData(t *testing.T) {
	_, err := RSI([]float64{1, 2}, 3)
	require.ErrorIs(t, err, ErrInsufficientData)

	_, err = RSI([]float64{1, 2, 3}, 0)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestStreamingMatchesBatch(t *testing.T) {
	prices := []float64{44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00, 46.03, 46.41, 46.22, 45.64}
	window := 5
	batch, err := RSI(prices, window)
	require.NoError(t, err)

	calc := NewRSICalculator(window)
	for i, p := range prices {
		v, ok := calc.Push(p)
		if i < window {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, batch[i], v, "index %d", i)
	}
}

func TestLastMatchesTailOfLongerSeries(t *testing.T) {
	prices := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5, 8, 9, 7, 9}
	window := 4
	full, err := RSI(prices, window)
	require.NoError(t, err)

	for end := window + 1; end <= len(prices); end++ {
		v, err := Last(prices[:end], window)
		require.NoError(t, err)
		assert.Equal(t, full[end-1], v, "prefix %d", end)

		// a window+1 tail carries the same value as the whole prefix
		tail, err := Last(prices[end-window-1:end], window)
		require.NoError(t, err)
		assert.Equal(t, v, tail)
	}
}

func TestLastNeedsWindowPlusOne(t *testing.T) {
	_, err := Last([]float64{1, 2, 3}, 3)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestNaNPricePropagates(t *testing.T) {
	out, err := RSI([]float64{1, 2, math.NaN(), 3, 4, 5, 6}, 2)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(out[6]))
	assert.True(t, math.IsNaN(out[2]))
	assert.True(t, math.IsNaN(out[3]))
}
