package backtest

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMatrix() *Matrix {
	m := NewMatrix(MetricTotalReturn, []float64{30, 40}, []float64{60, 70, 80})
	m.Values[0] = []float64{0.1, 0.2}
	m.Values[1] = []float64{-0.1, math.NaN()}
	m.Values[2] = []float64{0.3, 0}
	return m
}

func TestMatrixOrientation(t *testing.T) {
	m := sampleMatrix()
	rows, cols := m.Shape()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, 0.2, m.At(1, 0))

	v, ok := m.Value(30, 80)
	require.True(t, ok)
	assert.Equal(t, 0.3, v)

	_, ok = m.Value(35, 80)
	assert.False(t, ok)
}

func TestMatrixCellsRoundTrip(t *testing.T) {
	m := sampleMatrix()
	cells := m.Cells()
	require.Len(t, cells, 6)

	back, err := MatrixFromCells(m.Metric, m.Entries, m.Exits, cells)
	require.NoError(t, err)
	for param, want := range cells {
		got, ok := back.Value(param.Entry, param.Exit)
		require.True(t, ok)
		if math.IsNaN(want) {
			assert.True(t, math.IsNaN(got))
			continue
		}
		assert.Equal(t, want, got)
	}
}

func TestMatrixFromCellsMissing(t *testing.T) {
	m := sampleMatrix()
	cells := m.Cells()
	delete(cells, GridParameter{Entry: 40, Exit: 70})
	_, err := MatrixFromCells(m.Metric, m.Entries, m.Exits, cells)
	assert.Error(t, err)
}

func TestMatrixEncodeRoundTrip(t *testing.T) {
	m := sampleMatrix()
	data, err := m.Encode()
	require.NoError(t, err)

	back, err := DecodeMatrix(data)
	require.NoError(t, err)
	assert.Equal(t, m.Metric, back.Metric)
	assert.Equal(t, m.Entries, back.Entries)
	assert.Equal(t, m.Exits, back.Exits)
	assert.True(t, math.IsNaN(back.At(1, 1)))
	assert.Equal(t, m.Cells()[GridParameter{Entry: 30, Exit: 80}], back.Cells()[GridParameter{Entry: 30, Exit: 80}])
}

func TestMatrixBest(t *testing.T) {
	m := sampleMatrix()
	param, v, ok := m.Best()
	require.True(t, ok)
	assert.Equal(t, GridParameter{Entry: 30, Exit: 80}, param)
	assert.Equal(t, 0.3, v)

	m.Metric = MetricMaxDrawdown
	param, v, ok = m.Best()
	require.True(t, ok)
	assert.Equal(t, GridParameter{Entry: 30, Exit: 70}, param)
	assert.Equal(t, -0.1, v)
}

func TestAggregateMarksFailedCells(t *testing.T) {
	grid := Grid{Entries: []float64{30, 40}, Exits: []float64{60}}
	results := []PortfolioResult{resultWithReturns(0.1), resultWithReturns(0.2)}
	m := Aggregate(grid, results, map[int]error{1: errors.New("boom")}, MetricTotalReturn)
	assert.InDelta(t, 0.1, m.At(0, 0), 1e-12)
	assert.True(t, math.IsNaN(m.At(1, 0)))
}
