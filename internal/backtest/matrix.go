package backtest

import (
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Matrix maps (entry, exit) to a metric value. Rows follow Exits and columns
// follow Entries; failed or missing cells hold NaN.
type Matrix struct {
	Metric  Metric      `msgpack:"metric"`
	Entries []float64   `msgpack:"entries"`
	Exits   []float64   `msgpack:"exits"`
	Values  [][]float64 `msgpack:"values"`
}

func NewMatrix(metric Metric, entries, exits []float64) *Matrix {
	values := make([][]float64, len(exits))
	for i := range values {
		row := make([]float64, len(entries))
		for j := range row {
			row[j] = math.NaN()
		}
		values[i] = row
	}
	return &Matrix{
		Metric:  metric,
		Entries: append([]float64(nil), entries...),
		Exits:   append([]float64(nil), exits...),
		Values:  values,
	}
}

// Aggregate reduces every cell of a sweep. results is indexed like
// grid.Params(); a cell with a non-nil entry in failed becomes NaN.
func Aggregate(grid Grid, results []PortfolioResult, failed map[int]error, metric Metric) *Matrix {
	m := NewMatrix(metric, grid.Entries, grid.Exits)
	for idx := 0; idx < grid.Len() && idx < len(results); idx++ {
		if failed[idx] != nil {
			continue
		}
		e, x := grid.Coords(idx)
		m.Values[x][e] = metric.Evaluate(results[idx])
	}
	return m
}

func (m *Matrix) Shape() (rows, cols int) {
	return len(m.Exits), len(m.Entries)
}

func (m *Matrix) At(entryIdx, exitIdx int) float64 {
	return m.Values[exitIdx][entryIdx]
}

func (m *Matrix) Value(entry, exit float64) (float64, bool) {
	e := indexOf(m.Entries, entry)
	x := indexOf(m.Exits, exit)
	if e < 0 || x < 0 {
		return math.NaN(), false
	}
	return m.Values[x][e], true
}

func (m *Matrix) Cells() map[GridParameter]float64 {
	out := make(map[GridParameter]float64, len(m.Entries)*len(m.Exits))
	for x, exit := range m.Exits {
		for e, entry := range m.Entries {
			out[GridParameter{Entry: entry, Exit: exit}] = m.Values[x][e]
		}
	}
	return out
}

// MatrixFromCells rebuilds a matrix from its cell mapping. Every axis pair
// must be present.
func MatrixFromCells(metric Metric, entries, exits []float64, cells map[GridParameter]float64) (*Matrix, error) {
	m := NewMatrix(metric, entries, exits)
	for x, exit := range exits {
		for e, entry := range entries {
			v, ok := cells[GridParameter{Entry: entry, Exit: exit}]
			if !ok {
				return nil, fmt.Errorf("missing cell entry=%g exit=%g", entry, exit)
			}
			m.Values[x][e] = v
		}
	}
	if len(cells) != len(entries)*len(exits) {
		return nil, fmt.Errorf("%d cells for a %dx%d matrix", len(cells), len(exits), len(entries))
	}
	return m, nil
}

// Best returns the cell with the best defined value for the metric.
func (m *Matrix) Best() (GridParameter, float64, bool) {
	var best GridParameter
	bestVal := math.NaN()
	for x, exit := range m.Exits {
		for e, entry := range m.Entries {
			v := m.Values[x][e]
			if math.IsNaN(v) {
				continue
			}
			better := v > bestVal
			if !m.Metric.HigherIsBetter() {
				better = v < bestVal
			}
			if math.IsNaN(bestVal) || better {
				best = GridParameter{Entry: entry, Exit: exit}
				bestVal = v
			}
		}
	}
	return best, bestVal, !math.IsNaN(bestVal)
}

func (m *Matrix) Encode() ([]byte, error) {
	return msgpack.Marshal(m)
}

func DecodeMatrix(data []byte) (*Matrix, error) {
	var m Matrix
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m.Values) != len(m.Exits) {
		return nil, errors.New("matrix rows do not match exits")
	}
	for _, row := range m.Values {
		if len(row) != len(m.Entries) {
			return nil, errors.New("matrix columns do not match entries")
		}
	}
	return &m, nil
}

func indexOf(values []float64, v float64) int {
	for i, candidate := range values {
		if candidate == v {
			return i
		}
	}
	return -1
}
