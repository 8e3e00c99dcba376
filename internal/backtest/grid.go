// Package backtest evaluates the RSI crossover rule over historical prices:
// a grid of (entry, exit) thresholds, a long-only position simulator per
// cell and the reduction of each cell to a performance matrix.
package backtest

import (
	"errors"
	"fmt"
)

var ErrInvalidRange = errors.New("invalid parameter range")

// Range is an inclusive [Lo, Hi] interval of threshold values.
type Range struct {
	Lo float64
	Hi float64
}

func (r Range) validate() error {
	if r.Lo > r.Hi {
		return fmt.Errorf("lo %g > hi %g: %w", r.Lo, r.Hi, ErrInvalidRange)
	}
	return nil
}

// Linspace returns num evenly spaced values over [lo, hi]. The last value is
// hi exactly; num == 1 yields [lo].
func Linspace(lo, hi float64, num int) ([]float64, error) {
	if num < 1 {
		return nil, fmt.Errorf("num %d must be >= 1: %w", num, ErrInvalidRange)
	}
	if err := (Range{Lo: lo, Hi: hi}).validate(); err != nil {
		return nil, err
	}
	out := make([]float64, num)
	if num == 1 {
		out[0] = lo
		return out, nil
	}
	step := (hi - lo) / float64(num-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[num-1] = hi
	return out, nil
}

type GridParameter struct {
	Entry float64 `msgpack:"entry"`
	Exit  float64 `msgpack:"exit"`
}

// Grid is the cartesian product of entry and exit thresholds. Cells are
// flattened entry-major: index = entryIdx*len(Exits) + exitIdx.
type Grid struct {
	Entries []float64
	Exits   []float64
}

func NewGrid(entry, exit Range, num int) (Grid, error) {
	entries, err := Linspace(entry.Lo, entry.Hi, num)
	if err != nil {
		return Grid{}, fmt.Errorf("entry range: %w", err)
	}
	exits, err := Linspace(exit.Lo, exit.Hi, num)
	if err != nil {
		return Grid{}, fmt.Errorf("exit range: %w", err)
	}
	return Grid{Entries: entries, Exits: exits}, nil
}

// SingleGrid is the one-cell grid of a direct single-parameter run.
func SingleGrid(param GridParameter) Grid {
	return Grid{Entries: []float64{param.Entry}, Exits: []float64{param.Exit}}
}

func (g Grid) Len() int {
	return len(g.Entries) * len(g.Exits)
}

func (g Grid) Index(entryIdx, exitIdx int) int {
	return entryIdx*len(g.Exits) + exitIdx
}

// Coords inverts Index.
func (g Grid) Coords(index int) (entryIdx, exitIdx int) {
	return index / len(g.Exits), index % len(g.Exits)
}

func (g Grid) Param(index int) GridParameter {
	e, x := g.Coords(index)
	return GridParameter{Entry: g.Entries[e], Exit: g.Exits[x]}
}

func (g Grid) Params() []GridParameter {
	out := make([]GridParameter, g.Len())
	for i := range out {
		out[i] = g.Param(i)
	}
	return out
}
