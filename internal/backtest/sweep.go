package backtest

import (
	"context"
	"fmt"
	"runtime"

	"rsi-grid-bot/internal/indicator"
	"rsi-grid-bot/internal/market"
	"rsi-grid-bot/internal/signal"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SweepConfig struct {
	Window     int
	EntryRange Range
	ExitRange  Range
	Num        int
	Simulator  SimulatorConfig
	Metric     Metric
	// Workers bounds parallel cell evaluation; <= 0 uses GOMAXPROCS.
	Workers int
}

type SweepResult struct {
	Grid       Grid
	Results    []PortfolioResult
	CellErrors map[int]error
	Matrix     *Matrix
}

// MatrixFor reduces the same results with another metric.
func (r *SweepResult) MatrixFor(metric Metric) *Matrix {
	return Aggregate(r.Grid, r.Results, r.CellErrors, metric)
}

// OpenPositions counts cells that ended the series still long.
func (r *SweepResult) OpenPositions() int {
	n := 0
	for _, res := range r.Results {
		if res.Open != nil {
			n++
		}
	}
	return n
}

type Engine struct {
	log *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log}
}

// Sweep evaluates every grid cell against the series. Cells share only
// read-only inputs and write to their own result slot, so the output does
// not depend on scheduling. A failing cell becomes NaN in the matrix.
func (e *Engine) Sweep(ctx context.Context, series market.PriceSeries, cfg SweepConfig) (*SweepResult, error) {
	if err := cfg.EntryRange.validate(); err != nil {
		return nil, fmt.Errorf("entry range: %w", err)
	}
	if err := cfg.ExitRange.validate(); err != nil {
		return nil, fmt.Errorf("exit range: %w", err)
	}
	grid, err := NewGrid(cfg.EntryRange, cfg.ExitRange, cfg.Num)
	if err != nil {
		return nil, err
	}
	return e.SweepGrid(ctx, series, grid, cfg)
}

// SweepGrid is Sweep over an explicit grid.
func (e *Engine) SweepGrid(ctx context.Context, series market.PriceSeries, grid Grid, cfg SweepConfig) (*SweepResult, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricTotalReturn
	}
	rsi, err := indicator.RSI(series.Closes(), cfg.Window)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]PortfolioResult, grid.Len())
	cellErrs := make([]error, grid.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for idx := 0; idx < grid.Len(); idx++ {
		if gctx.Err() != nil {
			break
		}
		param := grid.Param(idx)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[idx], cellErrs[idx] = evaluateCell(param, series, rsi, cfg.Simulator)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := make(map[int]error)
	for idx, err := range cellErrs {
		if err != nil {
			failed[idx] = err
			e.log.Warn("grid cell failed",
				zap.Int("cell", idx),
				zap.Float64("entry", grid.Param(idx).Entry),
				zap.Float64("exit", grid.Param(idx).Exit),
				zap.Error(err),
			)
		}
	}
	res := &SweepResult{Grid: grid, Results: results, CellErrors: failed}
	res.Matrix = res.MatrixFor(cfg.Metric)
	e.log.Debug("sweep complete",
		zap.Int("cells", grid.Len()),
		zap.Int("failed", len(failed)),
		zap.Int("open_positions", res.OpenPositions()),
		zap.Int("workers", workers),
	)
	return res, nil
}

// Run is the single-parameter special case of a sweep.
func (e *Engine) Run(ctx context.Context, series market.PriceSeries, param GridParameter, cfg SweepConfig) (PortfolioResult, error) {
	res, err := e.SweepGrid(ctx, series, SingleGrid(param), cfg)
	if err != nil {
		return PortfolioResult{}, err
	}
	if err := res.CellErrors[0]; err != nil {
		return PortfolioResult{}, err
	}
	return res.Results[0], nil
}

func evaluateCell(param GridParameter, series market.PriceSeries, rsi []float64, cfg SimulatorConfig) (res PortfolioResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cell entry=%g exit=%g panicked: %v", param.Entry, param.Exit, r)
		}
	}()
	signals := signal.Generate(rsi, param.Entry, param.Exit)
	return Simulate(param, series, signals, cfg)
}
