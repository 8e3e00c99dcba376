package main

import (
	"errors"
	"fmt"
	"os"

	"rsi-grid-bot/internal/backtest"
	"rsi-grid-bot/internal/config"
	"rsi-grid-bot/internal/report"
	"rsi-grid-bot/internal/timescale"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func gridCmd(global *globalOptions) *cobra.Command {
	var (
		series     seriesOptions
		window     int
		entryRange []float64
		exitRange  []float64
		num        int
		fee        float64
		stopLoss   float64
		takeProfit float64
		metric     string
		workers    int
		outPath    string
		showCounts bool
		record     bool
	)
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Evaluate every (entry, exit) pair of the grid",
		Long: `Compute RSI once over the series, simulate the crossover rule for each of
the num x num threshold pairs and print the chosen metric as a matrix with
one row per exit threshold and one column per entry threshold.

Example:
  backtest grid --data data/BTCUSDT.csv --entry 30,50 --exit 58,72 --num 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := global.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			series.apply(cfg)
			flags := cmd.Flags()
			if flags.Changed("window") {
				cfg.Backtest.Window = window
			}
			if flags.Changed("entry") {
				if cfg.Backtest.EntryRange, err = pair("--entry", entryRange); err != nil {
					return err
				}
			}
			if flags.Changed("exit") {
				if cfg.Backtest.ExitRange, err = pair("--exit", exitRange); err != nil {
					return err
				}
			}
			if flags.Changed("num") {
				cfg.Backtest.Num = num
			}
			if flags.Changed("fee") {
				cfg.Backtest.Fee = fee
			}
			if flags.Changed("stop-loss") {
				cfg.Backtest.StopLoss = stopLoss
			}
			if flags.Changed("take-profit") {
				cfg.Backtest.TakeProfit = takeProfit
			}
			if flags.Changed("metric") {
				cfg.Backtest.Metric = metric
			}
			if flags.Changed("workers") {
				cfg.Backtest.Workers = workers
			}
			sweepCfg, err := sweepConfig(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			prices, err := loadSeries(ctx, cfg, &series, log)
			if err != nil {
				return err
			}
			res, err := backtest.NewEngine(log).Sweep(ctx, prices, sweepCfg)
			if err != nil {
				return err
			}
			var counts *backtest.Matrix
			if showCounts {
				counts = res.MatrixFor(backtest.MetricTradeCount)
			}
			out := cmd.OutOrStdout()
			if err := report.Matrix(out, res.Matrix, counts); err != nil {
				return err
			}
			if n := len(res.CellErrors); n > 0 {
				fmt.Fprintf(out, "%d cells failed and are shown as n/a\n", n)
			}
			if n := res.OpenPositions(); n > 0 {
				fmt.Fprintf(out, "%d cells ended with an open position (excluded from metrics)\n", n)
			}
			if outPath != "" {
				if err := writeMatrix(outPath, res.Matrix); err != nil {
					return err
				}
				log.Info("matrix written", zap.String("path", outPath))
			}
			if record {
				return recordMatrix(cmd, cfg, res.Matrix, log)
			}
			return nil
		},
	}
	series.bind(cmd)
	flags := cmd.Flags()
	flags.IntVar(&window, "window", 0, "RSI window")
	flags.Float64SliceVar(&entryRange, "entry", nil, "entry threshold range lo,hi")
	flags.Float64SliceVar(&exitRange, "exit", nil, "exit threshold range lo,hi")
	flags.IntVar(&num, "num", 0, "values per threshold axis")
	flags.Float64Var(&fee, "fee", 0, "fee per leg as a fraction")
	flags.Float64Var(&stopLoss, "stop-loss", 0, "stop loss as a fraction, 0 disables")
	flags.Float64Var(&takeProfit, "take-profit", 0, "take profit as a fraction, 0 disables")
	flags.StringVar(&metric, "metric", "", "total_return, sum_return, win_rate, max_drawdown or trade_count")
	flags.IntVar(&workers, "workers", 0, "parallel cell evaluations, 0 uses GOMAXPROCS")
	flags.StringVarP(&outPath, "out", "o", "", "write the matrix as msgpack to this file")
	flags.BoolVar(&showCounts, "trades", false, "annotate each cell with its trade count")
	flags.BoolVar(&record, "record", false, "store the matrix in timescale (timescale.enabled must be set)")
	return cmd
}

func pair(flag string, values []float64) ([2]float64, error) {
	if len(values) != 2 {
		return [2]float64{}, fmt.Errorf("%s expects lo,hi, got %v", flag, values)
	}
	if values[0] > values[1] {
		return [2]float64{}, fmt.Errorf("%s lower bound %g exceeds upper bound %g", flag, values[0], values[1])
	}
	return [2]float64{values[0], values[1]}, nil
}

func writeMatrix(path string, m *backtest.Matrix) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func recordMatrix(cmd *cobra.Command, cfg *config.Config, m *backtest.Matrix, log *zap.Logger) error {
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return err
	}
	if writer == nil {
		return errors.New("--record needs timescale.enabled")
	}
	defer writer.Close()
	runID := uuid.NewString()
	if err := writer.WriteMatrix(cmd.Context(), runID, cfg.Backtest.Asset, m); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recorded sweep %s\n", runID)
	return nil
}
