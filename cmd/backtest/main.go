package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rsi-grid-bot/internal/backtest"
	"rsi-grid-bot/internal/binance/rest"
	"rsi-grid-bot/internal/config"
	"rsi-grid-bot/internal/logging"
	"rsi-grid-bot/internal/market"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

// seriesOptions select the price history a command works on.
type seriesOptions struct {
	dataPath string
	asset    string
	start    string
	end      string
	interval time.Duration
}

func main() {
	var opts globalOptions
	rootCmd := &cobra.Command{
		Use:           "backtest",
		Short:         "Sweep RSI crossover thresholds over historical prices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(gridCmd(&opts))
	rootCmd.AddCommand(runCmd(&opts))
	rootCmd.AddCommand(fetchCmd(&opts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (o *globalOptions) load() (*config.Config, *zap.Logger, error) {
	if err := config.LoadEnv(".env"); err != nil {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}
	var (
		cfg *config.Config
		err error
	)
	if o.configPath == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(o.configPath)
	}
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, logging.New(cfg.Log), nil
}

func (s *seriesOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.dataPath, "data", "", "CSV file or directory (timestamp,close); overrides backtest.data_path")
	cmd.Flags().StringVar(&s.asset, "asset", "", "asset symbol; overrides backtest.asset")
	cmd.Flags().StringVar(&s.start, "start", "", "inclusive start, RFC3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&s.end, "end", "", "exclusive end, RFC3339 or YYYY-MM-DD")
	cmd.Flags().DurationVar(&s.interval, "interval", 0, "bar interval; overrides backtest.interval")
}

func (s *seriesOptions) apply(cfg *config.Config) {
	if s.dataPath != "" {
		cfg.Backtest.DataPath = s.dataPath
	}
	if s.asset != "" {
		cfg.Backtest.Asset = strings.ToUpper(strings.TrimSpace(s.asset))
	}
	if s.interval > 0 {
		cfg.Backtest.Interval = s.interval
	}
}

func (s *seriesOptions) bounds() (time.Time, time.Time, error) {
	start, err := parseTime(s.start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
	}
	end, err := parseTime(s.end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return time.Time{}, time.Time{}, errors.New("--start must be before --end")
	}
	return start, end, nil
}

// loadSeries reads the CSV data path when one is configured and falls back
// to Binance klines otherwise.
func loadSeries(ctx context.Context, cfg *config.Config, opts *seriesOptions, log *zap.Logger) (market.PriceSeries, error) {
	start, end, err := opts.bounds()
	if err != nil {
		return nil, err
	}
	var source market.Source
	if cfg.Backtest.DataPath != "" {
		source = market.NewCSVSource(cfg.Backtest.DataPath)
	} else {
		if start.IsZero() {
			return nil, errors.New("--start is required when fetching from the exchange")
		}
		if end.IsZero() {
			end = time.Now().UTC()
		}
		source = binanceSource(cfg, log)
	}
	series, err := source.HistoricalPrices(ctx, cfg.Backtest.Asset, start, end, cfg.Backtest.Interval)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("no prices for %s", cfg.Backtest.Asset)
	}
	log.Info("series loaded",
		zap.String("asset", cfg.Backtest.Asset),
		zap.Int("points", len(series)),
		zap.Time("first", series[0].Time),
		zap.Time("last", series[len(series)-1].Time),
	)
	return series, nil
}

func binanceSource(cfg *config.Config, log *zap.Logger) *market.BinanceKlines {
	limiter := rate.NewLimiter(rate.Limit(cfg.REST.RequestsPerSec), cfg.REST.Burst)
	return market.NewBinanceKlines(rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, limiter, log), log)
}

func sweepConfig(cfg *config.Config) (backtest.SweepConfig, error) {
	metric, err := backtest.ParseMetric(cfg.Backtest.Metric)
	if err != nil {
		return backtest.SweepConfig{}, err
	}
	if cfg.Backtest.StopLoss < 0 || cfg.Backtest.StopLoss >= 1 {
		return backtest.SweepConfig{}, fmt.Errorf("stop loss %g must be a fraction in [0, 1), 0.05 means 5%%", cfg.Backtest.StopLoss)
	}
	return backtest.SweepConfig{
		Window:     cfg.Backtest.Window,
		EntryRange: backtest.Range{Lo: cfg.Backtest.EntryRange[0], Hi: cfg.Backtest.EntryRange[1]},
		ExitRange:  backtest.Range{Lo: cfg.Backtest.ExitRange[0], Hi: cfg.Backtest.ExitRange[1]},
		Num:        cfg.Backtest.Num,
		Simulator: backtest.SimulatorConfig{
			Fee:        cfg.Backtest.Fee,
			StopLoss:   cfg.Backtest.StopLoss,
			TakeProfit: cfg.Backtest.TakeProfit,
		},
		Metric:  metric,
		Workers: cfg.Backtest.Workers,
	}, nil
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", v)
}
