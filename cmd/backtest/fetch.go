package main

import (
	"errors"
	"fmt"
	"time"

	"rsi-grid-bot/internal/market"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func fetchCmd(global *globalOptions) *cobra.Command {
	var (
		series  seriesOptions
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download historical closes from Binance into a CSV file",
		Long: `Page through /api/v3/klines between --start and --end and write
timestamp,close rows that the grid and run commands read with --data.

Example:
  backtest fetch --asset BTCUSDT --interval 1h --start 2021-01-01 -o data/BTCUSDT.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := global.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			series.apply(cfg)
			if outPath == "" {
				return errors.New("--out is required")
			}
			start, end, err := series.bounds()
			if err != nil {
				return err
			}
			if start.IsZero() {
				return errors.New("--start is required")
			}
			if end.IsZero() {
				end = time.Now().UTC()
			}
			prices, err := binanceSource(cfg, log).HistoricalPrices(cmd.Context(), cfg.Backtest.Asset, start, end, cfg.Backtest.Interval)
			if err != nil {
				return err
			}
			if err := market.WriteCSVFile(outPath, prices); err != nil {
				return err
			}
			log.Info("prices saved", zap.String("path", outPath), zap.Int("points", len(prices)))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d closes to %s\n", len(prices), outPath)
			return nil
		},
	}
	series.bind(cmd)
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "CSV file to write")
	return cmd
}
