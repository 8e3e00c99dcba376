package main

import (
	"os"

	"rsi-grid-bot/internal/backtest"
	"rsi-grid-bot/internal/report"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
)

func runCmd(global *globalOptions) *cobra.Command {
	var (
		series  seriesOptions
		entry   float64
		exit    float64
		window  int
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate one (entry, exit) pair and list its trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := global.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			series.apply(cfg)
			if cmd.Flags().Changed("window") {
				cfg.Backtest.Window = window
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
			res, err := backtest.NewEngine(log).Run(ctx, prices, backtest.GridParameter{Entry: entry, Exit: exit}, sweepCfg)
			if err != nil {
				return err
			}
			if outPath != "" {
				data, err := msgpack.Marshal(res)
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, data, 0o644); err != nil {
					return err
				}
			}
			return report.Trades(cmd.OutOrStdout(), res)
		},
	}
	series.bind(cmd)
	cmd.Flags().Float64Var(&entry, "entry", 30, "entry threshold")
	cmd.Flags().Float64Var(&exit, "exit", 70, "exit threshold")
	cmd.Flags().IntVar(&window, "window", 0, "RSI window")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the portfolio result as msgpack to this file")
	return cmd
}
