package main

import (
	"testing"
	"time"

	"rsi-grid-bot/internal/backtest"
	"rsi-grid-bot/internal/config"
)

func TestParseTime(t *testing.T) {
	got, err := parseTime("2024-01-02")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	if !got.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", got)
	}
	got, err = parseTime("2024-01-02T03:04:05+02:00")
	if err != nil {
		t.Fatalf("parse rfc3339: %v", err)
	}
	if !got.Equal(time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", got)
	}
	if got, err := parseTime(" "); err != nil || !got.IsZero() {
		t.Fatalf("expected zero time for empty input, got %v %v", got, err)
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Fatalf("expected error for unparseable time")
	}
}

func TestSeriesBounds(t *testing.T) {
	opts := seriesOptions{start: "2024-02-01", end: "2024-01-01"}
	if _, _, err := opts.bounds(); err == nil {
		t.Fatalf("expected error when start is after end")
	}
	opts = seriesOptions{start: "2024-01-01"}
	start, end, err := opts.bounds()
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	if start.IsZero() || !end.IsZero() {
		t.Fatalf("unexpected bounds %v %v", start, end)
	}
}

func TestPair(t *testing.T) {
	got, err := pair("--entry", []float64{30, 50})
	if err != nil || got != [2]float64{30, 50} {
		t.Fatalf("unexpected pair %v %v", got, err)
	}
	if _, err := pair("--entry", []float64{30}); err == nil {
		t.Fatalf("expected error for one value")
	}
	if _, err := pair("--exit", []float64{72, 58}); err == nil {
		t.Fatalf("expected error for inverted range")
	}
}

func TestSweepConfigFromDefaults(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	opts := seriesOptions{asset: " ethusdt ", interval: 4 * time.Hour}
	opts.apply(cfg)
	if cfg.Backtest.Asset != "ETHUSDT" || cfg.Backtest.Interval != 4*time.Hour {
		t.Fatalf("series options not applied: %+v", cfg.Backtest)
	}
	sc, err := sweepConfig(cfg)
	if err != nil {
		t.Fatalf("sweep config: %v", err)
	}
	if sc.Metric != backtest.MetricTotalReturn || sc.Num != 30 || sc.Window != 100 {
		t.Fatalf("unexpected sweep config %+v", sc)
	}
	if sc.EntryRange != (backtest.Range{Lo: 30, Hi: 50}) || sc.ExitRange != (backtest.Range{Lo: 58, Hi: 72}) {
		t.Fatalf("unexpected ranges %+v %+v", sc.EntryRange, sc.ExitRange)
	}
	cfg.Backtest.StopLoss = 5
	if _, err := sweepConfig(cfg); err == nil {
		t.Fatalf("expected error for a stop loss written as a percentage")
	}
	cfg.Backtest.StopLoss = 0
	cfg.Backtest.Metric = "sharpe"
	if _, err := sweepConfig(cfg); err == nil {
		t.Fatalf("expected unknown metric error")
	}
}
