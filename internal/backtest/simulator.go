package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"rsi-grid-bot/internal/market"
	"rsi-grid-bot/internal/signal"
)

type PositionState string

const (
	Flat PositionState = "FLAT"
	Long PositionState = "LONG"
)

type CloseReason string

const (
	ReasonSignal     CloseReason = "signal"
	ReasonStopLoss   CloseReason = "stop_loss"
	ReasonTakeProfit CloseReason = "take_profit"
)

const SideLong = "LONG"

var ErrLengthMismatch = errors.New("signals and prices differ in length")

// SimulatorConfig holds fractional rates: 0.001 fee is 0.1% per leg,
// StopLoss 0.05 closes after a 5% drop. Zero disables a stop.
type SimulatorConfig struct {
	Fee        float64
	StopLoss   float64
	TakeProfit float64
}

type Trade struct {
	OpenTime   time.Time   `msgpack:"open_time"`
	CloseTime  time.Time   `msgpack:"close_time"`
	OpenPrice  float64     `msgpack:"open_price"`
	ClosePrice float64     `msgpack:"close_price"`
	Side       string      `msgpack:"side"`
	FeeRate    float64     `msgpack:"fee_rate"`
	ReturnPct  float64     `msgpack:"return_pct"`
	Reason     CloseReason `msgpack:"reason"`
}

// OpenPosition describes a position still long when the series ended. It is
// excluded from realized metrics.
type OpenPosition struct {
	OpenTime      time.Time `msgpack:"open_time"`
	OpenPrice     float64   `msgpack:"open_price"`
	LastPrice     float64   `msgpack:"last_price"`
	UnrealizedPct float64   `msgpack:"unrealized_pct"`
}

type PortfolioResult struct {
	Param  GridParameter `msgpack:"param"`
	Trades []Trade       `msgpack:"trades"`

	// Equity is the compounded value of one unit after each trade, starting
	// at 1.0, so len(Equity) == len(Trades)+1.
	Equity []float64     `msgpack:"equity"`
	Open   *OpenPosition `msgpack:"open,omitempty"`
}

// TradeReturn applies the fee on both legs.
func TradeReturn(openPrice, closePrice, fee float64) float64 {
	return (closePrice*(1-fee) - openPrice*(1+fee)) / openPrice
}

// Simulate runs the FLAT/LONG state machine over the series. At most one
// transition happens per bar and stops are not checked on the entry bar.
// When a stop and an exit signal land on the same bar, stop-loss wins, then
// take-profit, then the signal.
func Simulate(param GridParameter, series market.PriceSeries, signals []signal.Signal, cfg SimulatorConfig) (PortfolioResult, error) {
	if len(series) != len(signals) {
		return PortfolioResult{}, fmt.Errorf("%d prices, %d signals: %w", len(series), len(signals), ErrLengthMismatch)
	}
	result := PortfolioResult{Param: param, Equity: []float64{1}}
	state := Flat
	var openPrice float64
	var openTime time.Time
	equity := 1.0

	for i, pt := range series {
		price := pt.Close
		if math.IsNaN(price) || price <= 0 {
			continue
		}
		switch state {
		case Flat:
			if signals[i].Enter {
				state = Long
				openPrice = price
				openTime = pt.Time
			}
		case Long:
			reason, ok := closeReason(openPrice, price, signals[i], cfg)
			if !ok {
				continue
			}
			ret := TradeReturn(openPrice, price, cfg.Fee)
			result.Trades = append(result.Trades, Trade{
				OpenTime:   openTime,
				CloseTime:  pt.Time,
				OpenPrice:  openPrice,
				ClosePrice: price,
				Side:       SideLong,
				FeeRate:    cfg.Fee,
				ReturnPct:  ret,
				Reason:     reason,
			})
			equity *= 1 + ret
			result.Equity = append(result.Equity, equity)
			state = Flat
		}
	}

	if state == Long {
		last := lastPrice(series)
		result.Open = &OpenPosition{
			OpenTime:      openTime,
			OpenPrice:     openPrice,
			LastPrice:     last,
			UnrealizedPct: TradeReturn(openPrice, last, cfg.Fee),
		}
	}
	return result, nil
}

func closeReason(openPrice, price float64, sig signal.Signal, cfg SimulatorConfig) (CloseReason, bool) {
	if cfg.StopLoss > 0 && price <= openPrice*(1-cfg.StopLoss) {
		return ReasonStopLoss, true
	}
	if cfg.TakeProfit > 0 && price >= openPrice*(1+cfg.TakeProfit) {
		return ReasonTakeProfit, true
	}
	if sig.Exit {
		return ReasonSignal, true
	}
	return "", false
}

func lastPrice(series market.PriceSeries) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if p := series[i].Close; !math.IsNaN(p) && p > 0 {
			return p
		}
	}
	return math.NaN()
}
