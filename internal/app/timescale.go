package app

import (
	"math"
	"time"

	"rsi-grid-bot/internal/timescale"
)

func (a *App) recordTick(res CycleResult) {
	if a.timescale == nil || res.Price == 0 {
		return
	}
	a.timescale.EnqueueTick(timescale.Tick{
		Time:     a.now().UTC(),
		Asset:    a.cfg.Bot.Asset,
		Price:    res.Price,
		RSI:      res.Decision.RSI,
		PrevRSI:  res.Decision.PrevRSI,
		Action:   string(res.Decision.Action),
		IsBuying: res.State.IsBuying,
	})
}

func (a *App) recordTrade(asset string, at time.Time, execution *Execution) {
	if a.timescale == nil || execution == nil || math.IsNaN(execution.Price) {
		return
	}
	a.timescale.EnqueueTrade(timescale.Trade{
		Time:     at,
		Asset:    asset,
		Side:     string(execution.Side),
		Price:    execution.Price,
		Quantity: execution.Quantity,
		OrderID:  execution.OrderID,
	})
}
