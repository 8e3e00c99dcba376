package app

import (
	"context"
	"errors"
	"fmt"
	"math"

	"rsi-grid-bot/internal/exchange"
	"rsi-grid-bot/internal/exec"
	"rsi-grid-bot/internal/indicator"
	"rsi-grid-bot/internal/market"
	"rsi-grid-bot/internal/state"
	"rsi-grid-bot/internal/strategy"
	"rsi-grid-bot/internal/tradelog"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrMarketData wraps failures to obtain recent prices.
	ErrMarketData = errors.New("market data unavailable")
	// ErrStateStore wraps failures to read or write the bot state.
	ErrStateStore = errors.New("state store failure")
)

type CycleErrorKind string

const (
	KindNone       CycleErrorKind = ""
	KindData       CycleErrorKind = "data"
	KindSubmission CycleErrorKind = "submission"
	KindUnfilled   CycleErrorKind = "unfilled"
	KindState      CycleErrorKind = "state"
	KindTransient  CycleErrorKind = "transient"
)

// Execution is the fill a traded cycle produced.
type Execution struct {
	Side          exchange.Side
	Price         float64
	Quantity      float64
	OrderID       string
	ClientOrderID string
	Partial       bool
}

// CycleResult is the outcome of one cycle. Err is nil on success; Kind
// classifies it otherwise.
type CycleResult struct {
	Decision  strategy.Decision
	Price     float64
	Execution *Execution
	State     state.BotState
	Err       error
	Kind      CycleErrorKind
}

func classify(err error) CycleErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, exec.ErrOrderNeverFilled):
		return KindUnfilled
	case errors.Is(err, exec.ErrOrderSubmission):
		return KindSubmission
	case errors.Is(err, state.ErrStaleState), errors.Is(err, state.ErrAssetMismatch), errors.Is(err, ErrStateStore):
		return KindState
	case errors.Is(err, ErrMarketData), errors.Is(err, indicator.ErrInsufficientData),
		errors.Is(err, market.ErrNotIncreasing), errors.Is(err, market.ErrMarketStale):
		return KindData
	}
	return KindTransient
}

// Cycle fetches recent closes, computes the latest RSI, decides against the
// persisted state, trades when a crossover fires, and commits the result.
// A failed order leaves the stored state untouched, so the next cycle sees
// the same crossover and resumes the same order, or places a fresh one for
// the remainder once the previous one closed.
func (a *App) Cycle(ctx context.Context) CycleResult {
	a.metrics.Cycles.Inc()
	res := a.cycle(ctx)
	if res.Err != nil {
		res.Kind = classify(res.Err)
	}
	a.saveSnapshot(ctx, res)
	a.recordTick(res)
	return res
}

func (a *App) cycle(ctx context.Context) CycleResult {
	bot := a.cfg.Bot
	var res CycleResult
	series, err := a.market.RecentPrices(ctx, bot.Asset, bot.Lookback, bot.KlineInterval)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrMarketData, err)
		return res
	}
	if err := series.Validate(); err != nil {
		res.Err = err
		return res
	}
	if err := series.CheckAge(a.now(), bot.MaxMarketAge); err != nil {
		res.Err = err
		return res
	}
	closes := series.Closes()
	rsi, err := indicator.Last(closes, bot.Window)
	if err != nil {
		res.Err = fmt.Errorf("rsi over %d closes: %w", len(closes), err)
		return res
	}
	res.Price = closes[len(closes)-1]

	st, err := a.botState.Load(ctx)
	if err != nil {
		res.Err = fmt.Errorf("%w: load: %w", ErrStateStore, err)
		return res
	}
	res.State = st
	res.Decision = strategy.Decide(st, rsi, bot.Entry, bot.Exit)
	a.metrics.LastRSI.Set(rsi)
	a.log.Debug("cycle decided",
		zap.Float64("price", res.Price),
		zap.Float64("rsi", rsi),
		zap.Float64("prev_rsi", res.Decision.PrevRSI),
		zap.String("state", string(res.Decision.State)),
		zap.String("action", string(res.Decision.Action)),
	)

	isBuying := st.IsBuying
	var settled *exec.Intent
	if event, ok := strategy.EventFor(res.Decision.Action); ok {
		intent := exec.Intent{Asset: bot.Asset, Version: st.Version, Side: sideFor(res.Decision.Action)}
		execution, err := a.trade(ctx, intent)
		res.Execution = execution
		if err != nil {
			res.Err = err
			return res
		}
		isBuying = strategy.NewStateMachine(res.Decision.State).Apply(event).IsBuying()
		settled = &intent
	}

	next, err := a.botState.Commit(ctx, st, isBuying, rsi)
	if err != nil {
		if !errors.Is(err, state.ErrStaleState) {
			err = fmt.Errorf("%w: commit: %w", ErrStateStore, err)
		}
		res.Err = err
		return res
	}
	res.State = next
	if next.IsBuying {
		a.metrics.InPosition.Set(0)
	} else {
		a.metrics.InPosition.Set(1)
	}
	if settled != nil {
		a.settle(ctx, *settled, res.Execution.ClientOrderID)
	}
	return res
}

// settle drops the order records of a committed transition.
func (a *App) settle(ctx context.Context, intent exec.Intent, cloid string) {
	if err := a.executor.Forget(ctx, cloid); err != nil {
		a.log.Warn("failed to clear order record", zap.String("cloid", cloid), zap.Error(err))
	}
	if err := a.executor.ClearProgress(ctx, intent); err != nil {
		a.log.Warn("failed to clear order progress", zap.String("cloid", cloid), zap.Error(err))
	}
}

func sideFor(action strategy.Action) exchange.Side {
	if action == strategy.ActionSell {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

// trade places the market order for intent and waits for it to fill. Fills
// are logged once each, including those of an order that never completed.
// An order that closes short is retired so the next attempt places a new
// one for the remaining quantity.
func (a *App) trade(ctx context.Context, intent exec.Intent) (*Execution, error) {
	progress, err := a.executor.LoadProgress(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("%w: order progress: %w", ErrStateStore, err)
	}
	cloid := intent.ClientOrderID(progress.Attempt)
	requested := decimal.NewFromFloat(a.cfg.Bot.Quantity)
	remaining := progress.Remaining(requested)
	if !remaining.IsPositive() {
		a.log.Info("earlier orders already filled the requested quantity", zap.String("cloid", cloid), zap.String("closed", progress.Closed.String()))
		return &Execution{Side: intent.Side, Quantity: progress.Closed.InexactFloat64(), ClientOrderID: cloid}, nil
	}
	order := exchange.Order{
		Asset:         intent.Asset,
		Side:          intent.Side,
		Quantity:      remaining,
		ClientOrderID: cloid,
	}
	handle, err := a.executor.PlaceMarketOrder(ctx, order)
	if err != nil {
		a.metrics.OrdersFailed.Inc()
		return nil, err
	}
	a.metrics.OrdersPlaced.Inc()
	a.log.Info("order placed",
		zap.String("asset", intent.Asset),
		zap.String("side", string(intent.Side)),
		zap.String("quantity", remaining.String()),
		zap.String("order_id", handle.OrderID),
		zap.String("cloid", cloid),
		zap.Int("attempt", progress.Attempt),
	)

	status, waitErr := a.executor.WaitForFill(ctx, handle)
	if errors.Is(waitErr, exec.ErrOrderNeverFilled) {
		a.metrics.OrdersUnfilled.Inc()
	}
	filledQty := status.FilledQuantity()
	deltaQty, deltaPrice, logged := progress.Unlogged(status)
	if logged {
		a.recordExecution(intent.Asset, &Execution{
			Side:     intent.Side,
			Price:    deltaPrice.InexactFloat64(),
			Quantity: deltaQty.InexactFloat64(),
			OrderID:  handle.OrderID,
		})
	}
	retired := status.Status.Terminal() && status.Status != exchange.StatusFilled
	if retired {
		progress.Retire(filledQty)
	}
	if logged || retired {
		if err := a.executor.SaveProgress(context.WithoutCancel(ctx), intent, progress); err != nil {
			if waitErr != nil {
				return nil, fmt.Errorf("%w: order progress: %w (after %w)", ErrStateStore, err, waitErr)
			}
			a.log.Warn("failed to persist order progress", zap.String("cloid", cloid), zap.Error(err))
		}
	}
	if retired {
		if err := a.executor.Forget(context.WithoutCancel(ctx), cloid); err != nil {
			a.log.Warn("failed to clear order record", zap.String("cloid", cloid), zap.Error(err))
		}
	}

	if waitErr != nil && filledQty.IsZero() {
		return nil, waitErr
	}
	price, _ := status.AveragePrice()
	execution := &Execution{
		Side:          intent.Side,
		Price:         price.InexactFloat64(),
		Quantity:      filledQty.InexactFloat64(),
		OrderID:       handle.OrderID,
		ClientOrderID: cloid,
		Partial:       waitErr != nil,
	}
	if waitErr != nil {
		a.log.Warn("order partially filled",
			zap.String("order_id", handle.OrderID),
			zap.Float64("filled", execution.Quantity),
			zap.String("requested", remaining.String()),
			zap.Bool("retired", retired),
			zap.Error(waitErr),
		)
		return execution, waitErr
	}
	if !logged {
		a.log.Info("order fill already logged", zap.String("order_id", handle.OrderID), zap.String("cloid", cloid))
		return execution, nil
	}
	a.metrics.Trades.Inc()
	a.log.Info("order filled",
		zap.String("asset", intent.Asset),
		zap.String("side", string(intent.Side)),
		zap.Float64("price", execution.Price),
		zap.Float64("quantity", execution.Quantity),
	)
	a.notify(ctx, fmt.Sprintf("%s %s %s @ %s", intent.Side, filledQty.String(), intent.Asset, price.StringFixed(2)))
	return execution, nil
}

func (a *App) recordExecution(asset string, execution *Execution) {
	at := a.now().UTC()
	if err := a.tradeLog.Append(tradelog.Record{
		Symbol:   asset,
		Side:     string(execution.Side),
		Price:    execution.Price,
		Quantity: execution.Quantity,
		Time:     at,
	}); err != nil {
		a.log.Error("trade log append failed", zap.String("order_id", execution.OrderID), zap.Error(err))
	}
	a.recordTrade(asset, at, execution)
}

func (a *App) saveSnapshot(ctx context.Context, res CycleResult) {
	snap := state.CycleSnapshot{
		Asset:       a.cfg.Bot.Asset,
		Action:      string(res.Decision.Action),
		Price:       res.Price,
		RSI:         finiteOrZero(res.Decision.RSI),
		PrevRSI:     finiteOrZero(res.Decision.PrevRSI),
		IsBuying:    res.State.IsBuying,
		UpdatedAtMS: a.now().UnixMilli(),
	}
	if res.Decision.Action == "" {
		snap.Action = string(strategy.ActionHold)
	}
	if res.Err != nil {
		snap.Error = res.Err.Error()
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := state.SaveCycleSnapshot(ctx, a.store, snap); err != nil {
		a.log.Warn("cycle snapshot save failed", zap.Error(err))
	}
}

// JSON cannot carry NaN.
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
