package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"rsi-grid-bot/internal/exchange"
	"rsi-grid-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrOrderSubmission wraps the last error of an order that could not be
	// submitted after all retries.
	ErrOrderSubmission = errors.New("order submission failed")
	// ErrOrderNeverFilled means polling ran out, or the order closed, before
	// it filled completely.
	ErrOrderNeverFilled = errors.New("order never filled")
)

const cloidPrefix = "cloid:"

var cloidNamespace = uuid.MustParse("6f2d8a4e-1c3b-5e7f-9a0b-2c4d6e8f0a1b")

// ClientOrderID derives a stable id for one attempt to act on a state
// version, so a cycle repeated after a crash finds the order it already
// placed instead of sending another. A new attempt starts only after the
// previous order closed without filling.
func ClientOrderID(asset string, version int64, side exchange.Side, attempt int) string {
	name := fmt.Sprintf("%s:%d:%s", asset, version, side)
	if attempt > 0 {
		name = fmt.Sprintf("%s:%d", name, attempt)
	}
	return uuid.NewSHA1(cloidNamespace, []byte(name)).String()
}

type Config struct {
	SubmitAttempts int
	SubmitBackoff  time.Duration
	PollInterval   time.Duration
	PollMax        time.Duration
	PollAttempts   int
}

func (c Config) withDefaults() Config {
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = 5
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = 200 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PollMax < c.PollInterval {
		c.PollMax = c.PollInterval
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 30
	}
	return c
}

type Executor struct {
	client exchange.Client
	store  state.Store
	cfg    Config
	log    *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	cache map[string]exchange.OrderHandle
}

func New(client exchange.Client, store state.Store, cfg Config, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		client: client,
		store:  store,
		cfg:    cfg.withDefaults(),
		log:    log,
		sleep:  sleepContext,
		cache:  make(map[string]exchange.OrderHandle),
	}
}

// PlaceMarketOrder submits order, retrying with exponential backoff. Orders
// carrying a ClientOrderID are placed at most once: the handle is cached and
// persisted, and later calls with the same id return it.
func (e *Executor) PlaceMarketOrder(ctx context.Context, order exchange.Order) (exchange.OrderHandle, error) {
	if order.ClientOrderID == "" {
		return e.placeWithRetry(ctx, order)
	}
	cacheKey := cloidPrefix + order.ClientOrderID
	e.mu.Lock()
	if h, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return h, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if raw, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return exchange.OrderHandle{}, err
		} else if ok {
			var h exchange.OrderHandle
			if err := json.Unmarshal([]byte(raw), &h); err == nil {
				e.mu.Lock()
				e.cache[cacheKey] = h
				e.mu.Unlock()
				e.log.Info("reusing placed order", zap.String("cloid", order.ClientOrderID), zap.String("order_id", h.OrderID))
				return h, nil
			}
			e.log.Warn("ignoring unreadable order record", zap.String("key", cacheKey))
		}
	}
	h, err := e.placeWithRetry(ctx, order)
	if err != nil {
		return exchange.OrderHandle{}, err
	}
	if e.store != nil {
		payload, _ := json.Marshal(h)
		if err := e.store.Set(ctx, cacheKey, string(payload)); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = h
	e.mu.Unlock()
	return h, nil
}

// Forget drops the record of a client order id once its order is settled.
func (e *Executor) Forget(ctx context.Context, clientOrderID string) error {
	if clientOrderID == "" {
		return nil
	}
	cacheKey := cloidPrefix + clientOrderID
	e.mu.Lock()
	delete(e.cache, cacheKey)
	e.mu.Unlock()
	if e.store == nil {
		return nil
	}
	return e.store.Delete(ctx, cacheKey)
}

// WaitForFill polls the order until it is filled, with the interval doubling
// up to PollMax. It gives up with ErrOrderNeverFilled after PollAttempts
// polls or when the order closes unfilled. On ctx cancellation the last
// status seen is returned with ctx.Err() so partial fills are not lost.
func (e *Executor) WaitForFill(ctx context.Context, h exchange.OrderHandle) (exchange.OrderStatus, error) {
	var last exchange.OrderStatus
	var lastErr error
	interval := e.cfg.PollInterval
	for attempt := 1; attempt <= e.cfg.PollAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		st, err := e.client.OrderStatus(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			lastErr = err
			e.log.Warn("order status failed", zap.String("order_id", h.OrderID), zap.Int("attempt", attempt), zap.Error(err))
		} else {
			last = st
			lastErr = nil
			switch {
			case st.Status == exchange.StatusFilled:
				return st, nil
			case st.Status.Terminal():
				return st, fmt.Errorf("order %s closed as %s: %w", h.OrderID, st.Status, ErrOrderNeverFilled)
			}
		}
		if attempt == e.cfg.PollAttempts {
			break
		}
		if err := e.sleep(ctx, interval); err != nil {
			return last, err
		}
		interval *= 2
		if interval > e.cfg.PollMax {
			interval = e.cfg.PollMax
		}
	}
	if lastErr != nil {
		return last, fmt.Errorf("order %s after %d polls: %w: %w", h.OrderID, e.cfg.PollAttempts, ErrOrderNeverFilled, lastErr)
	}
	return last, fmt.Errorf("order %s still %s after %d polls: %w", h.OrderID, last.Status, e.cfg.PollAttempts, ErrOrderNeverFilled)
}

func (e *Executor) placeWithRetry(ctx context.Context, order exchange.Order) (exchange.OrderHandle, error) {
	var h exchange.OrderHandle
	err := e.retry(ctx, func() error {
		var err error
		h, err = e.client.PlaceMarketOrder(ctx, order)
		return err
	})
	if err != nil {
		return exchange.OrderHandle{}, err
	}
	if h.OrderID == "" {
		return exchange.OrderHandle{}, fmt.Errorf("%w: empty order id", ErrOrderSubmission)
	}
	return h, nil
}

type temporary interface {
	Temporary() bool
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := e.cfg.SubmitBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var tmp temporary
		if errors.As(err, &tmp) && !tmp.Temporary() {
			return fmt.Errorf("%w: %w", ErrOrderSubmission, err)
		}
		if attempt >= e.cfg.SubmitAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrOrderSubmission, attempt, err)
		}
		e.log.Warn("order submit retry", zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		if err := e.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
