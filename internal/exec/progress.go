package exec

import (
	"context"
	"encoding/json"
	"fmt"

	"rsi-grid-bot/internal/exchange"

	"github.com/shopspring/decimal"
)

const progressPrefix = "order:progress:"

// Intent is one state transition the live loop trades: side on asset from
// state version Version.
type Intent struct {
	Asset   string
	Version int64
	Side    exchange.Side
}

func (i Intent) key() string {
	return fmt.Sprintf("%s%s:%d:%s", progressPrefix, i.Asset, i.Version, i.Side)
}

func (i Intent) ClientOrderID(attempt int) string {
	return ClientOrderID(i.Asset, i.Version, i.Side, attempt)
}

// Progress is what an Intent has achieved so far. Closed is the quantity
// filled by earlier attempts whose orders closed before filling completely.
// Logged and LoggedNotional cover the fills of the current attempt that are
// already in the trade log.
type Progress struct {
	Attempt        int             `json:"attempt"`
	Closed         decimal.Decimal `json:"closed"`
	Logged         decimal.Decimal `json:"logged"`
	LoggedNotional decimal.Decimal `json:"logged_notional"`
}

// Remaining is what is left to trade of requested.
func (p Progress) Remaining(requested decimal.Decimal) decimal.Decimal {
	return requested.Sub(p.Closed)
}

// Unlogged returns the fills of status not covered by Logged, priced at
// their own average, and marks them logged.
func (p *Progress) Unlogged(status exchange.OrderStatus) (qty, price decimal.Decimal, ok bool) {
	filled := status.FilledQuantity()
	qty = filled.Sub(p.Logged)
	if !qty.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	notional := status.Notional()
	price = notional.Sub(p.LoggedNotional).Div(qty)
	p.Logged = filled
	p.LoggedNotional = notional
	return qty, price, true
}

// Retire records that the current order closed with filled executed and
// moves to the next attempt.
func (p *Progress) Retire(filled decimal.Decimal) {
	p.Closed = p.Closed.Add(filled)
	p.Attempt++
	p.Logged = decimal.Zero
	p.LoggedNotional = decimal.Zero
}

// LoadProgress returns the stored progress of intent, or a zero Progress.
func (e *Executor) LoadProgress(ctx context.Context, intent Intent) (Progress, error) {
	var p Progress
	if e.store == nil {
		return p, nil
	}
	raw, ok, err := e.store.Get(ctx, intent.key())
	if err != nil || !ok {
		return p, err
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Progress{}, fmt.Errorf("%s: %w", intent.key(), err)
	}
	return p, nil
}

func (e *Executor) SaveProgress(ctx context.Context, intent Intent, p Progress) error {
	if e.store == nil {
		return nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return e.store.Set(ctx, intent.key(), string(payload))
}

// ClearProgress drops the record once the transition is committed.
func (e *Executor) ClearProgress(ctx context.Context, intent Intent) error {
	if e.store == nil {
		return nil
	}
	return e.store.Delete(ctx, intent.key())
}
