package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// PriceFunc returns the price a paper order fills at.
type PriceFunc func(ctx context.Context, asset string) (float64, error)

type paperOrder struct {
	order  Order
	polls  int
	status OrderStatus
}

// Paper simulates an exchange in process. An order reports NEW for
// fillAfter polls and then fills completely at the price seen on that poll.
// A negative fillAfter never fills.
type Paper struct {
	price     PriceFunc
	fillAfter int

	mu     sync.Mutex
	nextID int64
	orders map[string]*paperOrder
	byCID  map[string]string
}

func NewPaper(price PriceFunc, fillAfter int) *Paper {
	return &Paper{
		price:     price,
		fillAfter: fillAfter,
		orders:    make(map[string]*paperOrder),
		byCID:     make(map[string]string),
	}
}

func (p *Paper) PlaceMarketOrder(ctx context.Context, order Order) (OrderHandle, error) {
	if !order.Quantity.IsPositive() {
		return OrderHandle{}, errors.New("order quantity must be positive")
	}
	if err := ctx.Err(); err != nil {
		return OrderHandle{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byCID[order.ClientOrderID]; ok && order.ClientOrderID != "" {
		return p.handle(id), nil
	}
	p.nextID++
	id := strconv.FormatInt(p.nextID, 10)
	order.Asset = strings.ToUpper(order.Asset)
	p.orders[id] = &paperOrder{order: order, status: OrderStatus{Status: StatusNew}}
	if order.ClientOrderID != "" {
		p.byCID[order.ClientOrderID] = id
	}
	return p.handle(id), nil
}

func (p *Paper) handle(id string) OrderHandle {
	o := p.orders[id]
	return OrderHandle{Asset: o.order.Asset, Side: o.order.Side, OrderID: id, ClientOrderID: o.order.ClientOrderID}
}

func (p *Paper) OrderStatus(ctx context.Context, handle OrderHandle) (OrderStatus, error) {
	p.mu.Lock()
	o, ok := p.orders[handle.OrderID]
	if !ok {
		p.mu.Unlock()
		return OrderStatus{}, fmt.Errorf("unknown order %s", handle.OrderID)
	}
	if o.status.Status.Terminal() || p.fillAfter < 0 || o.polls < p.fillAfter {
		o.polls++
		st := o.status
		p.mu.Unlock()
		return st, nil
	}
	asset := o.order.Asset
	p.mu.Unlock()

	price, err := p.price(ctx, asset)
	if err != nil {
		return OrderStatus{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !o.status.Status.Terminal() {
		o.status = OrderStatus{
			Status: StatusFilled,
			Fills:  []Fill{{Price: decimal.NewFromFloat(price), Quantity: o.order.Quantity}},
		}
	}
	o.polls++
	return o.status, nil
}
