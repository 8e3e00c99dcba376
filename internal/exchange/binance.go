package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"rsi-grid-bot/internal/binance/rest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const orderPath = "/api/v3/order"

type binanceFill struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

type binanceOrder struct {
	Symbol              string          `json:"symbol"`
	OrderID             int64           `json:"orderId"`
	ClientOrderID       string          `json:"clientOrderId"`
	Status              string          `json:"status"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Fills               []binanceFill   `json:"fills"`
}

// Binance is a signed spot REST client. The client passed in must carry
// credentials.
type Binance struct {
	rest *rest.Client
	log  *zap.Logger
}

func NewBinance(client *rest.Client, log *zap.Logger) *Binance {
	if log == nil {
		log = zap.NewNop()
	}
	return &Binance{rest: client, log: log}
}

func (b *Binance) PlaceMarketOrder(ctx context.Context, order Order) (OrderHandle, error) {
	if !order.Quantity.IsPositive() {
		return OrderHandle{}, errors.New("order quantity must be positive")
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(order.Asset))
	params.Set("side", string(order.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", order.Quantity.String())
	params.Set("newOrderRespType", "FULL")
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}
	var resp binanceOrder
	if err := b.rest.Signed(ctx, http.MethodPost, orderPath, params, &resp); err != nil {
		return OrderHandle{}, err
	}
	if resp.OrderID == 0 {
		return OrderHandle{}, errors.New("order response missing orderId")
	}
	b.log.Info("order accepted",
		zap.String("asset", order.Asset),
		zap.String("side", string(order.Side)),
		zap.Int64("order_id", resp.OrderID),
		zap.String("status", resp.Status),
	)
	return OrderHandle{
		Asset:         strings.ToUpper(order.Asset),
		Side:          order.Side,
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
	}, nil
}

// OrderStatus queries the order. The query endpoint has no per-fill detail,
// so fills are summarized as one fill at cumulative quote / executed qty.
func (b *Binance) OrderStatus(ctx context.Context, handle OrderHandle) (OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", handle.Asset)
	switch {
	case handle.OrderID != "":
		params.Set("orderId", handle.OrderID)
	case handle.ClientOrderID != "":
		params.Set("origClientOrderId", handle.ClientOrderID)
	default:
		return OrderStatus{}, errors.New("order handle has no id")
	}
	var resp binanceOrder
	if err := b.rest.Signed(ctx, http.MethodGet, orderPath, params, &resp); err != nil {
		return OrderStatus{}, err
	}
	return resp.status()
}

func (o binanceOrder) status() (OrderStatus, error) {
	st := OrderStatus{Status: Status(o.Status)}
	if st.Status == "" {
		return OrderStatus{}, fmt.Errorf("order %d: empty status", o.OrderID)
	}
	if len(o.Fills) > 0 {
		for _, f := range o.Fills {
			st.Fills = append(st.Fills, Fill{Price: f.Price, Quantity: f.Qty})
		}
		return st, nil
	}
	if o.ExecutedQty.IsPositive() {
		st.Fills = []Fill{{
			Price:    o.CummulativeQuoteQty.Div(o.ExecutedQty),
			Quantity: o.ExecutedQty,
		}}
	}
	return st, nil
}
