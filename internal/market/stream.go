package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"rsi-grid-bot/internal/binance/ws"

	"go.uber.org/zap"
)

type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Close     string `json:"c"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// Stream buffers closed candles from the kline websocket for one asset and
// interval. RecentPrices is served from the buffer once it holds enough
// candles and its newest candle opened at most two intervals ago; otherwise
// the fallback source answers and its result also seeds the buffer.
type Stream struct {
	client   *ws.Client
	fallback Source
	asset    string
	interval time.Duration
	capacity int
	log      *zap.Logger
	now      func() time.Time

	mu  sync.Mutex
	buf PriceSeries
}

func NewStream(client *ws.Client, fallback Source, asset string, interval time.Duration, capacity int, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = maxKlinesLimit
	}
	return &Stream{
		client:   client,
		fallback: fallback,
		asset:    strings.ToUpper(asset),
		interval: interval,
		capacity: capacity,
		log:      log,
		now:      time.Now,
	}
}

// Run subscribes to the kline stream and blocks until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	name, err := IntervalName(s.interval)
	if err != nil {
		return err
	}
	stream := fmt.Sprintf("%s@kline_%s", strings.ToLower(s.asset), name)
	if err := s.client.Subscribe(ctx, ws.Subscribe(1, stream)); err != nil {
		return err
	}
	s.log.Info("kline stream subscribed", zap.String("stream", stream))
	return s.client.Run(ctx, s.handle)
}

func (s *Stream) RecentPrices(ctx context.Context, asset string, lookback int, interval time.Duration) (PriceSeries, error) {
	if strings.EqualFold(asset, s.asset) && interval == s.interval {
		s.mu.Lock()
		if len(s.buf) >= lookback {
			if s.fresh(s.buf[len(s.buf)-1].Time) {
				out := append(PriceSeries(nil), s.buf.Tail(lookback)...)
				s.mu.Unlock()
				return out, nil
			}
			s.log.Warn("kline stream buffer is stale, using fallback",
				zap.Time("newest", s.buf[len(s.buf)-1].Time),
				zap.Duration("age", s.now().Sub(s.buf[len(s.buf)-1].Time)),
			)
		}
		s.mu.Unlock()
	}
	if s.fallback == nil {
		return nil, errors.New("kline stream buffer is short and no fallback source is set")
	}
	series, err := s.fallback.RecentPrices(ctx, asset, lookback, interval)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(asset, s.asset) && interval == s.interval {
		s.merge(series)
	}
	return series, nil
}

// fresh reports whether a candle opened at newest can still be the latest
// closed one: the next close is due one interval after this one.
func (s *Stream) fresh(newest time.Time) bool {
	if s.interval <= 0 {
		return true
	}
	return s.now().Sub(newest) <= 2*s.interval
}

func (s *Stream) HistoricalPrices(ctx context.Context, asset string, start, end time.Time, interval time.Duration) (PriceSeries, error) {
	if s.fallback == nil {
		return nil, errors.New("stream has no historical source")
	}
	return s.fallback.HistoricalPrices(ctx, asset, start, end, interval)
}

// Len is the number of buffered candles.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *Stream) handle(msg json.RawMessage) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil || ev.Event != "kline" {
		return
	}
	if !ev.Kline.Closed || !strings.EqualFold(ev.Symbol, s.asset) {
		return
	}
	price, err := strconv.ParseFloat(ev.Kline.Close, 64)
	if err != nil {
		s.log.Warn("bad kline close", zap.String("close", ev.Kline.Close), zap.Error(err))
		return
	}
	s.merge(PriceSeries{{Time: time.UnixMilli(ev.Kline.OpenTime).UTC(), Close: price}})
}

// merge appends points newer than the buffer tail and trims to capacity.
// If the points leave a gap, the buffer restarts from them.
func (s *Stream) merge(points PriceSeries) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		n := len(s.buf)
		if n > 0 {
			last := s.buf[n-1].Time
			if !p.Time.After(last) {
				continue
			}
			if s.interval > 0 && p.Time.Sub(last) > s.interval {
				s.buf = s.buf[:0]
			}
		}
		s.buf = append(s.buf, p)
	}
	if extra := len(s.buf) - s.capacity; extra > 0 {
		s.buf = append(PriceSeries(nil), s.buf[extra:]...)
	}
}
