package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "rsi_grid_bot"

type promLabeled struct {
	vec *prometheus.CounterVec
}

func (p promLabeled) WithLabel(value string) Counter {
	return p.vec.WithLabelValues(value)
}

type Prometheus struct {
	Metrics *Metrics

	registry       *prometheus.Registry
	cycles         prometheus.Counter
	cycleFailures  *prometheus.CounterVec
	ordersPlaced   prometheus.Counter
	ordersFailed   prometheus.Counter
	ordersUnfilled prometheus.Counter
	trades         prometheus.Counter
	alertsSent     prometheus.Counter
	lastRSI        prometheus.Gauge
	inPosition     prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:       registry,
		cycles:         counter("cycles_total", "Total number of live loop cycles run."),
		ordersPlaced:   counter("orders_placed_total", "Total number of orders accepted by the exchange."),
		ordersFailed:   counter("orders_failed_total", "Total number of order submissions that failed after retries."),
		ordersUnfilled: counter("orders_unfilled_total", "Total number of orders that did not fill in time."),
		trades:         counter("trades_total", "Total number of filled trades."),
		alertsSent:     counter("alerts_sent_total", "Total number of operator alerts sent."),
		cycleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "cycle_failures_total",
			Help:      "Total number of failed cycles by error kind.",
		}, []string{"kind"}),
		lastRSI: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "last_rsi",
			Help:      "RSI computed by the latest cycle.",
		}),
		inPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "in_position",
			Help:      "1 while the bot is waiting to sell.",
		}),
	}

	registry.MustRegister(
		p.cycles, p.cycleFailures, p.ordersPlaced, p.ordersFailed,
		p.ordersUnfilled, p.trades, p.alertsSent, p.lastRSI, p.inPosition,
	)

	p.Metrics = &Metrics{
		Cycles:         p.cycles,
		CycleFailures:  promLabeled{p.cycleFailures},
		OrdersPlaced:   p.ordersPlaced,
		OrdersFailed:   p.ordersFailed,
		OrdersUnfilled: p.ordersUnfilled,
		Trades:         p.trades,
		AlertsSent:     p.alertsSent,
		LastRSI:        p.lastRSI,
		InPosition:     p.inPosition,
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
