package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

// LabeledCounter is a counter family keyed by one label value.
type LabeledCounter interface {
	WithLabel(value string) Counter
}

type Metrics struct {
	Cycles         Counter
	CycleFailures  LabeledCounter
	OrdersPlaced   Counter
	OrdersFailed   Counter
	OrdersUnfilled Counter
	Trades         Counter
	AlertsSent     Counter
	LastRSI        Gauge
	// InPosition is 1 while waiting to sell.
	InPosition Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

type noopLabeled struct{}

func (noopLabeled) WithLabel(string) Counter { return noopCounter{} }

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		Cycles:         n,
		CycleFailures:  noopLabeled{},
		OrdersPlaced:   n,
		OrdersFailed:   n,
		OrdersUnfilled: n,
		Trades:         n,
		AlertsSent:     n,
		LastRSI:        noopGauge{},
		InPosition:     noopGauge{},
	}
}
