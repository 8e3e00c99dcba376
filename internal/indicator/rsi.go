// Package indicator computes the RSI oscillator used by both the backtester
// and the live loop.
//
// Gains and losses are averaged with a simple trailing mean over the last
// window price deltas, so the value at index i depends only on
// prices[i-window..i]. Batch and streaming computations therefore agree
// exactly, whatever the length of the history they were given.
package indicator

import (
	"errors"
	"fmt"
	"math"
)

var ErrInsufficientData = errors.New("insufficient data for indicator window")

// RSI returns a slice aligned with prices. The first window entries are NaN.
func RSI(prices []float64, window int) ([]float64, error) {
	if err := checkWindow(len(prices), window); err != nil {
		return nil, err
	}
	out := make([]float64, len(prices))
	calc := NewRSICalculator(window)
	for i, p := range prices {
		v, ok := calc.Push(p)
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out, nil
}

// Last returns the most recent RSI value over prices.
func Last(prices []float64, window int) (float64, error) {
	if err := checkWindow(len(prices), window); err != nil {
		return math.NaN(), err
	}
	if len(prices) <= window {
		return math.NaN(), fmt.Errorf("have %d prices, need %d: %w", len(prices), window+1, ErrInsufficientData)
	}
	return fromDeltas(prices[len(prices)-window-1:]), nil
}

func checkWindow(n, window int) error {
	if window < 1 {
		return fmt.Errorf("window %d must be >= 1: %w", window, ErrInsufficientData)
	}
	if n < window {
		return fmt.Errorf("have %d prices, need %d: %w", n, window, ErrInsufficientData)
	}
	return nil
}

// fromDeltas computes RSI over the deltas of a window+1 slice.
func fromDeltas(prices []float64) float64 {
	var gain, loss float64
	for i := 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gain += d
		} else if d < 0 {
			loss -= d
		} else if math.IsNaN(d) {
			return math.NaN()
		}
	}
	return value(gain, loss)
}

// value maps summed gains and losses to [0,100]. Sums are used directly since
// the window divisor cancels in their ratio.
func value(gain, loss float64) float64 {
	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// RSICalculator produces RSI values one price at a time.
type RSICalculator struct {
	window int
	deltas []float64
	next   int
	filled int
	last   float64
	seen   bool
}

func NewRSICalculator(window int) *RSICalculator {
	if window < 1 {
		window = 1
	}
	return &RSICalculator{window: window, deltas: make([]float64, window)}
}

// Push feeds the next price and reports the RSI once window deltas exist.
func (c *RSICalculator) Push(price float64) (float64, bool) {
	if !c.seen {
		c.last = price
		c.seen = true
		return math.NaN(), false
	}
	c.deltas[c.next] = price - c.last
	c.last = price
	c.next = (c.next + 1) % c.window
	if c.filled < c.window {
		c.filled++
	}
	if c.filled < c.window {
		return math.NaN(), false
	}
	return c.current(), true
}

// current sums the ring oldest-first so the float result matches fromDeltas.
func (c *RSICalculator) current() float64 {
	var gain, loss float64
	for i := 0; i < c.window; i++ {
		d := c.deltas[(c.next+i)%c.window]
		if d > 0 {
			gain += d
		} else if d < 0 {
			loss -= d
		} else if math.IsNaN(d) {
			return math.NaN()
		}
	}
	return value(gain, loss)
}
