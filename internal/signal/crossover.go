// Package signal turns RSI values into edge-triggered entry and exit events.
package signal

import "math"

type Signal struct {
	Enter bool
	Exit  bool
}

// CrossedBelow reports a move from at-or-above level to strictly below it.
func CrossedBelow(prev, cur, level float64) bool {
	return prev >= level && cur < level
}

// CrossedAbove reports a move from at-or-below level to strictly above it.
func CrossedAbove(prev, cur, level float64) bool {
	return prev <= level && cur > level
}

// Generate emits one Signal per RSI value. Each defined value is compared with
// the previous defined value; NaN entries never fire and are bridged over.
func Generate(rsi []float64, entry, exit float64) []Signal {
	out := make([]Signal, len(rsi))
	prev := math.NaN()
	for i, cur := range rsi {
		if math.IsNaN(cur) {
			continue
		}
		if !math.IsNaN(prev) {
			out[i] = Signal{
				Enter: CrossedBelow(prev, cur, entry),
				Exit:  CrossedAbove(prev, cur, exit),
			}
		}
		prev = cur
	}
	return out
}

// Count returns the number of entry and exit events.
func Count(signals []Signal) (enters, exits int) {
	for _, s := range signals {
		if s.Enter {
			enters++
		}
		if s.Exit {
			exits++
		}
	}
	return enters, exits
}
