package signal

import (
	"math"
	"math/rand"
)

// Kind is a discrete trading signal.
type Kind string

const (
	Buy  Kind = "BUY"
	Sell Kind = "SELL"
	Hold Kind = "HOLD"
)

const (
	// thresholdPct is the delta magnitude (in percent) above which a
	// BUY or SELL signal is emitted. Values exactly at the threshold
	// stay HOLD.
	thresholdPct = 1.2

	momentumWeight   = 0.15
	volatilityWeight = 0.08
	volatilityClamp  = 0.03
	noiseBound       = 0.008
)

// Generator produces a fair value estimate per symbol from its rolling
// price history, then classifies the gap between estimate and market
// price into a discrete signal.
//
// The noise term models market unpredictability and is deliberately
// small relative to the signal thresholds. The random source is
// injected so tests can seed it and replay deterministically.
type Generator struct {
	history *History
	rng     *rand.Rand
}

func NewGenerator(history *History, rng *rand.Rand) *Generator {
	return &Generator{history: history, rng: rng}
}

// History exposes the generator's rolling window store.
func (g *Generator) History() *History {
	return g.history
}

// FairValue pushes price into the symbol's history and returns the fair
// value estimate, rounded to 8 decimal places. With fewer than 5
// samples the estimate is the current price exactly.
func (g *Generator) FairValue(symbol string, price float64) float64 {
	g.history.Push(symbol, price)

	w := g.history.Window(symbol)
	if len(w) < 5 {
		return price
	}

	var momentum float64
	if len(w) >= 10 {
		recent := mean(w[len(w)-5:])
		older := mean(w[len(w)-10 : len(w)-5])
		if older > 0 {
			momentum = (recent - older) / older * momentumWeight
		}
	}

	var volatility float64
	if len(w) >= 10 {
		last10 := w[len(w)-10:]
		spread := maxOf(last10) - minOf(last10)
		if price > 0 {
			volatility = clamp(spread/price*volatilityWeight, -volatilityClamp, volatilityClamp)
		}
	}

	noise := -noiseBound + g.rng.Float64()*2*noiseBound

	fair := price * (1 + momentum + volatility + noise)
	return math.Round(fair*1e8) / 1e8
}

// Classify maps the gap between fair value and market price to a signal
// kind and the gap in percent. A non-positive price forces HOLD with a
// zero delta, guarding against feed corruption.
func (g *Generator) Classify(price, fairValue float64) (Kind, float64) {
	if price <= 0 {
		return Hold, 0
	}

	delta := (fairValue - price) / price * 100

	switch {
	case delta > thresholdPct:
		return Buy, delta
	case delta < -thresholdPct:
		return Sell, delta
	default:
		return Hold, delta
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
