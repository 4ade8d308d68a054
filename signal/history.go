package signal

// historyCap is the rolling window size for per-symbol price history.
const historyCap = 20

// History keeps a bounded FIFO window of recent prices per symbol. It is
// the only state the fair value model reads, so replaying the same price
// sequence reproduces the same momentum and volatility terms.
type History struct {
	prices map[string][]float64
}

func NewHistory() *History {
	return &History{prices: make(map[string][]float64)}
}

// Push appends price to the symbol's window, evicting the oldest sample
// once the window holds historyCap entries.
func (h *History) Push(symbol string, price float64) {
	w := append(h.prices[symbol], price)
	if len(w) > historyCap {
		w = w[1:]
	}
	h.prices[symbol] = w
}

// Window returns the current window for symbol, oldest first. The
// returned slice is owned by History and must not be mutated.
func (h *History) Window(symbol string) []float64 {
	return h.prices[symbol]
}

// Len returns the number of samples held for symbol.
func (h *History) Len(symbol string) int {
	return len(h.prices[symbol])
}
