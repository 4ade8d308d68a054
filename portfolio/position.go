package portfolio

import "time"

// Side is the direction of a simulated position. The values match the
// signal that opened the position, which is also how close actions are
// labelled in the journal (CLOSE_BUY, CLOSE_SELL).
type Side string

const (
	Long  Side = "BUY"
	Short Side = "SELL"
)

// CloseAction returns the journal action label for closing this side.
func (s Side) CloseAction() string {
	return "CLOSE_" + string(s)
}

// Position is a virtual holding. It exists from open to close and is
// owned exclusively by the Manager; at most one is open per symbol.
type Position struct {
	Symbol     string
	Side       Side
	EntryPrice float64
	Quantity   float64
	PeakPrice  float64 // best price seen since entry: max for long, min for short
	OpenedAt   time.Time
	Committed  float64 // cash committed at entry, net of the entry fee
}

// UnrealizedPnL values the position at price, before exit fees.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Side == Long {
		return p.Quantity*price - p.Committed
	}
	return p.Committed - p.Quantity*price
}

// updatePeak advances the trailing-stop reference price.
func (p *Position) updatePeak(price float64) {
	if p.Side == Long {
		if price > p.PeakPrice {
			p.PeakPrice = price
		}
	} else {
		if price < p.PeakPrice {
			p.PeakPrice = price
		}
	}
}
