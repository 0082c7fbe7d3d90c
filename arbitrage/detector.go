package arbitrage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spread-arbitrage-scanner/market"
)

const DefaultInterval = time.Second

// QuoteSource is the read side of market.Store used by detectors.
type QuoteSource interface {
	Snapshot(sym market.Symbol) map[market.Exchange]market.Quote
}

// Detector compares one symbol across the exchange pair (X, Y).
//
// Both directions are evaluated on every cycle:
//
//	spreadXY = bid(Y) - ask(X)   buy on X, sell on Y
//	spreadYX = bid(X) - ask(Y)   buy on Y, sell on X
//
// and each one strictly above Threshold yields an Opportunity.
type Detector struct {
	Symbol    market.Symbol
	X, Y      market.Exchange
	Threshold decimal.Decimal
	Interval  time.Duration
	// MaxQuoteAge skips quotes older than this when positive.
	MaxQuoteAge time.Duration
}

// Pairs returns one detector per symbol and unordered exchange pair, in
// input order.
func Pairs(symbols []market.Symbol, exchanges []market.Exchange) []Detector {
	var detectors []Detector
	for _, sym := range symbols {
		for i := 0; i < len(exchanges); i++ {
			for j := i + 1; j < len(exchanges); j++ {
				detectors = append(detectors, Detector{
					Symbol:   sym,
					X:        exchanges[i],
					Y:        exchanges[j],
					Interval: DefaultInterval,
				})
			}
		}
	}
	return detectors
}

// Evaluate runs one detection cycle. Missing or stale quotes are not an
// error; the cycle just yields nothing.
func (d Detector) Evaluate(store QuoteSource, now time.Time) []Opportunity {
	quotes := store.Snapshot(d.Symbol)
	x, okX := quotes[d.X]
	y, okY := quotes[d.Y]
	if !okX || !okY {
		return nil
	}
	if d.MaxQuoteAge > 0 && (now.Sub(x.Timestamp) > d.MaxQuoteAge || now.Sub(y.Timestamp) > d.MaxQuoteAge) {
		return nil
	}

	var found []Opportunity
	if y.BestBid.Sub(x.BestAsk).GreaterThan(d.Threshold) {
		found = append(found, newOpportunity(x, y, now))
	}
	if x.BestBid.Sub(y.BestAsk).GreaterThan(d.Threshold) {
		found = append(found, newOpportunity(y, x, now))
	}
	return found
}

// Run evaluates on every Interval tick until ctx is done.
func (d Detector) Run(ctx context.Context, store QuoteSource, sink Sink) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, opp := range d.Evaluate(store, now) {
				sink.Emit(opp)
			}
		}
	}
}

func (d Detector) String() string {
	return fmt.Sprintf("%s %s/%s", d.Symbol, d.X, d.Y)
}
