package scanner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"spread-arbitrage-scanner/market"
)

// Metrics counts what flows through the pipeline.
type Metrics struct {
	received      atomic.Int64
	quotes        atomic.Int64
	notQuote      atomic.Int64
	parseFailures atomic.Int64
	venueErrors   atomic.Int64
	opportunities atomic.Int64

	// fixed at construction, read-only afterwards
	perExchange map[market.Exchange]*atomic.Int64
}

type MetricsSnapshot struct {
	Received      int64
	Quotes        int64
	NotQuote      int64
	ParseFailures int64
	VenueErrors   int64
	Opportunities int64
	PerExchange   map[market.Exchange]int64
}

func newMetrics(exchanges []market.Exchange) *Metrics {
	m := &Metrics{perExchange: make(map[market.Exchange]*atomic.Int64, len(exchanges))}
	for _, ex := range exchanges {
		m.perExchange[ex] = new(atomic.Int64)
	}
	return m
}

func (m *Metrics) quote(ex market.Exchange) {
	m.quotes.Add(1)
	if c, ok := m.perExchange[ex]; ok {
		c.Add(1)
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Received:      m.received.Load(),
		Quotes:        m.quotes.Load(),
		NotQuote:      m.notQuote.Load(),
		ParseFailures: m.parseFailures.Load(),
		VenueErrors:   m.venueErrors.Load(),
		Opportunities: m.opportunities.Load(),
		PerExchange:   make(map[market.Exchange]int64, len(m.perExchange)),
	}
	for ex, c := range m.perExchange {
		snap.PerExchange[ex] = c.Load()
	}
	return snap
}

// report logs a stats line every period until ctx is done.
func (m *Metrics) report(ctx context.Context, period time.Duration, store *market.Store, log *logrus.Entry) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := m.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := m.Snapshot()
			fields := logrus.Fields{
				"received":       cur.Received,
				"quotes":         cur.Quotes,
				"not_quote":      cur.NotQuote,
				"parse_failures": cur.ParseFailures,
				"venue_errors":   cur.VenueErrors,
				"opportunities":  cur.Opportunities,
				"rate_per_sec":   float64(cur.Received-last.Received) / period.Seconds(),
				"store_entries":  store.Len(),
			}
			for ex, n := range cur.PerExchange {
				fields["quotes_"+string(ex)] = n
			}
			log.WithFields(fields).Info("pipeline stats")
			last = cur
		}
	}
}
