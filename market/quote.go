package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativePrice = errors.New("negative price")
	ErrCrossedQuote  = errors.New("best bid above best ask")
)

// Source tells whether a quote came from a two-sided book or a single trade.
type Source string

const (
	SourceBook  Source = "book"
	SourceTrade Source = "trade"
)

// Quote is the latest top of book for one symbol on one exchange.
// Values are immutable once built by NewQuote or NewTradeQuote.
type Quote struct {
	Exchange  Exchange        `json:"exchange"`
	Symbol    Symbol          `json:"symbol"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Timestamp time.Time       `json:"timestamp"`
	Source    Source          `json:"source"`
}

// NewQuote builds a two-sided quote. The bid must not exceed the ask.
func NewQuote(ex Exchange, sym Symbol, bid, ask decimal.Decimal, ts time.Time) (Quote, error) {
	if bid.IsNegative() || ask.IsNegative() {
		return Quote{}, fmt.Errorf("%s %s: %w", ex, sym, ErrNegativePrice)
	}
	if bid.GreaterThan(ask) {
		return Quote{}, fmt.Errorf("%s %s bid=%s ask=%s: %w", ex, sym, bid, ask, ErrCrossedQuote)
	}
	return Quote{
		Exchange:  ex,
		Symbol:    sym,
		BestBid:   bid,
		BestAsk:   ask,
		Timestamp: ts,
		Source:    SourceBook,
	}, nil
}

// NewTradeQuote approximates a quote from a trade print: bid and ask both
// carry the trade price.
func NewTradeQuote(ex Exchange, sym Symbol, price decimal.Decimal, ts time.Time) (Quote, error) {
	if price.IsNegative() {
		return Quote{}, fmt.Errorf("%s %s: %w", ex, sym, ErrNegativePrice)
	}
	return Quote{
		Exchange:  ex,
		Symbol:    sym,
		BestBid:   price,
		BestAsk:   price,
		Timestamp: ts,
		Source:    SourceTrade,
	}, nil
}

func (q Quote) Mid() decimal.Decimal {
	return q.BestBid.Add(q.BestAsk).Div(decimal.NewFromInt(2))
}

func (q Quote) Spread() decimal.Decimal {
	return q.BestAsk.Sub(q.BestBid)
}

// Equal compares all fields, using decimal equality for prices.
func (q Quote) Equal(o Quote) bool {
	return q.Exchange == o.Exchange &&
		q.Symbol == o.Symbol &&
		q.BestBid.Equal(o.BestBid) &&
		q.BestAsk.Equal(o.BestAsk) &&
		q.Timestamp.Equal(o.Timestamp) &&
		q.Source == o.Source
}

func (q Quote) String() string {
	return fmt.Sprintf("%s %s bid=%s ask=%s ts=%s", q.Exchange, q.Symbol, q.BestBid, q.BestAsk, q.Timestamp.Format(time.RFC3339Nano))
}
