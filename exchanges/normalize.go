package exchanges

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spread-arbitrage-scanner/market"
)

var (
	ErrMalformed    = errors.New("malformed message")
	ErrMissingField = errors.New("missing required field")
)

// ParseError reports a payload that could not be turned into a quote.
type ParseError struct {
	Exchange market.Exchange
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse: %v", e.Exchange, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// VenueError is an error envelope sent by the venue itself, e.g. a rejected
// subscription.
type VenueError struct {
	Exchange market.Exchange
	Code     string
	Message  string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s: venue error %s: %s", e.Exchange, e.Code, e.Message)
}

type normalizeFunc func(payload []byte, received time.Time) (market.Quote, bool, error)

var normalizers = map[market.Exchange]normalizeFunc{
	market.Binance: normalizeBinance,
	market.OKX:     normalizeOKX,
	market.Bybit:   normalizeBybit,
	market.Bitget:  normalizeBitget,
}

// Normalize converts one raw venue payload into a canonical quote.
//
// The boolean is false for payloads that are well formed but carry no quote
// (acks, heartbeats, other channels). Normalize is pure: the same message
// always yields the same result, falling back to msg.Received when the venue
// omits an event time. Partial Bybit deltas are not quotes here; use a
// Normalizer to complete them.
func Normalize(msg RawMessage) (market.Quote, bool, error) {
	return normalize(msg, nil)
}

// Normalizer is Normalize with per-venue memory: Bybit ticker deltas are
// completed from the last full ticker of their symbol. It is safe for
// concurrent use.
type Normalizer struct {
	bybit *bybitBook
}

func NewNormalizer() *Normalizer {
	return &Normalizer{bybit: newBybitBook()}
}

func (n *Normalizer) Normalize(msg RawMessage) (market.Quote, bool, error) {
	return normalize(msg, n)
}

func normalize(msg RawMessage, n *Normalizer) (market.Quote, bool, error) {
	fn, ok := normalizers[msg.Exchange]
	if !ok {
		return market.Quote{}, false, fmt.Errorf("%w: %q", market.ErrUnknownExchange, msg.Exchange)
	}
	payload := bytes.TrimSpace(msg.Payload)
	if isHeartbeat(payload) {
		return market.Quote{}, false, nil
	}
	if n != nil && msg.Exchange == market.Bybit {
		return bybitQuote(payload, msg.Received, n.bybit)
	}
	return fn(payload, msg.Received)
}

func isHeartbeat(payload []byte) bool {
	return bytes.Equal(payload, []byte("pong")) || bytes.Equal(payload, []byte("ping"))
}

func malformed(ex market.Exchange, err error) error {
	return &ParseError{Exchange: ex, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
}

func missing(ex market.Exchange, field string) error {
	return &ParseError{Exchange: ex, Err: fmt.Errorf("%w %q", ErrMissingField, field)}
}

func parsePrice(ex market.Exchange, field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, missing(ex, field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, malformed(ex, fmt.Errorf("%s=%q: %w", field, raw, err))
	}
	return d, nil
}

// bestLevel returns the price of the first level of a [[price, size], ...] book side.
func bestLevel(ex market.Exchange, field string, levels [][]string) (decimal.Decimal, error) {
	if len(levels) == 0 || len(levels[0]) == 0 {
		return decimal.Zero, missing(ex, field)
	}
	return parsePrice(ex, field, levels[0][0])
}

func millis(ms int64, fallback time.Time) time.Time {
	if ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms)
}

func millisString(ms string, fallback time.Time) time.Time {
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return fallback
	}
	return millis(n, fallback)
}

func symbolFor(ex market.Exchange, native string) (market.Symbol, error) {
	sym, err := CanonicalSymbol(ex, native)
	if err != nil {
		return "", &ParseError{Exchange: ex, Err: err}
	}
	return sym, nil
}

func bookQuote(ex market.Exchange, sym market.Symbol, bid, ask decimal.Decimal, ts time.Time) (market.Quote, bool, error) {
	q, err := market.NewQuote(ex, sym, bid, ask, ts)
	if err != nil {
		return market.Quote{}, false, &ParseError{Exchange: ex, Err: err}
	}
	return q, true, nil
}
