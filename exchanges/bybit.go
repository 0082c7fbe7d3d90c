package exchanges

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"spread-arbitrage-scanner/market"
)

const bybitEndpoint = "wss://stream.bybit.com/v5/public/linear"

type bybitOp struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// NewBybitAdapter subscribes to linear perpetual tickers. Bybit expects a
// JSON {"op":"ping"} at least every 20s.
func NewBybitAdapter(symbols []market.Symbol) Adapter {
	topics := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		topics = append(topics, "tickers."+NativeSymbol(market.Bybit, sym))
	}
	ping, _ := json.Marshal(bybitOp{Op: "ping"})
	return venue{
		exchange:     market.Bybit,
		endpoint:     bybitEndpoint,
		subscription: bybitOp{Op: "subscribe", Args: topics},
		keepAlive: KeepAlive{
			Kind:     JSONPing,
			Interval: 15 * time.Second,
			Message:  ping,
		},
	}
}

type bybitTicker struct {
	Symbol    string `json:"symbol"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
}

type bybitMessage struct {
	Op      string       `json:"op"`
	Success *bool        `json:"success"`
	RetMsg  string       `json:"ret_msg"`
	Topic   string       `json:"topic"`
	Type    string       `json:"type"`
	Ts      int64        `json:"ts"`
	Data    *bybitTicker `json:"data"`
}

// bybitBook keeps the last complete ticker per native symbol. Linear ticker
// deltas only carry the fields that changed.
type bybitBook struct {
	mu      sync.Mutex
	tickers map[string]bybitTicker
}

func newBybitBook() *bybitBook {
	return &bybitBook{tickers: make(map[string]bybitTicker)}
}

func (b *bybitBook) apply(native, kind string, t bybitTicker) bybitTicker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if kind == "delta" {
		if last, ok := b.tickers[native]; ok {
			if t.Bid1Price == "" {
				t.Bid1Price = last.Bid1Price
			}
			if t.Ask1Price == "" {
				t.Ask1Price = last.Ask1Price
			}
		}
	}
	if t.Bid1Price != "" && t.Ask1Price != "" {
		t.Symbol = native
		b.tickers[native] = t
	}
	return t
}

func normalizeBybit(payload []byte, received time.Time) (market.Quote, bool, error) {
	return bybitQuote(payload, received, nil)
}

// bybitQuote completes deltas from book when it is not nil.
func bybitQuote(payload []byte, received time.Time, book *bybitBook) (market.Quote, bool, error) {
	var msg bybitMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return market.Quote{}, false, malformed(market.Bybit, err)
	}
	if msg.Op != "" {
		if msg.Success != nil && !*msg.Success {
			return market.Quote{}, false, &VenueError{Exchange: market.Bybit, Code: msg.Op, Message: msg.RetMsg}
		}
		return market.Quote{}, false, nil
	}
	if msg.Topic != "" && !strings.HasPrefix(msg.Topic, "tickers.") {
		return market.Quote{}, false, nil
	}
	if msg.Data == nil {
		return market.Quote{}, false, missing(market.Bybit, "data")
	}

	native := msg.Data.Symbol
	if native == "" {
		native = strings.TrimPrefix(msg.Topic, "tickers.")
	}
	if native == "" {
		return market.Quote{}, false, missing(market.Bybit, "symbol")
	}
	ticker := *msg.Data
	if book != nil {
		ticker = book.apply(native, msg.Type, ticker)
	}
	if ticker.Bid1Price == "" || ticker.Ask1Price == "" {
		if msg.Type == "delta" {
			// nothing to complete the delta from
			return market.Quote{}, false, nil
		}
		if ticker.Bid1Price == "" {
			return market.Quote{}, false, missing(market.Bybit, "bid1Price")
		}
		return market.Quote{}, false, missing(market.Bybit, "ask1Price")
	}

	sym, err := symbolFor(market.Bybit, native)
	if err != nil {
		return market.Quote{}, false, err
	}
	bid, err := parsePrice(market.Bybit, "bid1Price", ticker.Bid1Price)
	if err != nil {
		return market.Quote{}, false, err
	}
	ask, err := parsePrice(market.Bybit, "ask1Price", ticker.Ask1Price)
	if err != nil {
		return market.Quote{}, false, err
	}
	return bookQuote(market.Bybit, sym, bid, ask, millis(msg.Ts, received))
}
