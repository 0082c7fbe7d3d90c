package exchanges

import (
	"encoding/json"
	"strings"
	"time"

	"spread-arbitrage-scanner/market"
)

const binanceEndpoint = "wss://fstream.binance.com/ws"

type binanceSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// NewBinanceAdapter subscribes to the 5-level partial book and aggregate
// trades of each symbol on USDT-M futures. Binance pings at the protocol
// level, so the client answers with protocol ping frames too.
func NewBinanceAdapter(symbols []market.Symbol) Adapter {
	params := make([]string, 0, 2*len(symbols))
	for _, sym := range symbols {
		native := NativeSymbol(market.Binance, sym)
		params = append(params, native+"@depth5@100ms", native+"@aggTrade")
	}
	return venue{
		exchange:     market.Binance,
		endpoint:     binanceEndpoint,
		subscription: binanceSubscribe{Method: "SUBSCRIBE", Params: params, ID: 1},
		keepAlive: KeepAlive{
			Kind:     PingFrame,
			Interval: 150 * time.Second,
		},
	}
}

// binanceHeader is decoded first: "a" means asks on depth events and an
// aggregate trade id on aggTrade events.
//
// Every Binance struct declares both "e" and "E". encoding/json falls back
// to a case-insensitive match when a key has no exact field, which would
// put the event time into the event type and the other way round.
type binanceHeader struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Stream    string          `json:"stream"`
	Data      json.RawMessage `json:"data"`
}

type binanceDepth struct {
	EventType string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
	BookBids  [][]string `json:"bids"`
	BookAsks  [][]string `json:"asks"`
}

type binanceAggTrade struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

func normalizeBinance(payload []byte, received time.Time) (market.Quote, bool, error) {
	var head binanceHeader
	if err := json.Unmarshal(payload, &head); err != nil {
		return market.Quote{}, false, malformed(market.Binance, err)
	}
	stream := ""
	if head.Stream != "" && len(head.Data) > 0 {
		stream = head.Stream
		payload = head.Data
		head = binanceHeader{}
		if err := json.Unmarshal(payload, &head); err != nil {
			return market.Quote{}, false, malformed(market.Binance, err)
		}
	}

	switch head.EventType {
	case "aggTrade":
		return binanceTrade(payload, stream, received)
	case "depthUpdate", "":
		return binanceBook(payload, head.EventType, stream, received)
	}
	return market.Quote{}, false, nil
}

func binanceBook(payload []byte, event, stream string, received time.Time) (market.Quote, bool, error) {
	var d binanceDepth
	if err := json.Unmarshal(payload, &d); err != nil {
		return market.Quote{}, false, malformed(market.Binance, err)
	}
	bids, asks := d.Bids, d.Asks
	if bids == nil && asks == nil {
		bids, asks = d.BookBids, d.BookAsks
	}
	if bids == nil && asks == nil {
		if event == "" {
			// subscription ack {"result":null,"id":1} and friends
			return market.Quote{}, false, nil
		}
		return market.Quote{}, false, missing(market.Binance, "b")
	}
	if len(bids) == 0 || len(asks) == 0 {
		// one side of the book is momentarily empty
		return market.Quote{}, false, nil
	}

	native := binanceStreamSymbol(d.Symbol, stream)
	if native == "" {
		return market.Quote{}, false, missing(market.Binance, "s")
	}
	sym, err := symbolFor(market.Binance, native)
	if err != nil {
		return market.Quote{}, false, err
	}
	bid, err := bestLevel(market.Binance, "bids", bids)
	if err != nil {
		return market.Quote{}, false, err
	}
	ask, err := bestLevel(market.Binance, "asks", asks)
	if err != nil {
		return market.Quote{}, false, err
	}
	return bookQuote(market.Binance, sym, bid, ask, millis(d.EventTime, received))
}

func binanceTrade(payload []byte, stream string, received time.Time) (market.Quote, bool, error) {
	var t binanceAggTrade
	if err := json.Unmarshal(payload, &t); err != nil {
		return market.Quote{}, false, malformed(market.Binance, err)
	}
	native := binanceStreamSymbol(t.Symbol, stream)
	if native == "" {
		return market.Quote{}, false, missing(market.Binance, "s")
	}
	sym, err := symbolFor(market.Binance, native)
	if err != nil {
		return market.Quote{}, false, err
	}
	price, err := parsePrice(market.Binance, "p", t.Price)
	if err != nil {
		return market.Quote{}, false, err
	}
	ts := t.TradeTime
	if ts == 0 {
		ts = t.EventTime
	}
	q, err := market.NewTradeQuote(market.Binance, sym, price, millis(ts, received))
	if err != nil {
		return market.Quote{}, false, &ParseError{Exchange: market.Binance, Err: err}
	}
	return q, true, nil
}

// binanceStreamSymbol falls back to the combined stream name
// ("btcusdt@depth5@100ms") when the event itself carries no symbol.
func binanceStreamSymbol(symbol, stream string) string {
	if symbol != "" {
		return symbol
	}
	name, _, _ := strings.Cut(stream, "@")
	return name
}
