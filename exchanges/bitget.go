package exchanges

import (
	"encoding/json"
	"strings"
	"time"

	"spread-arbitrage-scanner/market"
)

const bitgetEndpoint = "wss://ws.bitget.com/v2/ws/public"

type bitgetArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type bitgetSubscribe struct {
	Op   string      `json:"op"`
	Args []bitgetArg `json:"args"`
}

// NewBitgetAdapter subscribes to USDT-margined futures tickers. Bitget
// closes sessions that send nothing for two minutes; "ping" every 25s
// is answered with "pong".
func NewBitgetAdapter(symbols []market.Symbol) Adapter {
	args := make([]bitgetArg, 0, len(symbols))
	for _, sym := range symbols {
		args = append(args, bitgetArg{
			InstType: "USDT-FUTURES",
			Channel:  "ticker",
			InstID:   NativeSymbol(market.Bitget, sym),
		})
	}
	return venue{
		exchange:     market.Bitget,
		endpoint:     bitgetEndpoint,
		subscription: bitgetSubscribe{Op: "subscribe", Args: args},
		keepAlive: KeepAlive{
			Kind:       TextPing,
			Interval:   25 * time.Second,
			Message:    []byte("ping"),
			ServerPing: []byte("ping"),
			Reply:      []byte("pong"),
			Pong:       []byte("pong"),
		},
	}
}

type bitgetTicker struct {
	InstID string `json:"instId"`
	BidPr  string `json:"bidPr"`
	AskPr  string `json:"askPr"`
	Ts     string `json:"ts"`
}

type bitgetMessage struct {
	Event  string          `json:"event"`
	Code   json.RawMessage `json:"code"`
	Msg    string          `json:"msg"`
	Action string          `json:"action"`
	Arg    *bitgetArg      `json:"arg"`
	Data   []bitgetTicker  `json:"data"`
	Ts     int64           `json:"ts"`
}

func normalizeBitget(payload []byte, received time.Time) (market.Quote, bool, error) {
	var msg bitgetMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return market.Quote{}, false, malformed(market.Bitget, err)
	}
	if msg.Event != "" {
		if msg.Event == "error" {
			code := strings.Trim(string(msg.Code), `"`)
			return market.Quote{}, false, &VenueError{Exchange: market.Bitget, Code: code, Message: msg.Msg}
		}
		return market.Quote{}, false, nil
	}
	if msg.Arg != nil && msg.Arg.Channel != "ticker" {
		return market.Quote{}, false, nil
	}
	if len(msg.Data) == 0 {
		if msg.Arg != nil {
			return market.Quote{}, false, nil
		}
		return market.Quote{}, false, missing(market.Bitget, "data")
	}

	t := msg.Data[0]
	native := t.InstID
	if native == "" && msg.Arg != nil {
		native = msg.Arg.InstID
	}
	if native == "" {
		return market.Quote{}, false, missing(market.Bitget, "instId")
	}
	sym, err := symbolFor(market.Bitget, native)
	if err != nil {
		return market.Quote{}, false, err
	}
	bid, err := parsePrice(market.Bitget, "bidPr", t.BidPr)
	if err != nil {
		return market.Quote{}, false, err
	}
	ask, err := parsePrice(market.Bitget, "askPr", t.AskPr)
	if err != nil {
		return market.Quote{}, false, err
	}
	ts := millisString(t.Ts, time.Time{})
	if ts.IsZero() {
		ts = millis(msg.Ts, received)
	}
	return bookQuote(market.Bitget, sym, bid, ask, ts)
}
