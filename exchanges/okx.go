package exchanges

import (
	"encoding/json"
	"time"

	"spread-arbitrage-scanner/market"
)

const okxEndpoint = "wss://ws.okx.com:8443/ws/v5/public"

type okxArg struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType,omitempty"`
	InstID   string `json:"instId"`
}

type okxSubscribe struct {
	Op   string   `json:"op"`
	Args []okxArg `json:"args"`
}

// NewOKXAdapter subscribes to the perpetual swap tickers channel. OKX drops
// idle sessions after 30s, so the client sends "ping" every 25s and also
// answers a server "ping" with "pong".
func NewOKXAdapter(symbols []market.Symbol) Adapter {
	args := make([]okxArg, 0, len(symbols))
	for _, sym := range symbols {
		args = append(args, okxArg{
			Channel:  "tickers",
			InstType: "SWAP",
			InstID:   NativeSymbol(market.OKX, sym),
		})
	}
	return venue{
		exchange:     market.OKX,
		endpoint:     okxEndpoint,
		subscription: okxSubscribe{Op: "subscribe", Args: args},
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

type okxTicker struct {
	InstID  string `json:"instId"`
	BidPx   string `json:"bidPx"`
	AskPx   string `json:"askPx"`
	BestBid string `json:"bestBid"`
	BestAsk string `json:"bestAsk"`
	Ts      string `json:"ts"`
}

type okxMessage struct {
	Event string      `json:"event"`
	Code  string      `json:"code"`
	Msg   string      `json:"msg"`
	Arg   *okxArg     `json:"arg"`
	Data  []okxTicker `json:"data"`
}

func normalizeOKX(payload []byte, received time.Time) (market.Quote, bool, error) {
	var msg okxMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return market.Quote{}, false, malformed(market.OKX, err)
	}
	if msg.Event != "" {
		if msg.Event == "error" {
			return market.Quote{}, false, &VenueError{Exchange: market.OKX, Code: msg.Code, Message: msg.Msg}
		}
		return market.Quote{}, false, nil
	}
	if msg.Arg != nil && msg.Arg.Channel != "tickers" {
		return market.Quote{}, false, nil
	}
	if len(msg.Data) == 0 {
		if msg.Arg != nil {
			return market.Quote{}, false, nil
		}
		return market.Quote{}, false, missing(market.OKX, "data")
	}

	t := msg.Data[0]
	if t.InstID == "" {
		return market.Quote{}, false, missing(market.OKX, "instId")
	}
	sym, err := symbolFor(market.OKX, t.InstID)
	if err != nil {
		return market.Quote{}, false, err
	}
	bid, err := parsePrice(market.OKX, "bidPx", firstNonEmpty(t.BidPx, t.BestBid))
	if err != nil {
		return market.Quote{}, false, err
	}
	ask, err := parsePrice(market.OKX, "askPx", firstNonEmpty(t.AskPx, t.BestAsk))
	if err != nil {
		return market.Quote{}, false, err
	}
	return bookQuote(market.OKX, sym, bid, ask, millisString(t.Ts, received))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
