package exchanges

import (
	"fmt"
	"time"

	"spread-arbitrage-scanner/market"
)

// KeepAliveKind selects how a venue expects the client to keep a session open.
type KeepAliveKind int

const (
	// PingFrame sends a WebSocket protocol ping control frame.
	PingFrame KeepAliveKind = iota
	// TextPing sends a plain text message such as "ping".
	TextPing
	// JSONPing sends a JSON text message such as {"op":"ping"}.
	JSONPing
)

func (k KeepAliveKind) String() string {
	switch k {
	case PingFrame:
		return "ping-frame"
	case TextPing:
		return "text"
	case JSONPing:
		return "json"
	}
	return fmt.Sprintf("KeepAliveKind(%d)", int(k))
}

// KeepAlive describes a venue's keepalive protocol.
type KeepAlive struct {
	Kind     KeepAliveKind
	Interval time.Duration
	// Message is the text payload for TextPing and JSONPing.
	Message []byte
	// ServerPing is an application level ping the venue may send; it is
	// answered with Reply.
	ServerPing []byte
	Reply      []byte
	// Pong is the venue's answer to Message. It is swallowed, not forwarded.
	Pong []byte
}

// Adapter is the per-exchange capability set driven by a Manager.
type Adapter interface {
	Exchange() market.Exchange
	Endpoint() string
	Subscription() any
	KeepAlive() KeepAlive
}

type venue struct {
	exchange     market.Exchange
	endpoint     string
	subscription any
	keepAlive    KeepAlive
}

func (v venue) Exchange() market.Exchange { return v.exchange }
func (v venue) Endpoint() string          { return v.endpoint }
func (v venue) Subscription() any         { return v.subscription }
func (v venue) KeepAlive() KeepAlive      { return v.keepAlive }

// NewAdapter builds the adapter for ex subscribed to symbols.
func NewAdapter(ex market.Exchange, symbols []market.Symbol) (Adapter, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%s: no symbols to subscribe", ex)
	}
	switch ex {
	case market.Binance:
		return NewBinanceAdapter(symbols), nil
	case market.OKX:
		return NewOKXAdapter(symbols), nil
	case market.Bybit:
		return NewBybitAdapter(symbols), nil
	case market.Bitget:
		return NewBitgetAdapter(symbols), nil
	}
	return nil, fmt.Errorf("%w: %q", market.ErrUnknownExchange, ex)
}

type endpointOverride struct {
	Adapter
	url string
}

func (e endpointOverride) Endpoint() string { return e.url }

// WithEndpoint returns a copy of a that dials url instead of the venue default.
func WithEndpoint(a Adapter, url string) Adapter {
	return endpointOverride{Adapter: a, url: url}
}
