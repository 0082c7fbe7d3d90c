package exchanges

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spread-arbitrage-scanner/market"
)

var received = time.UnixMilli(1700000000999)

func raw(ex market.Exchange, payload string) RawMessage {
	return RawMessage{Exchange: ex, Payload: []byte(payload), Received: received}
}

func assertQuote(t *testing.T, q market.Quote, ex market.Exchange, sym market.Symbol, bid, ask string) {
	t.Helper()
	if q.Exchange != ex {
		t.Errorf("Expected exchange %s, got %s", ex, q.Exchange)
	}
	if q.Symbol != sym {
		t.Errorf("Expected symbol %s, got %s", sym, q.Symbol)
	}
	if !q.BestBid.Equal(decimal.RequireFromString(bid)) {
		t.Errorf("Expected bid %s, got %s", bid, q.BestBid)
	}
	if !q.BestAsk.Equal(decimal.RequireFromString(ask)) {
		t.Errorf("Expected ask %s, got %s", ask, q.BestAsk)
	}
}

func TestNormalizeBinanceDepth(t *testing.T) {
	msg := raw(market.Binance, `{"bids":[["60000.10","1.5"],["59999.00","2"]],"asks":[["60001.20","0.5"],["60002.00","1"]],"s":"BTCUSDT","E":1700000000123}`)

	q, ok, err := Normalize(msg)
	if err != nil || !ok {
		t.Fatalf("Expected quote, got ok=%v err=%v", ok, err)
	}
	assertQuote(t, q, market.Binance, "BTC/USDT", "60000.10", "60001.20")
	if !q.Timestamp.Equal(time.UnixMilli(1700000000123)) {
		t.Errorf("Expected event time, got %s", q.Timestamp)
	}
	if q.Source != market.SourceBook {
		t.Errorf("Expected book source, got %s", q.Source)
	}
}

func TestNormalizeBinanceDepthUpdateEvent(t *testing.T) {
	msg := raw(market.Binance, `{"e":"depthUpdate","E":1700000000123,"s":"ETHUSDT","b":[["3000.5","1"]],"a":[["3000.7","2"]]}`)

	q, ok, err := Normalize(msg)
	if err != nil || !ok {
		t.Fatalf("Expected quote, got ok=%v err=%v", ok, err)
	}
	assertQuote(t, q, market.Binance, "ETH/USDT", "3000.5", "3000.7")
}

func TestNormalizeBinanceCombinedStream(t *testing.T) {
	msg := raw(market.Binance, `{"stream":"btcusdt@depth5@100ms","data":{"lastUpdateId":1,"bids":[["10","1"]],"asks":[["11","1"]]}}`)

	q, ok, err := Normalize(msg)
	if err != nil || !ok {
		t.Fatalf("Expected quote, got ok=%v err=%v", ok, err)
	}
	assertQuote(t, q, market.Binance, "BTC/USDT", "10", "11")
	if !q.Timestamp.Equal(received) {
		t.Errorf("Expected receipt time fallback, got %s", q.Timestamp)
	}
}

func TestNormalizeBinanceAggTrade(t *testing.T) {
	msg := raw(market.Binance, `{"e":"aggTrade","E":1700000000100,"s":"BTCUSDT","a":26129,"p":"60000.5","q":"0.1","T":1700000000099,"m":true}`)

	q, ok, err := Normalize(msg)
	if err != nil || !ok {
		t.Fatalf("Expected quote, got ok=%v err=%v", ok, err)
	}
	assertQuote(t, q, market.Binance, "BTC/USDT", "60000.5", "60000.5")
	if q.Source != market.SourceTrade {
		t.Errorf("Expected trade source, got %s", q.Source)
	}
	if !q.Timestamp.Equal(time.UnixMilli(1700000000099)) {
		t.Errorf("Expected trade time, got %s", q.Timestamp)
	}
}

func TestNormalizeOKXTicker(t *testing.T) {
	msg := raw(market.OKX, `{"data":[{"instId":"BTC-USDT-SWAP","bidPx":"60049.5","askPx":"60050.5","ts":"1700000000456"}]}`)

	q, ok, err := Normalize(msg)
	if err != nil || !ok {
		t.Fatalf("Expected quote, got ok=%v err=%v", ok, err)
	}
	assertQuote(t, q, market.OKX, "BTC/USDT", "60049.5", "60050.5")
	if !q.Timestamp.Equal(time.UnixMilli(1700000000456)) {
		t.Errorf("Expected venue time, got %s", q.Timestamp)
	}
}

func TestNormalizeOKXBestFields(t *testing.T) {
	msg := raw(market.OKX, `{"arg":{"channel":"tickers","instId":"ETH-USDT-SWAP"},"data":[{"instId":"ETH-USDT-SWAP","bestBid":"3000.1","bestAsk":"3000.2","ts":"1"}]}`)

	q, ok, err := Normalize(msg)
	if err != nil || !ok {
		t.Fatalf("Expected quote, got ok=%v err=%v", ok, err)
	}
	assertQuote(t, q, market.OKX, "ETH/USDT", "3000.1", "3000.2")
}

func TestNormalizeBybitTicker(t *testing.T) {
	msg := raw(market.Bybit, `{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1700000000789,"data":{"symbol":"BTCUSDT","bid1Price":"60010.1","ask1Price":"60010.2"}}`)

	q, ok, err := Normalize(msg)
	if err != nil || !ok {
		t.Fatalf("Expected quote, got ok=%v err=%v", ok, err)
	}
	assertQuote(t, q, market.Bybit, "BTC/USDT", "60010.1", "60010.2")
	if !q.Timestamp.Equal(time.UnixMilli(1700000000789)) {
		t.Errorf("Expected venue time, got %s", q.Timestamp)
	}
}

func TestNormalizeBybitPartialDelta(t *testing.T) {
	msg := raw(market.Bybit, `{"topic":"tickers.BTCUSDT","type":"delta","ts":1,"data":{"symbol":"BTCUSDT","lastPrice":"60000"}}`)

	_, ok, err := Normalize(msg)
	if ok || err != nil {
		t.Errorf("Expected delta without book fields to be skipped, got ok=%v err=%v", ok, err)
	}
}

func TestNormalizerCompletesBybitDeltas(t *testing.T) {
	n := NewNormalizer()
	steps := []struct {
		payload  string
		bid, ask string
	}{
		{`{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1,"data":{"symbol":"BTCUSDT","bid1Price":"60010.1","ask1Price":"60010.2"}}`, "60010.1", "60010.2"},
		{`{"topic":"tickers.BTCUSDT","type":"delta","ts":2,"data":{"symbol":"BTCUSDT","bid1Price":"59900","ask1Price":"59900.1"}}`, "59900", "59900.1"},
		{`{"topic":"tickers.BTCUSDT","type":"delta","ts":3,"data":{"symbol":"BTCUSDT","bid1Price":"59800"}}`, "59800", "59900.1"},
		{`{"topic":"tickers.BTCUSDT","type":"delta","ts":4,"data":{"symbol":"BTCUSDT","ask1Price":"59850"}}`, "59800", "59850"},
	}

	for i, step := range steps {
		q, ok, err := n.Normalize(raw(market.Bybit, step.payload))
		if err != nil || !ok {
			t.Fatalf("step %d: Expected quote, got ok=%v err=%v", i, ok, err)
		}
		assertQuote(t, q, market.Bybit, "BTC/USDT", step.bid, step.ask)
	}
}

func TestNormalizerBybitDeltaWithoutSnapshot(t *testing.T) {
	n := NewNormalizer()
	n.Normalize(raw(market.Bybit, `{"topic":"tickers.BTCUSDT","type":"snapshot","data":{"symbol":"BTCUSDT","bid1Price":"1","ask1Price":"2"}}`))

	_, ok, err := n.Normalize(raw(market.Bybit, `{"topic":"tickers.ETHUSDT","type":"delta","data":{"symbol":"ETHUSDT","bid1Price":"3000"}}`))
	if ok || err != nil {
		t.Errorf("Expected delta for an unseen symbol to be skipped, got ok=%v err=%v", ok, err)
	}
}

func TestNormalizerMatchesNormalize(t *testing.T) {
	n := NewNormalizer()
	msg := raw(market.OKX, `{"data":[{"instId":"BTC-USDT-SWAP","bidPx":"60049.5","askPx":"60050.5"}]}`)

	want, _, _ := Normalize(msg)
	got, ok, err := n.Normalize(msg)
	if err != nil || !ok {
		t.Fatalf("Expected quote, got ok=%v err=%v", ok, err)
	}
	if !got.Equal(want) {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestNormalizeBinanceFullFrames(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		bid, ask string
		ts       int64
	}{
		{
			"depth update",
			`{"e":"depthUpdate","E":1700000000123,"T":1700000000120,"s":"BTCUSDT","U":157,"u":160,"pu":149,"b":[["60000.10","1.5"]],"a":[["60001.20","0.5"]]}`,
			"60000.10", "60001.20", 1700000000123,
		},
		{
			"combined aggTrade",
			`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":1700000000200,"a":5933014,"s":"BTCUSDT","p":"60000.5","q":"0.1","f":100,"l":105,"T":1700000000199,"m":true}}`,
			"60000.5", "60000.5", 1700000000199,
		},
		{
			"combined depth",
			`{"stream":"btcusdt@depth5@100ms","data":{"e":"depthUpdate","E":1700000000300,"T":1700000000299,"s":"BTCUSDT","U":1,"u":2,"pu":0,"b":[["10","1"]],"a":[["11","1"]]}}`,
			"10", "11", 1700000000300,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, ok, err := Normalize(raw(market.Binance, tt.payload))
			if err != nil || !ok {
				t.Fatalf("Expected quote, got ok=%v err=%v", ok, err)
			}
			assertQuote(t, q, market.Binance, "BTC/USDT", tt.bid, tt.ask)
			if !q.Timestamp.Equal(time.UnixMilli(tt.ts)) {
				t.Errorf("Expected timestamp %d, got %d", tt.ts, q.Timestamp.UnixMilli())
			}
		})
	}
}

func TestNormalizeBitgetTicker(t *testing.T) {
	msg := raw(market.Bitget, `{"action":"snapshot","arg":{"instType":"USDT-FUTURES","channel":"ticker","instId":"BTCUSDT"},"data":[{"instId":"BTCUSDT","bidPr":"60020","askPr":"60020.1","ts":"1700000000111"}],"ts":1700000000112}`)

	q, ok, err := Normalize(msg)
	if err != nil || !ok {
		t.Fatalf("Expected quote, got ok=%v err=%v", ok, err)
	}
	assertQuote(t, q, market.Bitget, "BTC/USDT", "60020", "60020.1")
	if !q.Timestamp.Equal(time.UnixMilli(1700000000111)) {
		t.Errorf("Expected ticker time, got %s", q.Timestamp)
	}
}

func TestNormalizeNotAQuote(t *testing.T) {
	tests := []struct {
		name string
		msg  RawMessage
	}{
		{"binance ack", raw(market.Binance, `{"result":null,"id":1}`)},
		{"binance other event", raw(market.Binance, `{"e":"markPriceUpdate","s":"BTCUSDT","p":"1"}`)},
		{"okx subscribe event", raw(market.OKX, `{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"}}`)},
		{"okx other channel", raw(market.OKX, `{"arg":{"channel":"trades"},"data":[{"instId":"BTC-USDT-SWAP","px":"1"}]}`)},
		{"bybit subscribe ack", raw(market.Bybit, `{"success":true,"ret_msg":"","op":"subscribe","conn_id":"x"}`)},
		{"bybit pong", raw(market.Bybit, `{"success":true,"ret_msg":"pong","op":"ping"}`)},
		{"bitget subscribe event", raw(market.Bitget, `{"event":"subscribe","arg":{"instType":"USDT-FUTURES","channel":"ticker","instId":"BTCUSDT"}}`)},
		{"text pong", raw(market.OKX, "pong")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := Normalize(tt.msg)
			if ok {
				t.Error("Expected not a quote")
			}
			if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestNormalizeVenueErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  RawMessage
		code string
	}{
		{"okx", raw(market.OKX, `{"event":"error","code":"60012","msg":"Invalid request"}`), "60012"},
		{"bitget", raw(market.Bitget, `{"event":"error","code":30001,"msg":"instType:USDT-FUTURES,channel:ticker,instId:NOPE doesn't exist"}`), "30001"},
		{"bybit", raw(market.Bybit, `{"success":false,"ret_msg":"error:handler not found","op":"subscribe"}`), "subscribe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := Normalize(tt.msg)
			if ok {
				t.Error("Expected not a quote")
			}
			var venueErr *VenueError
			if !errors.As(err, &venueErr) {
				t.Fatalf("Expected VenueError, got %v", err)
			}
			if venueErr.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, venueErr.Code)
			}
		})
	}
}

func TestNormalizeParseFailures(t *testing.T) {
	tests := []struct {
		name string
		msg  RawMessage
		want error
	}{
		{"binance garbage", raw(market.Binance, `{"bids":`), ErrMalformed},
		{"binance bad price", raw(market.Binance, `{"bids":[["x","1"]],"asks":[["1","1"]],"s":"BTCUSDT"}`), ErrMalformed},
		{"binance no symbol", raw(market.Binance, `{"bids":[["1","1"]],"asks":[["2","1"]]}`), ErrMissingField},
		{"binance trade no price", raw(market.Binance, `{"e":"aggTrade","s":"BTCUSDT","T":1}`), ErrMissingField},
		{"okx no data", raw(market.OKX, `{}`), ErrMissingField},
		{"okx no ask", raw(market.OKX, `{"data":[{"instId":"BTC-USDT-SWAP","bidPx":"1"}]}`), ErrMissingField},
		{"bybit snapshot no bid", raw(market.Bybit, `{"topic":"tickers.BTCUSDT","type":"snapshot","data":{"symbol":"BTCUSDT","ask1Price":"2"}}`), ErrMissingField},
		{"bitget no instId", raw(market.Bitget, `{"data":[{"bidPr":"1","askPr":"2"}]}`), ErrMissingField},
		{"bitget not json", raw(market.Bitget, `hello`), ErrMalformed},
		{"crossed book", raw(market.OKX, `{"data":[{"instId":"BTC-USDT-SWAP","bidPx":"3","askPx":"2"}]}`), market.ErrCrossedQuote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := Normalize(tt.msg)
			if ok {
				t.Error("Expected not a quote")
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("Expected ParseError, got %v", err)
			}
			if parseErr.Exchange != tt.msg.Exchange {
				t.Errorf("Expected exchange %s, got %s", tt.msg.Exchange, parseErr.Exchange)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNormalizeUnknownExchange(t *testing.T) {
	_, _, err := Normalize(raw("kraken", `{}`))
	if !errors.Is(err, market.ErrUnknownExchange) {
		t.Errorf("Expected ErrUnknownExchange, got %v", err)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	msgs := []RawMessage{
		raw(market.Binance, `{"bids":[["60000.10","1.5"]],"asks":[["60001.20","0.5"]],"s":"BTCUSDT","E":1700000000123}`),
		raw(market.Binance, `{"stream":"btcusdt@depth5@100ms","data":{"bids":[["10","1"]],"asks":[["11","1"]]}}`),
		raw(market.OKX, `{"data":[{"instId":"BTC-USDT-SWAP","bidPx":"60049.5","askPx":"60050.5"}]}`),
		raw(market.Bybit, `{"topic":"tickers.BTCUSDT","type":"snapshot","data":{"symbol":"BTCUSDT","bid1Price":"1","ask1Price":"2"}}`),
		raw(market.Bitget, `{"data":[{"instId":"BTCUSDT","bidPr":"1","askPr":"2"}]}`),
	}

	for _, msg := range msgs {
		first, ok1, err1 := Normalize(msg)
		second, ok2, err2 := Normalize(msg)
		if err1 != nil || err2 != nil || !ok1 || !ok2 {
			t.Fatalf("%s: Expected two quotes, got %v %v", msg.Exchange, err1, err2)
		}
		if !first.Equal(second) {
			t.Errorf("%s: Expected equal quotes, got %s and %s", msg.Exchange, first, second)
		}
	}
}
