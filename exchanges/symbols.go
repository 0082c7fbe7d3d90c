package exchanges

import (
	"fmt"
	"strings"

	"spread-arbitrage-scanner/market"
)

// bitgetSuffixes are legacy Bitget instrument suffixes (v1 product ids).
var bitgetSuffixes = []string{"_UMCBL", "_DMCBL", "_CMCBL", "_SPBL"}

// CanonicalSymbol maps a venue native symbol to canonical BASE/QUOTE form.
//
//	binance  BTCUSDT        -> BTC/USDT  (split before the known quote currency)
//	okx      BTC-USDT-SWAP  -> BTC/USDT  (strip -SWAP, split on "-")
//	bybit    BTCUSDT        -> BTC/USDT  (as binance)
//	bitget   BTCUSDT_UMCBL  -> BTC/USDT  (strip product suffix, then as binance)
func CanonicalSymbol(ex market.Exchange, native string) (market.Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(native))
	switch ex {
	case market.Binance, market.Bybit:
		return market.SplitConcatenated(s)
	case market.OKX:
		s = strings.TrimSuffix(s, "-SWAP")
		parts := strings.Split(s, "-")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return "", market.BadSymbol(native)
		}
		return market.NewSymbol(parts[0], parts[1]), nil
	case market.Bitget:
		for _, suffix := range bitgetSuffixes {
			s = strings.TrimSuffix(s, suffix)
		}
		return market.SplitConcatenated(s)
	}
	return "", fmt.Errorf("%w: %q", market.ErrUnknownExchange, ex)
}

// NativeSymbol is the inverse of CanonicalSymbol for subscriptions.
func NativeSymbol(ex market.Exchange, sym market.Symbol) string {
	switch ex {
	case market.Binance:
		return strings.ToLower(sym.Concat())
	case market.OKX:
		return sym.Base() + "-" + sym.Quote() + "-SWAP"
	}
	return sym.Concat()
}
