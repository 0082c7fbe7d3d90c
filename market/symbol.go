package market

import (
	"fmt"
	"strings"
)

// Symbol is a canonical trading pair in BASE/QUOTE form, e.g. "BTC/USDT".
type Symbol string

// BadSymbol is returned when a string cannot be split into base and quote.
type BadSymbol string

func (bs BadSymbol) Error() string {
	return fmt.Sprintf("cannot derive canonical symbol from %q", string(bs))
}

// quoteCurrencies are tried longest first when splitting concatenated symbols.
var quoteCurrencies = []string{"FDUSD", "USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH"}

// NewSymbol joins base and quote into a canonical symbol.
func NewSymbol(base, quote string) Symbol {
	return Symbol(strings.ToUpper(base) + "/" + strings.ToUpper(quote))
}

// ParseSymbol accepts "BTC/USDT", "btc-usdt", "BTC_USDT" and concatenated "BTCUSDT".
func ParseSymbol(raw string) (Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(s, sep); ok {
			if base == "" || quote == "" || strings.ContainsAny(quote, "/-_") {
				return "", BadSymbol(raw)
			}
			return NewSymbol(base, quote), nil
		}
	}
	return SplitConcatenated(s)
}

// SplitConcatenated maps a venue symbol without separator ("BTCUSDT") to
// canonical form. The longest known quote currency suffix wins; when none
// matches the first three characters are taken as the base.
func SplitConcatenated(raw string) (Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, quote := range quoteCurrencies {
		if len(s) > len(quote) && strings.HasSuffix(s, quote) {
			return NewSymbol(s[:len(s)-len(quote)], quote), nil
		}
	}
	if len(s) > 3 {
		return NewSymbol(s[:3], s[3:]), nil
	}
	return "", BadSymbol(raw)
}

func (s Symbol) Base() string {
	base, _, _ := strings.Cut(string(s), "/")
	return base
}

func (s Symbol) Quote() string {
	_, quote, _ := strings.Cut(string(s), "/")
	return quote
}

// Concat returns the pair without separator, e.g. "BTCUSDT".
func (s Symbol) Concat() string {
	return s.Base() + s.Quote()
}

func (s Symbol) String() string {
	return string(s)
}
