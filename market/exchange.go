package market

import (
	"errors"
	"fmt"
	"strings"
)

// Exchange identifies one of the supported venues.
type Exchange string

const (
	Binance Exchange = "binance"
	OKX     Exchange = "okx"
	Bybit   Exchange = "bybit"
	Bitget  Exchange = "bitget"
)

var ErrUnknownExchange = errors.New("unknown exchange")

// Exchanges lists every supported venue in a stable order.
func Exchanges() []Exchange {
	return []Exchange{Binance, OKX, Bybit, Bitget}
}

func ParseExchange(name string) (Exchange, error) {
	ex := Exchange(strings.ToLower(strings.TrimSpace(name)))
	if !ex.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownExchange, name)
	}
	return ex, nil
}

func (e Exchange) Valid() bool {
	switch e {
	case Binance, OKX, Bybit, Bitget:
		return true
	}
	return false
}

func (e Exchange) String() string {
	return string(e)
}
