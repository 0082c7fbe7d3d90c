package arbitrage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spread-arbitrage-scanner/market"
)

var hundred = decimal.NewFromInt(100)

// Opportunity is a detected cross-exchange spread: buy on BuyExchange at its
// ask, sell on SellExchange at its bid.
type Opportunity struct {
	ID           uuid.UUID       `json:"id"`
	Symbol       market.Symbol   `json:"symbol"`
	BuyExchange  market.Exchange `json:"buy_exchange"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SellExchange market.Exchange `json:"sell_exchange"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	Spread       decimal.Decimal `json:"spread"`
	SpreadPct    decimal.Decimal `json:"spread_pct"`
	Timestamp    time.Time       `json:"timestamp"`
}

func newOpportunity(buy, sell market.Quote, now time.Time) Opportunity {
	spread := sell.BestBid.Sub(buy.BestAsk)
	pct := decimal.Zero
	if !buy.BestAsk.IsZero() {
		pct = spread.Mul(hundred).Div(buy.BestAsk)
	}
	return Opportunity{
		ID:           uuid.New(),
		Symbol:       buy.Symbol,
		BuyExchange:  buy.Exchange,
		BuyPrice:     buy.BestAsk,
		SellExchange: sell.Exchange,
		SellPrice:    sell.BestBid,
		Spread:       spread,
		SpreadPct:    pct,
		Timestamp:    now,
	}
}

// Key identifies the route (symbol, buy venue, sell venue), not the event.
func (o Opportunity) Key() string {
	return fmt.Sprintf("%s_%s_%s", o.Symbol, o.BuyExchange, o.SellExchange)
}

func (o Opportunity) String() string {
	return fmt.Sprintf("%s %s%% | Buy %s@%s, Sell %s@%s",
		o.Symbol, o.SpreadPct.StringFixed(3), o.BuyExchange, o.BuyPrice, o.SellExchange, o.SellPrice)
}
