package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Family tags a normalized event. The values double as event names on the
// bus.
type Family string

const (
	FamilyTicker         Family = "ticker"
	FamilyOrderBook      Family = "orderbook"
	FamilyTrade          Family = "trade"
	FamilyAccount        Family = "account"
	FamilyPosition       Family = "position"
	FamilyOrder          Family = "order"
	FamilyTradeExecution Family = "tradeExecution"
	FamilyFunding        Family = "funding"
)

// NormalizedEvent is implemented by every validated payload variant. Events
// are values and are never mutated after the router builds them.
type NormalizedEvent interface {
	Family() Family
	// Key is the ordering key: writes sharing a key are applied in receipt order.
	Key() string
	EventTime() time.Time
}

// TickerUpdate is a best bid/ask and last trade snapshot for one symbol.
type TickerUpdate struct {
	Symbol      string          `json:"symbol"`
	Sequence    int64           `json:"sequence"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	BestBid     decimal.Decimal `json:"bestBidPrice"`
	BestBidSize decimal.Decimal `json:"bestBidSize"`
	BestAsk     decimal.Decimal `json:"bestAskPrice"`
	BestAskSize decimal.Decimal `json:"bestAskSize"`
	MarketTime  time.Time       `json:"marketTime"`
}

func (e TickerUpdate) Family() Family       { return FamilyTicker }
func (e TickerUpdate) Key() string          { return e.Symbol }
func (e TickerUpdate) EventTime() time.Time { return e.MarketTime }

// OrderBookUpdate is one level-2 diff.
type OrderBookUpdate struct {
	Symbol    string          `json:"symbol"`
	Sequence  int64           `json:"sequence"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e OrderBookUpdate) Family() Family       { return FamilyOrderBook }
func (e OrderBookUpdate) Key() string          { return e.Symbol }
func (e OrderBookUpdate) EventTime() time.Time { return e.Timestamp }

// TradeTick is a public match on the execution topic.
type TradeTick struct {
	Symbol       string          `json:"symbol"`
	TradeID      string          `json:"tradeId"`
	Sequence     int64           `json:"sequence"`
	Side         string          `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	MakerOrderID string          `json:"makerOrderId,omitempty"`
	TakerOrderID string          `json:"takerOrderId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

func (e TradeTick) Family() Family       { return FamilyTrade }
func (e TradeTick) Key() string          { return e.Symbol }
func (e TradeTick) EventTime() time.Time { return e.Timestamp }

// AccountUpdate is a wallet balance change.
type AccountUpdate struct {
	AccountID        string          `json:"accountId"`
	Currency         string          `json:"currency"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	HoldBalance      decimal.Decimal `json:"holdBalance"`
	OrderMargin      decimal.Decimal `json:"orderMargin"`
	Timestamp        time.Time       `json:"timestamp"`
}

func (e AccountUpdate) Family() Family       { return FamilyAccount }
func (e AccountUpdate) Key() string          { return e.AccountID }
func (e AccountUpdate) EventTime() time.Time { return e.Timestamp }

// PositionUpdate is the state of one (symbol, side) position.
type PositionUpdate struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	CurrentQty    decimal.Decimal `json:"currentQty"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	MarkPrice     decimal.Decimal `json:"markPrice"`
	UnrealisedPnl decimal.Decimal `json:"unrealisedPnl"`
	RealisedPnl   decimal.Decimal `json:"realisedPnl"`
	Leverage      decimal.Decimal `json:"leverage"`
	LiquidationPx decimal.Decimal `json:"liquidationPrice"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (e PositionUpdate) Family() Family       { return FamilyPosition }
func (e PositionUpdate) Key() string          { return e.Symbol + "|" + e.Side }
func (e PositionUpdate) EventTime() time.Time { return e.Timestamp }

// OrderStatusUnknown replaces a missing order status.
const OrderStatusUnknown = "UNKNOWN"

// OrderUpdate is a change to one of the account's orders.
type OrderUpdate struct {
	OrderID    string          `json:"orderId"`
	ClientOID  string          `json:"clientOid,omitempty"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	OrderType  string          `json:"orderType"`
	Status     string          `json:"status"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	FilledSize decimal.Decimal `json:"filledSize"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (e OrderUpdate) Family() Family       { return FamilyOrder }
func (e OrderUpdate) Key() string          { return e.OrderID }
func (e OrderUpdate) EventTime() time.Time { return e.Timestamp }

// TradeExecution is a fill of one of the account's orders.
type TradeExecution struct {
	TradeID   string          `json:"tradeId"`
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Fee       decimal.Decimal `json:"fee"`
	Liquidity string          `json:"liquidity,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e TradeExecution) Family() Family { return FamilyTradeExecution }

// Key uses the order id so fills queue behind the order they belong to.
func (e TradeExecution) Key() string          { return e.OrderID }
func (e TradeExecution) EventTime() time.Time { return e.Timestamp }

// FundingUpdate is ephemeral funding-rate telemetry.
type FundingUpdate struct {
	Symbol        string          `json:"symbol"`
	FundingRate   decimal.Decimal `json:"fundingRate"`
	PredictedRate decimal.Decimal `json:"predictedRate"`
	Granularity   int64           `json:"granularity"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (e FundingUpdate) Family() Family       { return FamilyFunding }
func (e FundingUpdate) Key() string          { return e.Symbol }
func (e FundingUpdate) EventTime() time.Time { return e.Timestamp }
