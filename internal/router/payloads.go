package router

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"polofeed/models"
)

type tickerPayload struct {
	Symbol       string      `json:"symbol"`
	Sequence     flexInt     `json:"sequence"`
	Price        flexDecimal `json:"price"`
	LastPrice    flexDecimal `json:"lastPrice"`
	Size         flexDecimal `json:"size"`
	BestBidPrice flexDecimal `json:"bestBidPrice"`
	BestBidSize  flexDecimal `json:"bestBidSize"`
	BestAskPrice flexDecimal `json:"bestAskPrice"`
	BestAskSize  flexDecimal `json:"bestAskSize"`
	TS           flexInt     `json:"ts"`
	Time         flexInt     `json:"time"`
}

type orderBookPayload struct {
	Symbol    string      `json:"symbol"`
	Sequence  flexInt     `json:"sequence"`
	Change    string      `json:"change"`
	Side      string      `json:"side"`
	Price     flexDecimal `json:"price"`
	Size      flexDecimal `json:"size"`
	TS        flexInt     `json:"ts"`
	Timestamp flexInt     `json:"timestamp"`
}

type tradePayload struct {
	Symbol       string      `json:"symbol"`
	TradeID      flexString  `json:"tradeId"`
	Sequence     flexInt     `json:"sequence"`
	Side         string      `json:"side"`
	Price        flexDecimal `json:"price"`
	Size         flexDecimal `json:"size"`
	MakerOrderID flexString  `json:"makerOrderId"`
	TakerOrderID flexString  `json:"takerOrderId"`
	TS           flexInt     `json:"ts"`
	Time         flexInt     `json:"time"`
}

type accountPayload struct {
	AccountID        flexString  `json:"accountId"`
	Currency         string      `json:"currency"`
	AvailableBalance flexDecimal `json:"availableBalance"`
	HoldBalance      flexDecimal `json:"holdBalance"`
	OrderMargin      flexDecimal `json:"orderMargin"`
	TS               flexInt     `json:"ts"`
	Timestamp        flexInt     `json:"timestamp"`
}

type positionPayload struct {
	Symbol           string      `json:"symbol"`
	Side             string      `json:"side"`
	CurrentQty       flexDecimal `json:"currentQty"`
	AvgEntryPrice    flexDecimal `json:"avgEntryPrice"`
	MarkPrice        flexDecimal `json:"markPrice"`
	UnrealisedPnl    flexDecimal `json:"unrealisedPnl"`
	RealisedPnl      flexDecimal `json:"realisedPnl"`
	RealLeverage     flexDecimal `json:"realLeverage"`
	Leverage         flexDecimal `json:"leverage"`
	LiquidationPrice flexDecimal `json:"liquidationPrice"`
	CurrentTimestamp flexInt     `json:"currentTimestamp"`
	TS               flexInt     `json:"ts"`
}

type orderPayload struct {
	OrderID    flexString  `json:"orderId"`
	ClientOid  string      `json:"clientOid"`
	Symbol     string      `json:"symbol"`
	Side       string      `json:"side"`
	OrderType  string      `json:"orderType"`
	Type       string      `json:"type"`
	Status     string      `json:"status"`
	Price      flexDecimal `json:"price"`
	Size       flexDecimal `json:"size"`
	FilledSize flexDecimal `json:"filledSize"`
	TS         flexInt     `json:"ts"`
	OrderTime  flexInt     `json:"orderTime"`
}

type executionPayload struct {
	TradeID   flexString  `json:"tradeId"`
	OrderID   flexString  `json:"orderId"`
	Symbol    string      `json:"symbol"`
	Side      string      `json:"side"`
	Price     flexDecimal `json:"price"`
	Size      flexDecimal `json:"size"`
	MatchSize flexDecimal `json:"matchSize"`
	Fee       flexDecimal `json:"fee"`
	Liquidity string      `json:"liquidity"`
	TS        flexInt     `json:"ts"`
	TradeTime flexInt     `json:"tradeTime"`
}

type fundingPayload struct {
	Symbol        string      `json:"symbol"`
	FundingRate   flexDecimal `json:"fundingRate"`
	PredictedRate flexDecimal `json:"predictedFundingRate"`
	Granularity   flexInt     `json:"granularity"`
	TS            flexInt     `json:"ts"`
	Timestamp     flexInt     `json:"timestamp"`
}

// normalizer turns one validated payload object into an event.
type normalizer func(raw json.RawMessage, now time.Time) (models.NormalizedEvent, error)

var normalizers = map[models.Family]normalizer{
	models.FamilyTicker:         normalizeTicker,
	models.FamilyOrderBook:      normalizeOrderBook,
	models.FamilyTrade:          normalizeTrade,
	models.FamilyAccount:        normalizeAccount,
	models.FamilyPosition:       normalizePosition,
	models.FamilyOrder:          normalizeOrder,
	models.FamilyTradeExecution: normalizeExecution,
	models.FamilyFunding:        normalizeFunding,
}

func decodePayload(family models.Family, raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrValidation, family, err)
	}
	return nil
}

// require fails with ErrValidation listing every empty field.
func require(family models.Family, fields ...requiredField) error {
	var missing []string
	for _, f := range fields {
		if !f.ok {
			missing = append(missing, f.name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s payload missing %s", ErrValidation, family, strings.Join(missing, ", "))
}

type requiredField struct {
	name string
	ok   bool
}

func str(name, v string) requiredField {
	return requiredField{name, strings.TrimSpace(v) != ""}
}

func num(name string, v flexDecimal) requiredField { return requiredField{name, v.set} }

func normalizeTicker(raw json.RawMessage, now time.Time) (models.NormalizedEvent, error) {
	var p tickerPayload
	if err := decodePayload(models.FamilyTicker, raw, &p); err != nil {
		return nil, err
	}
	if err := require(models.FamilyTicker, str("symbol", p.Symbol)); err != nil {
		return nil, err
	}
	return models.TickerUpdate{
		Symbol:      p.Symbol,
		Sequence:    p.Sequence.value,
		Price:       p.Price.Or(p.LastPrice).value,
		Size:        p.Size.value,
		BestBid:     p.BestBidPrice.value,
		BestBidSize: p.BestBidSize.value,
		BestAsk:     p.BestAskPrice.value,
		BestAskSize: p.BestAskSize.value,
		MarketTime:  timeOr(now, p.TS, p.Time),
	}, nil
}

func normalizeOrderBook(raw json.RawMessage, now time.Time) (models.NormalizedEvent, error) {
	var p orderBookPayload
	if err := decodePayload(models.FamilyOrderBook, raw, &p); err != nil {
		return nil, err
	}
	// "change" packs the level as "price,side,size".
	if change := strings.TrimSpace(p.Change); change != "" {
		parts := strings.Split(change, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: orderbook change %q", ErrValidation, change)
		}
		if err := p.Price.UnmarshalJSON([]byte(`"` + strings.TrimSpace(parts[0]) + `"`)); err != nil {
			return nil, fmt.Errorf("%w: orderbook change price: %v", ErrValidation, err)
		}
		p.Side = strings.TrimSpace(parts[1])
		if err := p.Size.UnmarshalJSON([]byte(`"` + strings.TrimSpace(parts[2]) + `"`)); err != nil {
			return nil, fmt.Errorf("%w: orderbook change size: %v", ErrValidation, err)
		}
	}
	if err := require(models.FamilyOrderBook, str("symbol", p.Symbol), num("price", p.Price)); err != nil {
		return nil, err
	}
	return models.OrderBookUpdate{
		Symbol:    p.Symbol,
		Sequence:  p.Sequence.value,
		Side:      strings.ToLower(p.Side),
		Price:     p.Price.value,
		Size:      p.Size.value,
		Timestamp: timeOr(now, p.TS, p.Timestamp),
	}, nil
}

func normalizeTrade(raw json.RawMessage, now time.Time) (models.NormalizedEvent, error) {
	var p tradePayload
	if err := decodePayload(models.FamilyTrade, raw, &p); err != nil {
		return nil, err
	}
	if err := require(models.FamilyTrade, str("symbol", p.Symbol), num("price", p.Price)); err != nil {
		return nil, err
	}
	return models.TradeTick{
		Symbol:       p.Symbol,
		TradeID:      string(p.TradeID),
		Sequence:     p.Sequence.value,
		Side:         strings.ToLower(p.Side),
		Price:        p.Price.value,
		Size:         p.Size.value,
		MakerOrderID: string(p.MakerOrderID),
		TakerOrderID: string(p.TakerOrderID),
		Timestamp:    timeOr(now, p.TS, p.Time),
	}, nil
}

func normalizeAccount(raw json.RawMessage, now time.Time) (models.NormalizedEvent, error) {
	var p accountPayload
	if err := decodePayload(models.FamilyAccount, raw, &p); err != nil {
		return nil, err
	}
	if err := require(models.FamilyAccount, str("currency", p.Currency)); err != nil {
		return nil, err
	}
	accountID := string(p.AccountID)
	if accountID == "" {
		accountID = p.Currency
	}
	return models.AccountUpdate{
		AccountID:        accountID,
		Currency:         p.Currency,
		AvailableBalance: p.AvailableBalance.value,
		HoldBalance:      p.HoldBalance.value,
		OrderMargin:      p.OrderMargin.value,
		Timestamp:        timeOr(now, p.TS, p.Timestamp),
	}, nil
}

func normalizePosition(raw json.RawMessage, now time.Time) (models.NormalizedEvent, error) {
	var p positionPayload
	if err := decodePayload(models.FamilyPosition, raw, &p); err != nil {
		return nil, err
	}
	if err := require(models.FamilyPosition, str("symbol", p.Symbol)); err != nil {
		return nil, err
	}
	side := strings.ToLower(strings.TrimSpace(p.Side))
	if side == "" {
		side = "long"
		if p.CurrentQty.value.IsNegative() {
			side = "short"
		}
	}
	return models.PositionUpdate{
		Symbol:        p.Symbol,
		Side:          side,
		CurrentQty:    p.CurrentQty.value,
		AvgEntryPrice: p.AvgEntryPrice.value,
		MarkPrice:     p.MarkPrice.value,
		UnrealisedPnl: p.UnrealisedPnl.value,
		RealisedPnl:   p.RealisedPnl.value,
		Leverage:      p.RealLeverage.Or(p.Leverage).value,
		LiquidationPx: p.LiquidationPrice.value,
		Timestamp:     timeOr(now, p.CurrentTimestamp, p.TS),
	}, nil
}

func normalizeOrder(raw json.RawMessage, now time.Time) (models.NormalizedEvent, error) {
	var p orderPayload
	if err := decodePayload(models.FamilyOrder, raw, &p); err != nil {
		return nil, err
	}
	if err := require(models.FamilyOrder, str("orderId", string(p.OrderID))); err != nil {
		return nil, err
	}
	orderType := p.OrderType
	if orderType == "" {
		orderType = p.Type
	}
	return models.OrderUpdate{
		OrderID:    string(p.OrderID),
		ClientOID:  p.ClientOid,
		Symbol:     p.Symbol,
		Side:       strings.ToLower(p.Side),
		OrderType:  orderType,
		Status:     p.Status,
		Price:      p.Price.value,
		Size:       p.Size.value,
		FilledSize: p.FilledSize.value,
		Timestamp:  timeOr(now, p.TS, p.OrderTime),
	}, nil
}

func normalizeExecution(raw json.RawMessage, now time.Time) (models.NormalizedEvent, error) {
	var p executionPayload
	if err := decodePayload(models.FamilyTradeExecution, raw, &p); err != nil {
		return nil, err
	}
	if err := require(models.FamilyTradeExecution, str("tradeId", string(p.TradeID)), str("orderId", string(p.OrderID))); err != nil {
		return nil, err
	}
	return models.TradeExecution{
		TradeID:   string(p.TradeID),
		OrderID:   string(p.OrderID),
		Symbol:    p.Symbol,
		Side:      strings.ToLower(p.Side),
		Price:     p.Price.value,
		Size:      p.Size.Or(p.MatchSize).value,
		Fee:       p.Fee.value,
		Liquidity: p.Liquidity,
		Timestamp: timeOr(now, p.TS, p.TradeTime),
	}, nil
}

func normalizeFunding(raw json.RawMessage, now time.Time) (models.NormalizedEvent, error) {
	var p fundingPayload
	if err := decodePayload(models.FamilyFunding, raw, &p); err != nil {
		return nil, err
	}
	if err := require(models.FamilyFunding, str("symbol", p.Symbol)); err != nil {
		return nil, err
	}
	return models.FundingUpdate{
		Symbol:        p.Symbol,
		FundingRate:   p.FundingRate.value,
		PredictedRate: p.PredictedRate.value,
		Granularity:   p.Granularity.value,
		Timestamp:     timeOr(now, p.TS, p.Timestamp),
	}, nil
}
