package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Exchange product ID layout: the first four characters identify the oil
// product, the next three the delivery basis, and the last character the
// delivery type. Derived fields below follow that layout.
const (
	oilIDLen           = 4
	deliveryBasisIDEnd = 7
)

// Common validation errors for TradingResult
var (
	ErrEmptyResultID           = errors.New("trading result ID cannot be empty")
	ErrEmptyExchangeProductID  = errors.New("exchange product ID cannot be empty")
	ErrShortExchangeProductID  = errors.New("exchange product ID is too short to derive identifiers")
	ErrZeroTradeDate           = errors.New("trade date cannot be zero")
	ErrNegativeContractCount   = errors.New("contract count cannot be negative")
)

// TradingResult is one row of a daily exchange bulletin: the traded
// volume, total value and contract count for a single exchange product
// on a single trade date.
type TradingResult struct {
	ID                  uuid.UUID `json:"id"`
	ExchangeProductID   string    `json:"exchange_product_id"`
	ExchangeProductName string    `json:"exchange_product_name"`
	OilID               string    `json:"oil_id"`
	DeliveryBasisID     string    `json:"delivery_basis_id"`
	DeliveryBasisName   string    `json:"delivery_basis_name"`
	DeliveryTypeID      string    `json:"delivery_type_id"`
	Volume              string    `json:"volume"`
	Total               string    `json:"total"`
	Count               int       `json:"count"`
	TradeDate           time.Time `json:"date"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewTradingResult builds a TradingResult from a parsed bulletin row.
// OilID, DeliveryBasisID and DeliveryTypeID are derived from the exchange
// product ID. Returns an error if validation fails.
func NewTradingResult(
	exchangeProductID, exchangeProductName, deliveryBasisName string,
	volume, total string,
	count int,
	tradeDate time.Time,
) (*TradingResult, error) {
	now := time.Now().UTC()
	r := &TradingResult{
		ID:                  uuid.New(),
		ExchangeProductID:   exchangeProductID,
		ExchangeProductName: exchangeProductName,
		DeliveryBasisName:   deliveryBasisName,
		Volume:              volume,
		Total:               total,
		Count:               count,
		TradeDate:           tradeDate,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if len(exchangeProductID) >= deliveryBasisIDEnd+1 {
		r.OilID = exchangeProductID[:oilIDLen]
		r.DeliveryBasisID = exchangeProductID[oilIDLen:deliveryBasisIDEnd]
		r.DeliveryTypeID = exchangeProductID[len(exchangeProductID)-1:]
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks if the TradingResult has valid data.
// Returns an error if any field fails validation.
func (r *TradingResult) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyResultID
	}
	if r.ExchangeProductID == "" {
		return ErrEmptyExchangeProductID
	}
	if len(r.ExchangeProductID) < deliveryBasisIDEnd+1 {
		return ErrShortExchangeProductID
	}
	if r.TradeDate.IsZero() {
		return ErrZeroTradeDate
	}
	if r.Count < 0 {
		return ErrNegativeContractCount
	}
	return nil
}
