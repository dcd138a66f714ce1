package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/spimexlab/spimex-api/internal/domain"
)

// Common request/response structures

// IngestRequest defines the payload for the ingest endpoint.
type IngestRequest struct {
	// TargetDate is the first day to ingest, formatted 2006-01-02.
	// Empty means today only.
	TargetDate string `json:"target_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// IngestResponse acknowledges an accepted ingest request.
type IngestResponse struct {
	TaskID uuid.UUID `json:"task_id"`
	Status string    `json:"status"`
}

// TradingDatesResponse lists distinct trade dates, newest first.
type TradingDatesResponse struct {
	Dates []string `json:"dates"`
}

// TradingResultResponse is one trading result row.
type TradingResultResponse struct {
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
	Date                string    `json:"date"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TradingResultsResponse lists trading result rows.
type TradingResultsResponse struct {
	Results []TradingResultResponse `json:"results"`
}

func toTradingResultResponse(r *domain.TradingResult) TradingResultResponse {
	return TradingResultResponse{
		ID:                  r.ID,
		ExchangeProductID:   r.ExchangeProductID,
		ExchangeProductName: r.ExchangeProductName,
		OilID:               r.OilID,
		DeliveryBasisID:     r.DeliveryBasisID,
		DeliveryBasisName:   r.DeliveryBasisName,
		DeliveryTypeID:      r.DeliveryTypeID,
		Volume:              r.Volume,
		Total:               r.Total,
		Count:               r.Count,
		Date:                r.TradeDate.Format("2006-01-02"),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func toTradingResultsResponse(results []*domain.TradingResult) TradingResultsResponse {
	out := TradingResultsResponse{Results: make([]TradingResultResponse, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, toTradingResultResponse(r))
	}
	return out
}
