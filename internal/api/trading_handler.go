// Package api provides the HTTP handlers for the trading-results API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/spimexlab/spimex-api/internal/api/shared"
	"github.com/spimexlab/spimex-api/internal/domain"
	"github.com/spimexlab/spimex-api/internal/store"
)

// defaultLastTradingDays is the window used by the last-trading-dates
// endpoint when the days query parameter is absent.
const defaultLastTradingDays = 5

// TradingService is the application service the handler delegates to.
type TradingService interface {
	LastTradingDates(ctx context.Context, days int) ([]time.Time, error)
	Dynamics(ctx context.Context, start, end time.Time, f store.ResultFilter) ([]*domain.TradingResult, error)
	LastTradingResults(ctx context.Context, f store.ResultFilter) ([]*domain.TradingResult, error)
	EnqueueIngest(ctx context.Context, targetDate string) (uuid.UUID, error)
}

// TradingHandler handles trading-result HTTP requests.
type TradingHandler struct {
	service TradingService
	logger  *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(service TradingService, logger *slog.Logger) *TradingHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TradingHandler")
	}
	return &TradingHandler{
		service: service,
		logger:  logger.With(slog.String("component", "trading_handler")),
	}
}

// GetLastTradingDates handles GET /api_v1/trading_results/last_trading_dates.
func (h *TradingHandler) GetLastTradingDates(w http.ResponseWriter, r *http.Request) {
	days := defaultLastTradingDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	dates, err := h.service.LastTradingDates(r.Context(), days)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := TradingDatesResponse{Dates: make([]string, 0, len(dates))}
	for _, d := range dates {
		resp.Dates = append(resp.Dates, d.Format("2006-01-02"))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetDynamics handles GET /api_v1/trading_results/dynamics.
func (h *TradingHandler) GetDynamics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := parseDateParam(q.Get("start_date"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "start_date is required, formatted 2006-01-02")
		return
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := q.Get("end_date"); raw != "" {
		if end, err = parseDateParam(raw); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "end_date must be formatted 2006-01-02")
			return
		}
	}

	results, err := h.service.Dynamics(r.Context(), start, end, filterFromQuery(r))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, toTradingResultsResponse(results))
}

// GetLastTradingResults handles GET /api_v1/trading_results/last_trading_results.
func (h *TradingHandler) GetLastTradingResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.LastTradingResults(r.Context(), filterFromQuery(r))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, toTradingResultsResponse(results))
}

// CreateIngest handles POST /api_v1/trading_results/ingest. The work
// itself runs on a worker; the endpoint only acknowledges the task.
func (h *TradingHandler) CreateIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if r.ContentLength != 0 {
		if err := shared.DecodeAndValidate(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "target_date must be formatted 2006-01-02")
			return
		}
	}

	taskID, err := h.service.EnqueueIngest(r.Context(), req.TargetDate)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.logger.Info("ingest accepted",
		"task_id", taskID,
		"target_date", req.TargetDate,
		"trace_id", shared.GetTraceID(r.Context()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, IngestResponse{
		TaskID: taskID,
		Status: "accepted",
	})
}

func parseDateParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing date parameter")
	}
	return time.ParseInLocation("2006-01-02", raw, time.UTC)
}

func filterFromQuery(r *http.Request) store.ResultFilter {
	q := r.URL.Query()
	return store.ResultFilter{
		OilID:           q.Get("oil_id"),
		DeliveryTypeID:  q.Get("delivery_type_id"),
		DeliveryBasisID: q.Get("delivery_basis_id"),
	}
}
