package main

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/spimexlab/spimex-api/internal/api"
	"github.com/spimexlab/spimex-api/internal/api/middleware"
	"github.com/spimexlab/spimex-api/internal/api/shared"
)

// newRouter assembles the HTTP routing tree and middleware chain.
func newRouter(h *api.TradingHandler, db *sql.DB, corsOrigins []string) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Trace)
	r.Use(chimiddleware.Recoverer)

	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", healthzHandler(db))

	r.Route("/api_v1/trading_results", func(r chi.Router) {
		r.Get("/last_trading_dates", h.GetLastTradingDates)
		r.Get("/dynamics", h.GetDynamics)
		r.Get("/last_trading_results", h.GetLastTradingResults)
		r.Post("/ingest", h.CreateIngest)
	})

	return r
}

// healthzHandler reports process liveness and database reachability.
func healthzHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
			})
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{
			"status": "ok",
		})
	}
}
