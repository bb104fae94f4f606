package httpserver

import (
	"net/http"

	"fx-arena/internal/auth"
	"fx-arena/internal/competition"
	"fx-arena/internal/httputil"
	"fx-arena/internal/orders"
	"fx-arena/internal/settlement"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	CompetitionHandler *competition.Handler
	OrderHandler       *orders.Handler
	SettlementHandler  *settlement.Handler
	Verifier           *auth.Verifier
	InternalToken      string
	WSHandler          http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ws", d.WSHandler.ServeHTTP)

		r.Get("/competitions", d.CompetitionHandler.List)
		r.Get("/competitions/{id}", func(w http.ResponseWriter, r *http.Request) {
			d.CompetitionHandler.Get(w, r, chi.URLParam(r, "id"))
		})
		r.Get("/competitions/{id}/leaderboard", func(w http.ResponseWriter, r *http.Request) {
			d.SettlementHandler.Leaderboard(w, r, chi.URLParam(r, "id"))
		})

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.Verifier))
			r.Post("/competitions/{id}/enter", func(w http.ResponseWriter, r *http.Request) {
				userID, ok := UserID(r)
				if !ok {
					httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
					return
				}
				d.CompetitionHandler.Enter(w, r, chi.URLParam(r, "id"), userID)
			})
			r.Post("/orders", d.OrderHandler.Place)
			r.Delete("/participants/{pid}/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
				d.OrderHandler.CancelLimit(w, r, chi.URLParam(r, "pid"), chi.URLParam(r, "id"))
			})
			r.Get("/participants/{pid}/orders", func(w http.ResponseWriter, r *http.Request) {
				d.OrderHandler.PendingLimits(w, r, chi.URLParam(r, "pid"))
			})
			r.Get("/participants/{pid}/positions", func(w http.ResponseWriter, r *http.Request) {
				d.OrderHandler.OpenPositions(w, r, chi.URLParam(r, "pid"))
			})
			r.Post("/participants/{pid}/positions/{id}/close", func(w http.ResponseWriter, r *http.Request) {
				d.OrderHandler.Close(w, r, chi.URLParam(r, "pid"), chi.URLParam(r, "id"))
			})
			r.Post("/participants/{pid}/positions/{id}/protective", func(w http.ResponseWriter, r *http.Request) {
				d.OrderHandler.SetProtective(w, r, chi.URLParam(r, "pid"), chi.URLParam(r, "id"))
			})
			r.Get("/participants/{pid}/metrics", func(w http.ResponseWriter, r *http.Request) {
				d.OrderHandler.Metrics(w, r, chi.URLParam(r, "pid"))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/internal/competitions", d.CompetitionHandler.Create)
			r.Post("/internal/competitions/{id}/activate", func(w http.ResponseWriter, r *http.Request) {
				d.CompetitionHandler.Activate(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/internal/competitions/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
				d.CompetitionHandler.Cancel(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/internal/competitions/{id}/settle", func(w http.ResponseWriter, r *http.Request) {
				d.SettlementHandler.Settle(w, r, chi.URLParam(r, "id"))
			})
		})
	})

	return r
}
