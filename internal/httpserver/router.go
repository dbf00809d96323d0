package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tradecore/internal/auth"
	"tradecore/internal/health"
	"tradecore/internal/httputil"
	"tradecore/internal/trading"
)

type RouterDeps struct {
	AuthHandler    *auth.Handler
	TradingHandler *trading.Handler
	HealthHandler  *health.Handler
	AuthService    *auth.Service
	InternalToken  string
	WSHandler      http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health", d.HealthHandler.Get)
	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})
		if d.WSHandler != nil {
			r.Get("/events/ws", d.WSHandler.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/me", authed(d.AuthHandler.Me))
			r.Post("/portfolios", authed(d.TradingHandler.CreatePortfolio))
			r.Get("/portfolios/{id}", authed(d.TradingHandler.GetPortfolio))
			r.Post("/trades", authed(d.TradingHandler.Execute))
			r.Get("/trades", authed(d.TradingHandler.List))
			r.Get("/trades/{id}", authed(d.TradingHandler.Get))
			r.Post("/trades/{id}/settle", authed(d.TradingHandler.Settle))
			r.Post("/trades/{id}/fail", authed(d.TradingHandler.Fail))
		})
		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Get("/internal/outbox/stats", d.HealthHandler.OutboxStats)
			r.Get("/internal/metrics", d.HealthHandler.Metrics)
		})
	})
	return r
}

func authed(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		h(w, r, userID)
	}
}
