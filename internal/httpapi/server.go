// Package httpapi is the thin HTTP surface over the dispatch engine, inbox
// and webhook reconcilers. Handlers validate and translate; all semantics
// live in the services they call.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/dispatch"
	"github.com/Synergyfy/latap-messaging/internal/inbox"
	"github.com/Synergyfy/latap-messaging/internal/store"
	"github.com/Synergyfy/latap-messaging/internal/template"
)

type Server struct {
	Store     store.Store
	Engine    *dispatch.Engine
	Inbox     *inbox.Manager
	Templates *template.Service
	Log       *slog.Logger

	// Pool backs the readiness probe; nil with the in-memory store.
	Pool *pgxpool.Pool
}

func NewServer(st store.Store, engine *dispatch.Engine, ib *inbox.Manager, tp *template.Service, log *slog.Logger, pool *pgxpool.Pool) *Server {
	return &Server{Store: st, Engine: engine, Inbox: ib, Templates: tp, Log: log, Pool: pool}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, instrument)

	s.mountHealth(r)
	s.mountMetrics(r)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/businesses", s.createBusiness)
		r.Get("/businesses/{id}/balance", s.getBalance)
		r.Post("/businesses/{id}/topup", s.topUp)

		r.Post("/contacts", s.createContact)
		r.Get("/contacts", s.listContacts)

		r.Post("/messages/send", s.sendMessage)
		r.Get("/campaigns/{id}", s.getCampaign)

		r.Post("/templates", s.createTemplate)
		r.Post("/routes", s.provisionRoute)

		r.Get("/inbox/threads", s.listThreads)
		r.Get("/inbox/threads/{id}/messages", s.threadMessages)
		r.Post("/inbox/threads/{id}/reply", s.sendReply)

		r.Post("/webhooks/{channel}/inbound", s.inboundWebhook)
		r.Post("/webhooks/delivery", s.deliveryWebhook)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInsufficientCredit):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient_credit"})
	case errors.Is(err, core.ErrEmptyAudience):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty_audience"})
	case errors.Is(err, core.ErrConsentDenied):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "consent_denied"})
	case errors.Is(err, core.ErrBusinessNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "business_not_found"})
	case errors.Is(err, core.ErrThreadNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "thread_not_found"})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	case errors.Is(err, core.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict"})
	default:
		var te *core.TransportError
		if errors.As(err, &te) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": te.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// businessID reads the tenant header used by the scoped read endpoints.
func businessID(r *http.Request) string {
	return r.Header.Get("X-Business-ID")
}
