package httpapi

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Synergyfy/latap-messaging/internal/core"
)

// Webhooks acknowledge with 200 whenever the payload parses; per-event
// reconciliation misses are skipped and counted, never retried by the
// provider.

func (s *Server) inboundWebhook(w http.ResponseWriter, r *http.Request) {
	ch, ok := core.ParseChannel(chi.URLParam(r, "channel"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown_channel"})
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read_body"})
		return
	}
	accepted, err := s.Engine.HandleInbound(r.Context(), ch, payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
}

func (s *Server) deliveryWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read_body"})
		return
	}
	updated, err := s.Engine.UpdateDeliveryStatus(r.Context(), payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}
