package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/dispatch"
)

func (s *Server) createBusiness(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name          string `json:"name"`
		InitialCredit int64  `json:"initial_credit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	b := &core.Business{
		ID:            uuid.NewString(),
		Name:          in.Name,
		CreditBalance: max(in.InitialCredit, 0),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.Store.CreateBusiness(r.Context(), b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.Store.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": bal})
}

func (s *Server) topUp(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_amount"})
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.Store.TopUp(r.Context(), id, in.Amount); err != nil {
		writeError(w, err)
		return
	}
	bal, err := s.Store.Balance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": bal})
}

func (s *Server) createContact(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BusinessID    string   `json:"business_id"`
		Name          string   `json:"name"`
		Phone         string   `json:"phone"`
		Email         string   `json:"email"`
		OptInChannels []string `json:"opt_in_channels"`
		Tags          []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.BusinessID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if in.Phone == "" && in.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone_or_email_required"})
		return
	}
	channels := make([]core.Channel, 0, len(in.OptInChannels))
	for _, raw := range in.OptInChannels {
		ch, ok := core.ParseChannel(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown_channel"})
			return
		}
		channels = append(channels, ch)
	}
	now := time.Now().UTC()
	c := &core.Contact{
		ID:            uuid.NewString(),
		BusinessID:    in.BusinessID,
		Name:          in.Name,
		Phone:         in.Phone,
		Email:         in.Email,
		OptInChannels: channels,
		Tags:          in.Tags,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreateContact(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	bid := businessID(r)
	if bid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_X-Business-ID"})
		return
	}
	contacts, err := s.Store.ListContacts(r.Context(), bid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": contacts})
}

// sendMessage is the single entry point for outbound traffic. An audience
// of one sends synchronously and returns the message; anything larger is
// accepted as a campaign.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BusinessID string   `json:"business_id"`
		Channel    string   `json:"channel"`
		Audience   string   `json:"audience"`
		ContactIDs []string `json:"contact_ids"`
		TemplateID string   `json:"template_id"`
		Content    string   `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.BusinessID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	ch, ok := core.ParseChannel(in.Channel)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown_channel"})
		return
	}
	res, err := s.Engine.SendMessage(r.Context(), dispatch.SendRequest{
		BusinessID: in.BusinessID,
		Channel:    ch,
		Audience:   core.AudienceType(in.Audience),
		ContactIDs: in.ContactIDs,
		TemplateID: in.TemplateID,
		Content:    in.Content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.CampaignID != "" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	bid := businessID(r)
	if bid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_X-Business-ID"})
		return
	}
	id := chi.URLParam(r, "id")
	campaign, err := s.Store.GetCampaign(r.Context(), bid, id)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.Store.CampaignMessageStats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaign": campaign, "message_stats": stats})
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BusinessID string `json:"business_id"`
		Channel    string `json:"channel"`
		Name       string `json:"name"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.BusinessID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	ch, ok := core.ParseChannel(in.Channel)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown_channel"})
		return
	}
	t, err := s.Templates.Create(r.Context(), in.BusinessID, ch, in.Name, in.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// provisionRoute binds a receiving channel identity (sender number, inbox
// address) to a business. Inbound events only reconcile through this table.
func (s *Server) provisionRoute(w http.ResponseWriter, r *http.Request) {
	var in struct {
		BusinessID string `json:"business_id"`
		Channel    string `json:"channel"`
		Identity   string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.BusinessID == "" || in.Identity == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	ch, ok := core.ParseChannel(in.Channel)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown_channel"})
		return
	}
	route := &core.ChannelRoute{
		Channel:    ch,
		Identity:   in.Identity,
		BusinessID: in.BusinessID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Store.ProvisionRoute(r.Context(), route); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, route)
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	bid := businessID(r)
	if bid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_X-Business-ID"})
		return
	}
	threads, err := s.Inbox.Threads(r.Context(), bid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": threads})
}

func (s *Server) threadMessages(w http.ResponseWriter, r *http.Request) {
	bid := businessID(r)
	if bid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_X-Business-ID"})
		return
	}
	msgs, err := s.Inbox.ThreadMessages(r.Context(), bid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": msgs})
}

func (s *Server) sendReply(w http.ResponseWriter, r *http.Request) {
	bid := businessID(r)
	if bid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_X-Business-ID"})
		return
	}
	var in struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	msg, err := s.Inbox.SendReply(r.Context(), bid, chi.URLParam(r, "id"), in.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
