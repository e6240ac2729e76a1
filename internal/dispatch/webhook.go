package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Synergyfy/latap-messaging/internal/compliance"
	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/metrics"
)

// inboundEvent is the channel-independent shape of one inbound message.
type inboundEvent struct {
	From       string
	To         string
	Text       string
	ProviderID string
}

// SMS and chat-app gateways batch inbound messages.
type inboundBatchPayload struct {
	Results []struct {
		From    string `json:"from"`
		To      string `json:"to"`
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
		MessageID string `json:"messageId"`
	} `json:"results"`
}

// The email gateway posts one event per callback.
type inboundEmailPayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

func parseInbound(ch core.Channel, payload []byte) ([]inboundEvent, error) {
	if ch == core.ChannelEmail {
		var p inboundEmailPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("parse %s inbound payload: %w", ch, err)
		}
		return []inboundEvent{{From: p.From, To: p.To, Text: p.Text, ProviderID: p.MessageID}}, nil
	}

	var p inboundBatchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("parse %s inbound payload: %w", ch, err)
	}
	events := make([]inboundEvent, 0, len(p.Results))
	for _, r := range p.Results {
		events = append(events, inboundEvent{From: r.From, To: r.To, Text: r.Message.Text, ProviderID: r.MessageID})
	}
	return events, nil
}

// HandleInbound folds an inbound gateway callback into durable state: it
// routes each event to the owning business, finds or creates the contact
// and thread, applies opt-out keywords, and persists the inbound message.
// Unroutable events are dropped and counted, never guessed at. Returns the
// number of accepted events.
func (e *Engine) HandleInbound(ctx context.Context, ch core.Channel, payload []byte) (int, error) {
	events, err := parseInbound(ch, payload)
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, ev := range events {
		if err := e.reconcileInbound(ctx, ch, ev); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				metrics.InboundTotal.WithLabelValues(string(ch), "unrouted").Inc()
				e.log.Warn("dropping unrouted inbound event", "channel", ch, "to", ev.To)
				continue
			}
			metrics.InboundTotal.WithLabelValues(string(ch), "error").Inc()
			e.log.Error("reconcile inbound event", "channel", ch, "from", ev.From, "error", err)
			continue
		}
		metrics.InboundTotal.WithLabelValues(string(ch), "accepted").Inc()
		accepted++
	}
	return accepted, nil
}

func (e *Engine) reconcileInbound(ctx context.Context, ch core.Channel, ev inboundEvent) error {
	businessID, err := e.store.BusinessForIdentity(ctx, ch, ev.To)
	if err != nil {
		return err
	}

	contact, err := e.store.FindContactByAddress(ctx, businessID, ch, ev.From)
	if errors.Is(err, core.ErrNotFound) {
		contact = &core.Contact{
			BusinessID:    businessID,
			Name:          ev.From,
			OptInChannels: []core.Channel{ch},
		}
		if ch == core.ChannelEmail {
			contact.Email = ev.From
		} else {
			contact.Phone = ev.From
		}
		if err := e.store.CreateContact(ctx, contact); err != nil {
			return fmt.Errorf("create contact: %w", err)
		}
	} else if err != nil {
		return err
	}

	if compliance.IsOptOutKeyword(ev.Text) {
		compliance.OptOut(contact)
		if err := e.store.UpdateContactConsent(ctx, contact); err != nil {
			return fmt.Errorf("apply opt-out: %w", err)
		}
		e.log.Info("contact opted out", "business_id", businessID, "contact_id", contact.ID, "channel", ch)
	}

	thread, err := e.store.FindOrCreateThread(ctx, businessID, contact.ID, ch)
	if err != nil {
		return fmt.Errorf("find thread: %w", err)
	}
	if err := e.store.TouchThread(ctx, thread.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}

	return e.store.CreateMessage(ctx, &core.Message{
		BusinessID:        businessID,
		ContactID:         contact.ID,
		ThreadID:          thread.ID,
		Direction:         core.DirectionInbound,
		Channel:           ch,
		Body:              ev.Text,
		Status:            core.StatusDelivered,
		ProviderMessageID: ev.ProviderID,
	})
}

type deliveryPayload struct {
	Results []struct {
		MessageID string `json:"messageId"`
		Status    struct {
			Name string `json:"name"`
		} `json:"status"`
	} `json:"results"`
}

// UpdateDeliveryStatus applies a delivery-status callback. Messages are
// correlated by provider message id; unknown correlations are skipped
// because callbacks may refer to messages from another environment.
// Returns the number of updated messages.
func (e *Engine) UpdateDeliveryStatus(ctx context.Context, payload []byte) (int, error) {
	var p deliveryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, fmt.Errorf("parse delivery payload: %w", err)
	}

	updated := 0
	for _, r := range p.Results {
		msg, err := e.store.GetMessageByProviderID(ctx, r.MessageID)
		if errors.Is(err, core.ErrNotFound) {
			metrics.DeliveryTotal.WithLabelValues("unknown_message").Inc()
			continue
		}
		if err != nil {
			metrics.DeliveryTotal.WithLabelValues("error").Inc()
			e.log.Error("load message for delivery update", "provider_message_id", r.MessageID, "error", err)
			continue
		}

		st := StatusFromProvider(r.Status.Name)
		if err := e.store.UpdateMessageStatus(ctx, msg.ID, st); err != nil {
			metrics.DeliveryTotal.WithLabelValues("error").Inc()
			e.log.Error("update message status", "message_id", msg.ID, "error", err)
			continue
		}
		// Best effort: the correlated log entry may predate provider ids.
		if err := e.store.UpdateMessageLogStatus(ctx, r.MessageID, st); err != nil && !errors.Is(err, core.ErrNotFound) {
			e.log.Error("update message log status", "provider_message_id", r.MessageID, "error", err)
		}
		metrics.DeliveryTotal.WithLabelValues("updated").Inc()
		updated++
	}
	return updated, nil
}
