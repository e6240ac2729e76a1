// Package dispatch is the messaging core: it resolves the audience of a
// send request, prices and debits it, decides between a direct send and a
// queued campaign, and folds gateway webhooks back into message and thread
// state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Synergyfy/latap-messaging/internal/channel"
	"github.com/Synergyfy/latap-messaging/internal/compliance"
	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/credit"
	"github.com/Synergyfy/latap-messaging/internal/metrics"
	"github.com/Synergyfy/latap-messaging/internal/queue"
	"github.com/Synergyfy/latap-messaging/internal/store"
	"github.com/Synergyfy/latap-messaging/internal/template"
)

// DefaultShardSize bounds the contact count of one campaign job. Larger
// audiences are split into multiple jobs, each keeping the per-contact
// isolation contract.
const DefaultShardSize = 500

type Engine struct {
	store     store.Store
	pricing   credit.Pricing
	adapters  *channel.Registry
	queue     queue.Publisher
	log       *slog.Logger
	shardSize int
}

type Options struct {
	// ShardSize overrides DefaultShardSize when > 0.
	ShardSize int
}

func NewEngine(st store.Store, pricing credit.Pricing, adapters *channel.Registry, q queue.Publisher, log *slog.Logger, opts Options) *Engine {
	shard := opts.ShardSize
	if shard <= 0 {
		shard = DefaultShardSize
	}
	return &Engine{store: st, pricing: pricing, adapters: adapters, queue: q, log: log, shardSize: shard}
}

// SendRequest is the caller-facing send operation input.
type SendRequest struct {
	BusinessID string
	Channel    core.Channel
	Audience   core.AudienceType
	ContactIDs []string
	TemplateID string
	Content    string
}

// SendResult carries either the message id of a direct send or the campaign
// id of a queued batch send.
type SendResult struct {
	MessageIDs []string `json:"message_ids,omitempty"`
	CampaignID string   `json:"campaign_id,omitempty"`
}

// SendMessage resolves the audience, debits the estimated cost and either
// sends synchronously (audience of one) or creates a campaign and enqueues
// its batch jobs. On ErrEmptyAudience, ErrInsufficientCredit and
// ErrConsentDenied nothing has been queued or charged.
func (e *Engine) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	if _, ok := core.ParseChannel(string(req.Channel)); !ok {
		return nil, fmt.Errorf("unknown channel %q", req.Channel)
	}
	if req.TemplateID == "" && req.Content == "" {
		return nil, fmt.Errorf("either template_id or content is required")
	}

	business, err := e.store.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		return nil, err
	}

	audience, err := e.resolveAudience(ctx, req)
	if err != nil {
		if errors.Is(err, core.ErrEmptyAudience) {
			metrics.DispatchTotal.WithLabelValues("empty_audience").Inc()
		}
		return nil, err
	}

	// Validate the template before any money moves.
	var tmpl *core.Template
	if req.TemplateID != "" {
		tmpl, err = e.store.GetTemplate(ctx, req.BusinessID, req.TemplateID)
		if err != nil {
			return nil, err
		}
	}

	if len(audience) == 1 {
		return e.sendDirect(ctx, business, req, &audience[0], tmpl)
	}
	return e.sendCampaign(ctx, business, req, audience)
}

func (e *Engine) resolveAudience(ctx context.Context, req SendRequest) ([]core.Contact, error) {
	audienceType := req.Audience
	if audienceType == "" {
		// No explicit strategy: an id list selects by ids, its absence is an
		// error rather than an implicit send-to-everyone.
		if len(req.ContactIDs) == 0 {
			return nil, fmt.Errorf("audience type is required")
		}
		audienceType = core.AudienceContactIDs
	}

	switch audienceType {
	case core.AudienceContactIDs:
		if len(req.ContactIDs) == 0 {
			return nil, fmt.Errorf("audience %s requires contact_ids", audienceType)
		}
		// Unknown ids are silently dropped, not errored.
		contacts, err := e.store.GetContactsByIDs(ctx, req.BusinessID, req.ContactIDs)
		if err != nil {
			return nil, err
		}
		if len(contacts) == 0 {
			return nil, core.ErrEmptyAudience
		}
		return contacts, nil
	case core.AudienceAllContacts:
		contacts, err := e.store.ListContacts(ctx, req.BusinessID)
		if err != nil {
			return nil, err
		}
		if len(contacts) == 0 {
			return nil, core.ErrEmptyAudience
		}
		return contacts, nil
	default:
		return nil, fmt.Errorf("unknown audience type %q", audienceType)
	}
}

// sendDirect is the synchronous single-recipient path. Consent is checked
// before the debit so a denied send charges nothing; the attempt still gets
// a FAILED log entry. A transport failure after the debit refunds the
// estimate and propagates.
func (e *Engine) sendDirect(ctx context.Context, business *core.Business, req SendRequest, contact *core.Contact, tmpl *core.Template) (*SendResult, error) {
	if err := compliance.ValidateConsent(contact, req.Channel); err != nil {
		metrics.DispatchTotal.WithLabelValues("consent_denied").Inc()
		if logErr := e.store.AppendMessageLog(ctx, &core.MessageLog{
			BusinessID:  business.ID,
			Channel:     req.Channel,
			Direction:   core.DirectionOutbound,
			Status:      core.StatusFailed,
			ErrorReason: "consent_denied",
		}); logErr != nil {
			e.log.Error("append consent failure log", "contact_id", contact.ID, "error", logErr)
		}
		return nil, err
	}

	estimate := e.pricing.Estimate(req.Channel, 1)
	if err := e.store.Deduct(ctx, business.ID, estimate, "direct send"); err != nil {
		if errors.Is(err, core.ErrInsufficientCredit) {
			metrics.DispatchTotal.WithLabelValues("insufficient_credit").Inc()
		}
		return nil, err
	}

	msg, err := e.SendToContact(ctx, SingleSend{
		Business: business,
		Contact:  contact,
		Channel:  req.Channel,
		Template: tmpl,
		Content:  req.Content,
	})
	if err != nil {
		if refundErr := e.store.Refund(ctx, business.ID, estimate, "failed direct send"); refundErr != nil {
			e.log.Error("refund after failed direct send", "business_id", business.ID, "error", refundErr)
		}
		metrics.DispatchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.DispatchTotal.WithLabelValues("direct").Inc()
	return &SendResult{MessageIDs: []string{msg.ID}}, nil
}

func (e *Engine) sendCampaign(ctx context.Context, business *core.Business, req SendRequest, audience []core.Contact) (*SendResult, error) {
	estimate := e.pricing.Estimate(req.Channel, len(audience))
	if err := e.store.Deduct(ctx, business.ID, estimate, "campaign estimate"); err != nil {
		if errors.Is(err, core.ErrInsufficientCredit) {
			metrics.DispatchTotal.WithLabelValues("insufficient_credit").Inc()
		}
		return nil, err
	}

	audienceType := req.Audience
	if audienceType == "" {
		audienceType = core.AudienceContactIDs
	}
	campaign := &core.Campaign{
		BusinessID:    business.ID,
		Channel:       req.Channel,
		AudienceType:  audienceType,
		AudienceSize:  len(audience),
		TemplateID:    req.TemplateID,
		Content:       req.Content,
		EstimatedCost: estimate,
		Status:        core.CampaignProcessing,
	}
	if err := e.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, err
	}

	contactIDs := make([]string, len(audience))
	for i, c := range audience {
		contactIDs[i] = c.ID
	}
	for start := 0; start < len(contactIDs); start += e.shardSize {
		end := min(start+e.shardSize, len(contactIDs))
		job := queue.CampaignJob{
			CampaignID: campaign.ID,
			BusinessID: business.ID,
			Channel:    req.Channel,
			ContactIDs: contactIDs[start:end],
			TemplateID: req.TemplateID,
			Content:    req.Content,
		}
		if err := e.queue.PublishCampaignJob(ctx, job); err != nil {
			return nil, fmt.Errorf("enqueue campaign %s: %w", campaign.ID, err)
		}
	}

	e.log.Info("campaign queued",
		"campaign_id", campaign.ID, "business_id", business.ID,
		"channel", req.Channel, "audience_size", len(audience), "estimated_cost", estimate)
	metrics.DispatchTotal.WithLabelValues("campaign").Inc()
	return &SendResult{CampaignID: campaign.ID}, nil
}

// SingleSend is the input to the single-send primitive shared by the direct
// path, the batch worker and the inbox reply.
type SingleSend struct {
	Business *core.Business
	Contact  *core.Contact
	Channel  core.Channel
	Template *core.Template
	Content  string
	// CampaignID links the resulting message and derives the idempotency
	// key guarding crash-redelivery double sends.
	CampaignID string
	// ThreadID pins the message to an existing thread; when empty the
	// (business, contact, channel) thread is found or created.
	ThreadID string
}

// IdempotencyKey returns the stable key for a (campaign, contact) attempt,
// or "" for uncorrelated sends.
func (s SingleSend) IdempotencyKey() string {
	if s.CampaignID == "" {
		return ""
	}
	return s.CampaignID + ":" + s.Contact.ID
}

// SendToContact validates consent, renders the body, calls the channel
// adapter and persists the Message plus one MessageLog entry. On failure a
// FAILED log entry is written, no Message row is created, and the error
// propagates for the caller to count.
func (e *Engine) SendToContact(ctx context.Context, in SingleSend) (*core.Message, error) {
	fail := func(reason string) {
		logErr := e.store.AppendMessageLog(ctx, &core.MessageLog{
			BusinessID:     in.Business.ID,
			Channel:        in.Channel,
			Direction:      core.DirectionOutbound,
			Status:         core.StatusFailed,
			ErrorReason:    reason,
			IdempotencyKey: in.IdempotencyKey(),
		})
		if logErr != nil {
			e.log.Error("append failure log", "contact_id", in.Contact.ID, "error", logErr)
		}
	}

	if err := compliance.ValidateConsent(in.Contact, in.Channel); err != nil {
		fail("consent_denied")
		return nil, err
	}

	body := in.Content
	if in.Template != nil {
		body = in.Template.Content
	}
	body = template.Render(body, map[string]string{
		"Name":  in.Contact.Name,
		"Phone": in.Contact.Phone,
		"Email": in.Contact.Email,
	})

	to := in.Contact.Address(in.Channel)
	if to == "" {
		reason := fmt.Sprintf("contact has no %s address", in.Channel)
		fail(reason)
		return nil, &core.TransportError{Channel: in.Channel, Err: errors.New(reason)}
	}

	adapter, ok := e.adapters.Get(in.Channel)
	if !ok {
		fail("no adapter registered")
		return nil, &core.TransportError{Channel: in.Channel, Err: fmt.Errorf("no adapter registered for %s", in.Channel)}
	}
	from := e.senderIdentity(ctx, in.Business, in.Channel)

	start := time.Now()
	providerID, err := adapter.Send(ctx, from, to, body)
	metrics.AdapterSendDuration.WithLabelValues(string(in.Channel)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AdapterSendTotal.WithLabelValues(string(in.Channel), "failed").Inc()
		fail(err.Error())
		return nil, &core.TransportError{Channel: in.Channel, Err: err}
	}
	metrics.AdapterSendTotal.WithLabelValues(string(in.Channel), "sent").Inc()

	threadID := in.ThreadID
	if threadID == "" {
		thread, err := e.store.FindOrCreateThread(ctx, in.Business.ID, in.Contact.ID, in.Channel)
		if err != nil {
			e.log.Error("thread lookup for outbound send", "contact_id", in.Contact.ID, "error", err)
		} else {
			threadID = thread.ID
		}
	}
	if threadID != "" {
		if err := e.store.TouchThread(ctx, threadID, time.Now().UTC()); err != nil {
			e.log.Error("touch thread", "thread_id", threadID, "error", err)
		}
	}

	msg := &core.Message{
		BusinessID:        in.Business.ID,
		ContactID:         in.Contact.ID,
		ThreadID:          threadID,
		CampaignID:        in.CampaignID,
		Direction:         core.DirectionOutbound,
		Channel:           in.Channel,
		Body:              body,
		Status:            core.StatusSent,
		ProviderMessageID: providerID,
	}
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := e.store.AppendMessageLog(ctx, &core.MessageLog{
		BusinessID:        in.Business.ID,
		MessageID:         msg.ID,
		Channel:           in.Channel,
		Direction:         core.DirectionOutbound,
		Status:            core.StatusSent,
		IdempotencyKey:    in.IdempotencyKey(),
		ProviderMessageID: providerID,
	}); err != nil {
		e.log.Error("append send log", "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

func (e *Engine) senderIdentity(ctx context.Context, business *core.Business, ch core.Channel) string {
	identity, err := e.store.IdentityForBusiness(ctx, business.ID, ch)
	if err == nil && identity != "" {
		return identity
	}
	return business.Name
}
