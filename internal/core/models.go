// Package core holds the domain model shared by the dispatch engine,
// batch worker and inbox: channels, message lifecycle, campaigns,
// conversation threads and the error taxonomy.
package core

import (
	"time"
)

// Channel is one communication medium.
type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelEmail    Channel = "EMAIL"
)

// Channels lists every supported channel.
func Channels() []Channel {
	return []Channel{ChannelSMS, ChannelWhatsApp, ChannelEmail}
}

// ParseChannel normalizes a wire value into a Channel.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelSMS, ChannelWhatsApp, ChannelEmail:
		return Channel(s), true
	}
	return "", false
}

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "PENDING"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusFailed    MessageStatus = "FAILED"
	StatusRejected  MessageStatus = "REJECTED"
)

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "DRAFT"
	CampaignProcessing CampaignStatus = "PROCESSING"
	CampaignSent       CampaignStatus = "SENT"
	CampaignFailed     CampaignStatus = "FAILED"
)

type ThreadStatus string

const (
	ThreadOpen     ThreadStatus = "OPEN"
	ThreadClosed   ThreadStatus = "CLOSED"
	ThreadResolved ThreadStatus = "RESOLVED"
)

// AudienceType selects the audience resolution strategy. Resolution is an
// explicit choice: a request for AudienceContactIDs with no ids is invalid
// rather than an implicit mass-send.
type AudienceType string

const (
	AudienceContactIDs  AudienceType = "contact_ids"
	AudienceAllContacts AudienceType = "all_contacts"
)

// Business is the tenant aggregate. CreditBalance is only ever mutated
// through the credit ledger's lock-then-verify transaction.
type Business struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CreditBalance int64     `json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
}

// Contact is an addressable party owned by exactly one business.
// Contacts are never hard-deleted; opt-out events mutate consent only.
type Contact struct {
	ID            string    `json:"id"`
	BusinessID    string    `json:"business_id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	Email         string    `json:"email,omitempty"`
	OptInChannels []Channel `json:"opt_in_channels"`
	OptOut        bool      `json:"opt_out"`
	Tags          []string  `json:"tags,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OptedIn reports whether the contact consented to the given channel.
func (c *Contact) OptedIn(ch Channel) bool {
	if c.OptOut {
		return false
	}
	for _, o := range c.OptInChannels {
		if o == ch {
			return true
		}
	}
	return false
}

// Address returns the contact's identity on the given channel.
func (c *Contact) Address(ch Channel) string {
	if ch == ChannelEmail {
		return c.Email
	}
	return c.Phone
}

// Message is one unit of communication. Immutable once terminal except for
// the status field, which delivery callbacks may still advance.
type Message struct {
	ID                string        `json:"id"`
	BusinessID        string        `json:"business_id"`
	ContactID         string        `json:"contact_id,omitempty"`
	ThreadID          string        `json:"thread_id,omitempty"`
	CampaignID        string        `json:"campaign_id,omitempty"`
	Direction         Direction     `json:"direction"`
	Channel           Channel       `json:"channel"`
	Body              string        `json:"body"`
	Status            MessageStatus `json:"status"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// MessageLog is an append-only audit record per send attempt. It is written
// even when the attempt fails before a Message row exists, and is never
// mutated apart from delivery-status correlation on its Status field.
type MessageLog struct {
	ID                string        `json:"id"`
	BusinessID        string        `json:"business_id"`
	MessageID         string        `json:"message_id,omitempty"`
	Channel           Channel       `json:"channel"`
	Direction         Direction     `json:"direction"`
	Status            MessageStatus `json:"status"`
	ErrorReason       string        `json:"error_reason,omitempty"`
	IdempotencyKey    string        `json:"idempotency_key,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Campaign tracks a multi-recipient send. EstimatedCost is debited up front;
// ActualCost is recomputed from successful sends by the batch worker, which
// is the only writer of the terminal status.
type Campaign struct {
	ID            string         `json:"id"`
	BusinessID    string         `json:"business_id"`
	Channel       Channel        `json:"channel"`
	AudienceType  AudienceType   `json:"audience_type"`
	AudienceSize  int            `json:"audience_size"`
	TemplateID    string         `json:"template_id,omitempty"`
	Content       string         `json:"content,omitempty"`
	EstimatedCost int64          `json:"estimated_cost"`
	ActualCost    int64          `json:"actual_cost"`
	Status        CampaignStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
}

// Thread is the unique conversation for a (business, contact, channel)
// triple. Any inbound or outbound touch reopens it.
type Thread struct {
	ID             string       `json:"id"`
	BusinessID     string       `json:"business_id"`
	ContactID      string       `json:"contact_id"`
	Channel        Channel      `json:"channel"`
	Status         ThreadStatus `json:"status"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Template is an immutable named message body with {Token} placeholders,
// unique per (business, name, channel).
type Template struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Channel    Channel   `json:"channel"`
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChannelRoute maps a receiving channel identity (sender number, inbox
// address) to the owning business. Populated at provisioning time; inbound
// events with no route are dropped, never guessed.
type ChannelRoute struct {
	Channel    Channel   `json:"channel"`
	Identity   string    `json:"identity"`
	BusinessID string    `json:"business_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreditTransaction is the append-only record behind every balance change.
type CreditTransaction struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Kind       string    `json:"kind"` // topup | debit | refund
	Amount     int64     `json:"amount"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
