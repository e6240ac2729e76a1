// Package store is the persistence layer behind the dispatch engine, batch
// worker and inbox. Two implementations exist: Postgres (pgx) for
// production and Memory for unit tests and single-process development.
package store

import (
	"context"
	"time"

	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/credit"
)

// Store is the full repository surface. Components should accept the
// narrowest slice they need; this interface is what the two backends
// implement in full.
type Store interface {
	// Businesses and the credit ledger. Deduct is the lock-then-verify
	// transaction described in the credit package; the balance never goes
	// negative.
	CreateBusiness(ctx context.Context, b *core.Business) error
	GetBusiness(ctx context.Context, id string) (*core.Business, error)
	Deduct(ctx context.Context, businessID string, amount int64, reason string) error
	Refund(ctx context.Context, businessID string, amount int64, reason string) error
	TopUp(ctx context.Context, businessID string, amount int64) error
	Balance(ctx context.Context, businessID string) (int64, error)

	// Contacts. Soft lifecycle only: consent mutations, never deletion.
	CreateContact(ctx context.Context, c *core.Contact) error
	GetContact(ctx context.Context, businessID, id string) (*core.Contact, error)
	GetContactsByIDs(ctx context.Context, businessID string, ids []string) ([]core.Contact, error)
	ListContacts(ctx context.Context, businessID string) ([]core.Contact, error)
	FindContactByAddress(ctx context.Context, businessID string, ch core.Channel, address string) (*core.Contact, error)
	UpdateContactConsent(ctx context.Context, c *core.Contact) error

	// Messages and the append-only attempt log.
	CreateMessage(ctx context.Context, m *core.Message) error
	GetMessage(ctx context.Context, businessID, id string) (*core.Message, error)
	GetMessageByProviderID(ctx context.Context, providerID string) (*core.Message, error)
	UpdateMessageStatus(ctx context.Context, id string, st core.MessageStatus) error
	ListThreadMessages(ctx context.Context, businessID, threadID string) ([]core.Message, error)
	AppendMessageLog(ctx context.Context, l *core.MessageLog) error
	GetMessageLogByKey(ctx context.Context, idempotencyKey string) (*core.MessageLog, error)
	UpdateMessageLogStatus(ctx context.Context, providerMessageID string, st core.MessageStatus) error

	// Campaigns. FinalizeCampaign records the terminal status and actual
	// cost; repeat calls with the same values converge, so sharded jobs may
	// each finalize.
	CreateCampaign(ctx context.Context, c *core.Campaign) error
	GetCampaign(ctx context.Context, businessID, id string) (*core.Campaign, error)
	FinalizeCampaign(ctx context.Context, id string, st core.CampaignStatus, actualCost int64, sentAt *time.Time) error
	CampaignMessageStats(ctx context.Context, campaignID string) (map[core.MessageStatus]int, error)

	// Threads. FindOrCreateThread upholds the one-thread-per
	// (business, contact, channel) invariant.
	GetThread(ctx context.Context, businessID, id string) (*core.Thread, error)
	FindOrCreateThread(ctx context.Context, businessID, contactID string, ch core.Channel) (*core.Thread, error)
	TouchThread(ctx context.Context, id string, at time.Time) error
	ListThreads(ctx context.Context, businessID string) ([]core.Thread, error)
	CloseInactiveThreads(ctx context.Context, cutoff time.Time) (int, error)

	// Templates, unique per (business, name, channel).
	CreateTemplate(ctx context.Context, t *core.Template) error
	GetTemplate(ctx context.Context, businessID, id string) (*core.Template, error)

	// Inbound routing table, populated at channel provisioning time. The
	// same table answers both directions: owning business for a receiving
	// identity, and sender identity for an outbound business send.
	ProvisionRoute(ctx context.Context, r *core.ChannelRoute) error
	BusinessForIdentity(ctx context.Context, ch core.Channel, identity string) (string, error)
	IdentityForBusiness(ctx context.Context, businessID string, ch core.Channel) (string, error)
}

// Every Store is also the credit ledger.
var _ credit.Ledger = (Store)(nil)
