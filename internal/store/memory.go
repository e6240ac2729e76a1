package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Synergyfy/latap-messaging/internal/core"
)

// Memory is a mutex-guarded in-memory Store. It backs unit tests and the
// dev backend; semantics mirror the Postgres implementation, including the
// no-overdraw guarantee on Deduct.
type Memory struct {
	mu sync.Mutex

	businesses map[string]*core.Business
	contacts   map[string]*core.Contact
	messages   map[string]*core.Message
	logs       []*core.MessageLog
	campaigns  map[string]*core.Campaign
	threads    map[string]*core.Thread
	templates  map[string]*core.Template
	routes     map[string]string // channel|identity -> business id
	credits    []*core.CreditTransaction
}

func NewMemory() *Memory {
	return &Memory{
		businesses: map[string]*core.Business{},
		contacts:   map[string]*core.Contact{},
		messages:   map[string]*core.Message{},
		campaigns:  map[string]*core.Campaign{},
		threads:    map[string]*core.Thread{},
		templates:  map[string]*core.Template{},
		routes:     map[string]string{},
	}
}

func routeKey(ch core.Channel, identity string) string { return string(ch) + "|" + identity }

// --- businesses & credit ---

func (m *Memory) CreateBusiness(_ context.Context, b *core.Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	cp := *b
	m.businesses[b.ID] = &cp
	return nil
}

func (m *Memory) GetBusiness(_ context.Context, id string) (*core.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, core.ErrBusinessNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) Deduct(_ context.Context, businessID string, amount int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[businessID]
	if !ok {
		return core.ErrBusinessNotFound
	}
	if b.CreditBalance < amount {
		return core.ErrInsufficientCredit
	}
	b.CreditBalance -= amount
	m.credits = append(m.credits, &core.CreditTransaction{
		ID: uuid.NewString(), BusinessID: businessID, Kind: "debit",
		Amount: amount, Reason: reason, CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *Memory) Refund(_ context.Context, businessID string, amount int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[businessID]
	if !ok {
		return core.ErrBusinessNotFound
	}
	b.CreditBalance += amount
	m.credits = append(m.credits, &core.CreditTransaction{
		ID: uuid.NewString(), BusinessID: businessID, Kind: "refund",
		Amount: amount, Reason: reason, CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *Memory) TopUp(_ context.Context, businessID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[businessID]
	if !ok {
		return core.ErrBusinessNotFound
	}
	b.CreditBalance += amount
	m.credits = append(m.credits, &core.CreditTransaction{
		ID: uuid.NewString(), BusinessID: businessID, Kind: "topup",
		Amount: amount, CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *Memory) Balance(_ context.Context, businessID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[businessID]
	if !ok {
		return 0, core.ErrBusinessNotFound
	}
	return b.CreditBalance, nil
}

// --- contacts ---

func (m *Memory) CreateContact(_ context.Context, c *core.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *Memory) GetContact(_ context.Context, businessID, id string) (*core.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.BusinessID != businessID {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetContactsByIDs(_ context.Context, businessID string, ids []string) ([]core.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Contact
	for _, id := range ids {
		if c, ok := m.contacts[id]; ok && c.BusinessID == businessID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *Memory) ListContacts(_ context.Context, businessID string) ([]core.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Contact
	for _, c := range m.contacts {
		if c.BusinessID == businessID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) FindContactByAddress(_ context.Context, businessID string, ch core.Channel, address string) (*core.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.BusinessID != businessID {
			continue
		}
		if c.Address(ch) == address {
			cp := *c
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *Memory) UpdateContactConsent(_ context.Context, c *core.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.contacts[c.ID]
	if !ok {
		return core.ErrNotFound
	}
	cur.OptOut = c.OptOut
	cur.OptInChannels = append([]core.Channel(nil), c.OptInChannels...)
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

// --- messages & logs ---

func (m *Memory) CreateMessage(_ context.Context, msg *core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) GetMessage(_ context.Context, businessID, id string) (*core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.BusinessID != businessID {
		return nil, core.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) GetMessageByProviderID(_ context.Context, providerID string) (*core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ProviderMessageID != "" && msg.ProviderMessageID == providerID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *Memory) UpdateMessageStatus(_ context.Context, id string, st core.MessageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return core.ErrNotFound
	}
	msg.Status = st
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ListThreadMessages(_ context.Context, businessID, threadID string) ([]core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Message
	for _, msg := range m.messages {
		if msg.BusinessID == businessID && msg.ThreadID == threadID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AppendMessageLog(_ context.Context, l *core.MessageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	cp := *l
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *Memory) GetMessageLogByKey(_ context.Context, idempotencyKey string) (*core.MessageLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idempotencyKey == "" {
		return nil, core.ErrNotFound
	}
	for _, l := range m.logs {
		if l.IdempotencyKey == idempotencyKey {
			cp := *l
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *Memory) UpdateMessageLogStatus(_ context.Context, providerMessageID string, st core.MessageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.ProviderMessageID != "" && l.ProviderMessageID == providerMessageID {
			l.Status = st
			return nil
		}
	}
	return core.ErrNotFound
}

// MessageLogs returns a copy of every log entry, oldest first. Test helper.
func (m *Memory) MessageLogs() []core.MessageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.MessageLog, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, *l)
	}
	return out
}

// --- campaigns ---

func (m *Memory) CreateCampaign(_ context.Context, c *core.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *Memory) GetCampaign(_ context.Context, businessID, id string) (*core.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.BusinessID != businessID {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) FinalizeCampaign(_ context.Context, id string, st core.CampaignStatus, actualCost int64, sentAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return core.ErrNotFound
	}
	c.Status = st
	c.ActualCost = actualCost
	c.SentAt = sentAt
	return nil
}

func (m *Memory) CampaignMessageStats(_ context.Context, campaignID string) (map[core.MessageStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := map[core.MessageStatus]int{}
	for _, msg := range m.messages {
		if msg.CampaignID == campaignID {
			stats[msg.Status]++
		}
	}
	return stats, nil
}

// --- threads ---

func (m *Memory) GetThread(_ context.Context, businessID, id string) (*core.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok || t.BusinessID != businessID {
		return nil, core.ErrThreadNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) FindOrCreateThread(_ context.Context, businessID, contactID string, ch core.Channel) (*core.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.threads {
		if t.BusinessID == businessID && t.ContactID == contactID && t.Channel == ch {
			cp := *t
			return &cp, nil
		}
	}
	now := time.Now().UTC()
	t := &core.Thread{
		ID:             uuid.NewString(),
		BusinessID:     businessID,
		ContactID:      contactID,
		Channel:        ch,
		Status:         core.ThreadOpen,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	m.threads[t.ID] = t
	cp := *t
	return &cp, nil
}

func (m *Memory) TouchThread(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return core.ErrThreadNotFound
	}
	t.Status = core.ThreadOpen
	t.LastActivityAt = at
	return nil
}

func (m *Memory) ListThreads(_ context.Context, businessID string) ([]core.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Thread
	for _, t := range m.threads {
		if t.BusinessID == businessID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	return out, nil
}

func (m *Memory) CloseInactiveThreads(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.threads {
		if t.Status != core.ThreadClosed && t.LastActivityAt.Before(cutoff) {
			t.Status = core.ThreadClosed
			n++
		}
	}
	return n, nil
}

// --- templates ---

func (m *Memory) CreateTemplate(_ context.Context, t *core.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.templates {
		if cur.BusinessID == t.BusinessID && cur.Name == t.Name && cur.Channel == t.Channel {
			return core.ErrConflict
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	m.templates[t.ID] = &cp
	return nil
}

func (m *Memory) GetTemplate(_ context.Context, businessID, id string) (*core.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok || t.BusinessID != businessID {
		return nil, core.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// --- routing ---

func (m *Memory) ProvisionRoute(_ context.Context, r *core.ChannelRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := routeKey(r.Channel, r.Identity)
	if _, exists := m.routes[key]; exists {
		return core.ErrConflict
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.routes[key] = r.BusinessID
	return nil
}

func (m *Memory) BusinessForIdentity(_ context.Context, ch core.Channel, identity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.routes[routeKey(ch, identity)]
	if !ok {
		return "", core.ErrNotFound
	}
	return id, nil
}

func (m *Memory) IdentityForBusiness(_ context.Context, businessID string, ch core.Channel) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := string(ch) + "|"
	for key, id := range m.routes {
		if id == businessID && len(key) > len(prefix) && key[:len(prefix)] == prefix {
			return key[len(prefix):], nil
		}
	}
	return "", core.ErrNotFound
}

var _ Store = (*Memory)(nil)
