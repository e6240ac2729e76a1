// Package inbox exposes conversation threads: one per
// (business, contact, channel), carrying both directions of traffic.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/dispatch"
	"github.com/Synergyfy/latap-messaging/internal/metrics"
	"github.com/Synergyfy/latap-messaging/internal/store"
)

type Manager struct {
	store  store.Store
	engine *dispatch.Engine
	log    *slog.Logger
}

func NewManager(st store.Store, engine *dispatch.Engine, log *slog.Logger) *Manager {
	return &Manager{store: st, engine: engine, log: log}
}

// Threads lists a business's threads, most recently active first.
func (m *Manager) Threads(ctx context.Context, businessID string) ([]core.Thread, error) {
	return m.store.ListThreads(ctx, businessID)
}

// ThreadMessages returns a thread's messages in chronological order.
func (m *Manager) ThreadMessages(ctx context.Context, businessID, threadID string) ([]core.Message, error) {
	if _, err := m.store.GetThread(ctx, businessID, threadID); err != nil {
		return nil, err
	}
	return m.store.ListThreadMessages(ctx, businessID, threadID)
}

// SendReply sends an agent reply into an existing thread on the thread's
// channel. A closed thread is reopened by the activity touch that the send
// performs.
func (m *Manager) SendReply(ctx context.Context, businessID, threadID, content string) (*core.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("reply content is required")
	}
	thread, err := m.store.GetThread(ctx, businessID, threadID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	business, err := m.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	contact, err := m.store.GetContact(ctx, businessID, thread.ContactID)
	if err != nil {
		return nil, err
	}
	return m.engine.SendToContact(ctx, dispatch.SingleSend{
		Business: business,
		Contact:  contact,
		Channel:  thread.Channel,
		Content:  content,
		ThreadID: thread.ID,
	})
}

// CloseInactive closes threads with no activity for the given number of
// days. Run from the maintenance cron.
func (m *Manager) CloseInactive(ctx context.Context, inactiveDays int) (int, error) {
	if inactiveDays <= 0 {
		inactiveDays = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -inactiveDays)
	n, err := m.store.CloseInactiveThreads(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ThreadsClosedTotal.Add(float64(n))
		m.log.Info("closed inactive threads", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
