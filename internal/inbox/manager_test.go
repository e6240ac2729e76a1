package inbox_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Synergyfy/latap-messaging/internal/channel"
	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/credit"
	"github.com/Synergyfy/latap-messaging/internal/dispatch"
	"github.com/Synergyfy/latap-messaging/internal/inbox"
	"github.com/Synergyfy/latap-messaging/internal/queue"
	"github.com/Synergyfy/latap-messaging/internal/store"
)

func newManager(t *testing.T) (*inbox.Manager, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	adapters := channel.NewRegistry()
	adapters.MustRegister(channel.NewSMS(channel.GatewayConfig{})) // simulated sends
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := dispatch.NewEngine(st, credit.NewPricing(nil), adapters, queue.NewMemory(), log, dispatch.Options{})
	return inbox.NewManager(st, eng, log), st
}

func seed(t *testing.T, st *store.Memory) (*core.Business, *core.Contact, *core.Thread) {
	t.Helper()
	ctx := context.Background()
	b := &core.Business{Name: "acme", CreditBalance: 100}
	require.NoError(t, st.CreateBusiness(ctx, b))
	c := &core.Contact{BusinessID: b.ID, Name: "ada", Phone: "+49151", OptInChannels: []core.Channel{core.ChannelSMS}}
	require.NoError(t, st.CreateContact(ctx, c))
	th, err := st.FindOrCreateThread(ctx, b.ID, c.ID, core.ChannelSMS)
	require.NoError(t, err)
	return b, c, th
}

func TestSendReplyAppendsToThread(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	b, c, th := seed(t, st)

	msg, err := m.SendReply(ctx, b.ID, th.ID, "on our way")
	require.NoError(t, err)
	require.Equal(t, th.ID, msg.ThreadID)
	require.Equal(t, c.ID, msg.ContactID)
	require.Equal(t, core.DirectionOutbound, msg.Direction)

	msgs, err := m.ThreadMessages(ctx, b.ID, th.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "on our way", msgs[0].Body)
}

func TestSendReplyUnknownThread(t *testing.T) {
	m, st := newManager(t)
	b, _, _ := seed(t, st)

	_, err := m.SendReply(context.Background(), b.ID, "nope", "hi")
	require.ErrorIs(t, err, core.ErrThreadNotFound)
}

func TestSendReplyWrongBusiness(t *testing.T) {
	m, st := newManager(t)
	_, _, th := seed(t, st)

	_, err := m.SendReply(context.Background(), "other-biz", th.ID, "hi")
	require.ErrorIs(t, err, core.ErrThreadNotFound)
}

func TestSendReplyReopensClosedThread(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	b, _, th := seed(t, st)

	// Age the thread past the cutoff and close it.
	require.NoError(t, st.TouchThread(ctx, th.ID, time.Now().UTC().AddDate(0, 0, -40)))
	n, err := m.CloseInactive(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got, err := st.GetThread(ctx, b.ID, th.ID)
	require.NoError(t, err)
	require.Equal(t, core.ThreadClosed, got.Status)

	_, err = m.SendReply(ctx, b.ID, th.ID, "still there?")
	require.NoError(t, err)

	got, err = st.GetThread(ctx, b.ID, th.ID)
	require.NoError(t, err)
	require.Equal(t, core.ThreadOpen, got.Status)
}

func TestCloseInactiveLeavesActiveThreads(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	seed(t, st)

	n, err := m.CloseInactive(ctx, 30)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestThreadsSortedByActivity(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	b, _, th1 := seed(t, st)
	c2 := &core.Contact{BusinessID: b.ID, Name: "bob", Phone: "+49152", OptInChannels: []core.Channel{core.ChannelSMS}}
	require.NoError(t, st.CreateContact(ctx, c2))
	th2, err := st.FindOrCreateThread(ctx, b.ID, c2.ID, core.ChannelSMS)
	require.NoError(t, err)

	require.NoError(t, st.TouchThread(ctx, th1.ID, time.Now().UTC().Add(-time.Hour)))
	require.NoError(t, st.TouchThread(ctx, th2.ID, time.Now().UTC()))

	threads, err := m.Threads(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	require.Equal(t, th2.ID, threads[0].ID)
}
