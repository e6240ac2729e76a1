package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Synergyfy/latap-messaging/internal/channel"
	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/credit"
	"github.com/Synergyfy/latap-messaging/internal/dispatch"
	"github.com/Synergyfy/latap-messaging/internal/queue"
	"github.com/Synergyfy/latap-messaging/internal/store"
)

type sentCall struct {
	From, To, Body string
}

// fakeAdapter records sends and fails for configured recipients.
type fakeAdapter struct {
	ch core.Channel

	mu     sync.Mutex
	sent   []sentCall
	failTo map[string]error
}

func newFakeAdapter(ch core.Channel) *fakeAdapter {
	return &fakeAdapter{ch: ch, failTo: map[string]error{}}
}

func (f *fakeAdapter) Channel() core.Channel { return f.ch }

func (f *fakeAdapter) Send(_ context.Context, from, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failTo[to]; ok {
		return "", err
	}
	f.sent = append(f.sent, sentCall{From: from, To: to, Body: body})
	return "prov-" + to, nil
}

func (f *fakeAdapter) calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, shard int) (*dispatch.Engine, *store.Memory, *queue.Memory, *fakeAdapter) {
	t.Helper()
	st := store.NewMemory()
	q := queue.NewMemory()
	sms := newFakeAdapter(core.ChannelSMS)
	adapters := channel.NewRegistry()
	adapters.MustRegister(sms)
	eng := dispatch.NewEngine(st, credit.NewPricing(nil), adapters, q, testLogger(), dispatch.Options{ShardSize: shard})
	return eng, st, q, sms
}

func seedBusiness(t *testing.T, st *store.Memory, balance int64) *core.Business {
	t.Helper()
	b := &core.Business{Name: "acme", CreditBalance: balance}
	require.NoError(t, st.CreateBusiness(context.Background(), b))
	return b
}

func seedContact(t *testing.T, st *store.Memory, businessID, phone string, channels ...core.Channel) *core.Contact {
	t.Helper()
	c := &core.Contact{
		BusinessID:    businessID,
		Name:          "contact " + phone,
		Phone:         phone,
		OptInChannels: channels,
	}
	require.NoError(t, st.CreateContact(context.Background(), c))
	return c
}

func balance(t *testing.T, st *store.Memory, businessID string) int64 {
	t.Helper()
	bal, err := st.Balance(context.Background(), businessID)
	require.NoError(t, err)
	return bal
}

func TestDirectSendForAudienceOfOne(t *testing.T) {
	eng, st, q, sms := newTestEngine(t, 0)
	ctx := context.Background()
	b := seedBusiness(t, st, 10)
	c := seedContact(t, st, b.ID, "+49151", core.ChannelSMS)

	res, err := eng.SendMessage(ctx, dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		ContactIDs: []string{c.ID},
		Content:    "hello {Name}",
	})
	require.NoError(t, err)
	require.Empty(t, res.CampaignID)
	require.Len(t, res.MessageIDs, 1)
	require.Empty(t, q.Jobs())

	// SMS rate is 2 credits.
	require.EqualValues(t, 8, balance(t, st, b.ID))

	calls := sms.calls()
	require.Len(t, calls, 1)
	require.Equal(t, "+49151", calls[0].To)
	require.Equal(t, "hello contact +49151", calls[0].Body)

	msg, err := st.GetMessage(ctx, b.ID, res.MessageIDs[0])
	require.NoError(t, err)
	require.Equal(t, core.StatusSent, msg.Status)
	require.Equal(t, "prov-+49151", msg.ProviderMessageID)
	require.NotEmpty(t, msg.ThreadID)

	threads, err := st.ListThreads(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Equal(t, msg.ThreadID, threads[0].ID)
}

func TestCampaignForAudienceOfMany(t *testing.T) {
	eng, st, q, sms := newTestEngine(t, 0)
	ctx := context.Background()
	b := seedBusiness(t, st, 100)
	ids := []string{
		seedContact(t, st, b.ID, "+1", core.ChannelSMS).ID,
		seedContact(t, st, b.ID, "+2", core.ChannelSMS).ID,
		seedContact(t, st, b.ID, "+3", core.ChannelSMS).ID,
	}

	res, err := eng.SendMessage(ctx, dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		Audience:   core.AudienceContactIDs,
		ContactIDs: ids,
		Content:    "sale",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.CampaignID)
	require.Empty(t, res.MessageIDs)

	// Estimate debited up front, nothing sent yet.
	require.EqualValues(t, 94, balance(t, st, b.ID))
	require.Empty(t, sms.calls())

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, res.CampaignID, jobs[0].CampaignID)
	require.ElementsMatch(t, ids, jobs[0].ContactIDs)

	campaign, err := st.GetCampaign(ctx, b.ID, res.CampaignID)
	require.NoError(t, err)
	require.Equal(t, core.CampaignProcessing, campaign.Status)
	require.EqualValues(t, 6, campaign.EstimatedCost)
	require.Equal(t, 3, campaign.AudienceSize)
}

func TestCampaignShardedIntoBoundedJobs(t *testing.T) {
	eng, st, q, _ := newTestEngine(t, 2)
	ctx := context.Background()
	b := seedBusiness(t, st, 100)
	var ids []string
	for _, p := range []string{"+1", "+2", "+3", "+4", "+5"} {
		ids = append(ids, seedContact(t, st, b.ID, p, core.ChannelSMS).ID)
	}

	res, err := eng.SendMessage(ctx, dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		Audience:   core.AudienceContactIDs,
		ContactIDs: ids,
		Content:    "x",
	})
	require.NoError(t, err)

	jobs := q.Jobs()
	require.Len(t, jobs, 3)
	require.Len(t, jobs[0].ContactIDs, 2)
	require.Len(t, jobs[1].ContactIDs, 2)
	require.Len(t, jobs[2].ContactIDs, 1)
	var all []string
	for _, j := range jobs {
		require.Equal(t, res.CampaignID, j.CampaignID)
		all = append(all, j.ContactIDs...)
	}
	require.ElementsMatch(t, ids, all)
}

func TestAllContactsAudience(t *testing.T) {
	eng, st, q, _ := newTestEngine(t, 0)
	ctx := context.Background()
	b := seedBusiness(t, st, 100)
	seedContact(t, st, b.ID, "+1", core.ChannelSMS)
	seedContact(t, st, b.ID, "+2", core.ChannelSMS)

	res, err := eng.SendMessage(ctx, dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		Audience:   core.AudienceAllContacts,
		Content:    "x",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.CampaignID)
	require.Len(t, q.Jobs(), 1)
	require.Len(t, q.Jobs()[0].ContactIDs, 2)
}

func TestMissingAudienceTypeIsNotMassSend(t *testing.T) {
	eng, st, _, _ := newTestEngine(t, 0)
	b := seedBusiness(t, st, 100)
	seedContact(t, st, b.ID, "+1", core.ChannelSMS)

	_, err := eng.SendMessage(context.Background(), dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		Content:    "x",
	})
	require.Error(t, err)
	require.EqualValues(t, 100, balance(t, st, b.ID))
}

func TestEmptyAudienceChargesNothing(t *testing.T) {
	eng, st, q, _ := newTestEngine(t, 0)
	b := seedBusiness(t, st, 100)

	_, err := eng.SendMessage(context.Background(), dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		Audience:   core.AudienceContactIDs,
		ContactIDs: []string{"ghost-1", "ghost-2"},
		Content:    "x",
	})
	require.ErrorIs(t, err, core.ErrEmptyAudience)
	require.EqualValues(t, 100, balance(t, st, b.ID))
	require.Empty(t, q.Jobs())
}

func TestUnknownContactIDsDropped(t *testing.T) {
	eng, st, _, sms := newTestEngine(t, 0)
	b := seedBusiness(t, st, 100)
	c := seedContact(t, st, b.ID, "+1", core.ChannelSMS)

	// One real id among ghosts resolves to an audience of one: direct send.
	res, err := eng.SendMessage(context.Background(), dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		Audience:   core.AudienceContactIDs,
		ContactIDs: []string{"ghost", c.ID, "ghost-2"},
		Content:    "x",
	})
	require.NoError(t, err)
	require.Len(t, res.MessageIDs, 1)
	require.Len(t, sms.calls(), 1)
}

func TestInsufficientCreditBlocksCampaign(t *testing.T) {
	eng, st, q, sms := newTestEngine(t, 0)
	b := seedBusiness(t, st, 5) // 3 SMS cost 6
	ids := []string{
		seedContact(t, st, b.ID, "+1", core.ChannelSMS).ID,
		seedContact(t, st, b.ID, "+2", core.ChannelSMS).ID,
		seedContact(t, st, b.ID, "+3", core.ChannelSMS).ID,
	}

	_, err := eng.SendMessage(context.Background(), dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		Audience:   core.AudienceContactIDs,
		ContactIDs: ids,
		Content:    "x",
	})
	require.ErrorIs(t, err, core.ErrInsufficientCredit)
	require.EqualValues(t, 5, balance(t, st, b.ID))
	require.Empty(t, q.Jobs())
	require.Empty(t, sms.calls())
}

func TestConsentDeniedDirectSendChargesNothing(t *testing.T) {
	eng, st, _, sms := newTestEngine(t, 0)
	b := seedBusiness(t, st, 10)
	c := seedContact(t, st, b.ID, "+1") // no channel opt-in

	_, err := eng.SendMessage(context.Background(), dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		ContactIDs: []string{c.ID},
		Content:    "x",
	})
	require.ErrorIs(t, err, core.ErrConsentDenied)
	require.EqualValues(t, 10, balance(t, st, b.ID))
	require.Empty(t, sms.calls())

	logs := st.MessageLogs()
	require.Len(t, logs, 1)
	require.Equal(t, core.StatusFailed, logs[0].Status)
	require.Equal(t, "consent_denied", logs[0].ErrorReason)
}

func TestFailedDirectSendRefunds(t *testing.T) {
	eng, st, _, sms := newTestEngine(t, 0)
	ctx := context.Background()
	b := seedBusiness(t, st, 10)
	c := seedContact(t, st, b.ID, "+1", core.ChannelSMS)
	sms.failTo["+1"] = errors.New("gateway 500")

	_, err := eng.SendMessage(ctx, dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		ContactIDs: []string{c.ID},
		Content:    "x",
	})
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	require.EqualValues(t, 10, balance(t, st, b.ID))

	logs := st.MessageLogs()
	require.Len(t, logs, 1)
	require.Equal(t, core.StatusFailed, logs[0].Status)
	require.Equal(t, "gateway 500", logs[0].ErrorReason)
	require.Empty(t, logs[0].MessageID)
}

func TestTemplateTakesPrecedenceAndRenders(t *testing.T) {
	eng, st, _, sms := newTestEngine(t, 0)
	ctx := context.Background()
	b := seedBusiness(t, st, 10)
	c := seedContact(t, st, b.ID, "+1", core.ChannelSMS)
	tmpl := &core.Template{BusinessID: b.ID, Channel: core.ChannelSMS, Name: "promo", Content: "Hi {Name}!"}
	require.NoError(t, st.CreateTemplate(ctx, tmpl))

	_, err := eng.SendMessage(ctx, dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		ContactIDs: []string{c.ID},
		TemplateID: tmpl.ID,
		Content:    "ignored fallback",
	})
	require.NoError(t, err)
	calls := sms.calls()
	require.Len(t, calls, 1)
	require.Equal(t, "Hi contact +1!", calls[0].Body)
}

func TestUnknownTemplateFailsBeforeDebit(t *testing.T) {
	eng, st, _, _ := newTestEngine(t, 0)
	b := seedBusiness(t, st, 10)
	c := seedContact(t, st, b.ID, "+1", core.ChannelSMS)

	_, err := eng.SendMessage(context.Background(), dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		ContactIDs: []string{c.ID},
		TemplateID: "missing",
	})
	require.ErrorIs(t, err, core.ErrNotFound)
	require.EqualValues(t, 10, balance(t, st, b.ID))
}

func TestSenderIdentityFromProvisionedRoute(t *testing.T) {
	eng, st, _, sms := newTestEngine(t, 0)
	ctx := context.Background()
	b := seedBusiness(t, st, 10)
	c := seedContact(t, st, b.ID, "+1", core.ChannelSMS)
	require.NoError(t, st.ProvisionRoute(ctx, &core.ChannelRoute{
		Channel: core.ChannelSMS, Identity: "+4930999", BusinessID: b.ID,
	}))

	_, err := eng.SendMessage(ctx, dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		ContactIDs: []string{c.ID},
		Content:    "x",
	})
	require.NoError(t, err)
	require.Equal(t, "+4930999", sms.calls()[0].From)
}

func TestContactWithoutAddressFailsTransport(t *testing.T) {
	eng, st, _, _ := newTestEngine(t, 0)
	ctx := context.Background()
	b := seedBusiness(t, st, 10)
	c := &core.Contact{BusinessID: b.ID, Name: "nophone", Email: "a@b.c", OptInChannels: []core.Channel{core.ChannelSMS}}
	require.NoError(t, st.CreateContact(ctx, c))

	_, err := eng.SendMessage(ctx, dispatch.SendRequest{
		BusinessID: b.ID,
		Channel:    core.ChannelSMS,
		ContactIDs: []string{c.ID},
		Content:    "x",
	})
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, core.ChannelSMS, te.Channel)
	// Debit was refunded after the transport failure.
	require.EqualValues(t, 10, balance(t, st, b.ID))
}
