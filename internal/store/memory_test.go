package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/store"
)

func TestDeductNeverOverdraws(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	b := &core.Business{Name: "acme", CreditBalance: 10}
	require.NoError(t, st.CreateBusiness(ctx, b))

	// 50 workers racing to take 1 credit each from a balance of 10.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = st.Deduct(ctx, b.ID, 1, "race")
		}()
	}
	wg.Wait()

	bal, err := st.Balance(ctx, b.ID)
	require.NoError(t, err)
	require.Zero(t, bal)
}

func TestDeductInsufficient(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	b := &core.Business{Name: "acme", CreditBalance: 3}
	require.NoError(t, st.CreateBusiness(ctx, b))

	require.ErrorIs(t, st.Deduct(ctx, b.ID, 5, "too much"), core.ErrInsufficientCredit)
	bal, err := st.Balance(ctx, b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, bal)
}

func TestTopUpRefundDeduct(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	b := &core.Business{Name: "acme"}
	require.NoError(t, st.CreateBusiness(ctx, b))

	require.NoError(t, st.TopUp(ctx, b.ID, 100))
	require.NoError(t, st.Deduct(ctx, b.ID, 30, "campaign"))
	require.NoError(t, st.Refund(ctx, b.ID, 10, "partial failure"))

	bal, err := st.Balance(ctx, b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 80, bal)
}

func TestFindOrCreateThreadUnique(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	th1, err := st.FindOrCreateThread(ctx, "b1", "c1", core.ChannelSMS)
	require.NoError(t, err)
	th2, err := st.FindOrCreateThread(ctx, "b1", "c1", core.ChannelSMS)
	require.NoError(t, err)
	require.Equal(t, th1.ID, th2.ID)

	// A different channel is a different thread.
	th3, err := st.FindOrCreateThread(ctx, "b1", "c1", core.ChannelWhatsApp)
	require.NoError(t, err)
	require.NotEqual(t, th1.ID, th3.ID)
}

func TestTemplateUniquePerNameAndChannel(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, st.CreateTemplate(ctx, &core.Template{BusinessID: "b1", Channel: core.ChannelSMS, Name: "promo", Content: "x"}))
	err := st.CreateTemplate(ctx, &core.Template{BusinessID: "b1", Channel: core.ChannelSMS, Name: "promo", Content: "y"})
	require.ErrorIs(t, err, core.ErrConflict)

	// Same name on another channel is allowed.
	require.NoError(t, st.CreateTemplate(ctx, &core.Template{BusinessID: "b1", Channel: core.ChannelEmail, Name: "promo", Content: "x"}))
}

func TestRouteLookupBothDirections(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, st.ProvisionRoute(ctx, &core.ChannelRoute{Channel: core.ChannelSMS, Identity: "+4930999", BusinessID: "b1"}))

	biz, err := st.BusinessForIdentity(ctx, core.ChannelSMS, "+4930999")
	require.NoError(t, err)
	require.Equal(t, "b1", biz)

	identity, err := st.IdentityForBusiness(ctx, "b1", core.ChannelSMS)
	require.NoError(t, err)
	require.Equal(t, "+4930999", identity)

	_, err = st.BusinessForIdentity(ctx, core.ChannelSMS, "+000")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestMessageLogKeyLookup(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, st.AppendMessageLog(ctx, &core.MessageLog{
		BusinessID:     "b1",
		Channel:        core.ChannelSMS,
		Direction:      core.DirectionOutbound,
		Status:         core.StatusSent,
		IdempotencyKey: "camp:contact",
	}))

	l, err := st.GetMessageLogByKey(ctx, "camp:contact")
	require.NoError(t, err)
	require.Equal(t, core.StatusSent, l.Status)

	_, err = st.GetMessageLogByKey(ctx, "")
	require.ErrorIs(t, err, core.ErrNotFound)
}
