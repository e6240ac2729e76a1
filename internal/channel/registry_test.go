package channel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Synergyfy/latap-messaging/internal/channel"
	"github.com/Synergyfy/latap-messaging/internal/core"
)

type stubAdapter struct{ ch core.Channel }

func (s stubAdapter) Channel() core.Channel { return s.ch }
func (s stubAdapter) Send(context.Context, string, string, string) (string, error) {
	return "id", nil
}

func TestRegisterAndGet(t *testing.T) {
	r := channel.NewRegistry()
	require.NoError(t, r.Register(stubAdapter{ch: core.ChannelSMS}))

	a, ok := r.Get(core.ChannelSMS)
	require.True(t, ok)
	require.Equal(t, core.ChannelSMS, a.Channel())

	_, ok = r.Get(core.ChannelEmail)
	require.False(t, ok)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := channel.NewRegistry()
	require.NoError(t, r.Register(stubAdapter{ch: core.ChannelSMS}))
	require.Error(t, r.Register(stubAdapter{ch: core.ChannelSMS}))
}

func TestRegisterUnknownChannelFails(t *testing.T) {
	r := channel.NewRegistry()
	require.Error(t, r.Register(stubAdapter{ch: core.Channel("FAX")}))
}

func TestSimulatedSendWithoutBaseURL(t *testing.T) {
	a := channel.NewSMS(channel.GatewayConfig{})
	id, err := a.Send(context.Background(), "sender", "+49151", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, id)
}
