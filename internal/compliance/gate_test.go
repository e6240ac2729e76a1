package compliance_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Synergyfy/latap-messaging/internal/compliance"
	"github.com/Synergyfy/latap-messaging/internal/core"
)

func TestValidateConsent(t *testing.T) {
	c := &core.Contact{OptInChannels: []core.Channel{core.ChannelSMS}}

	require.NoError(t, compliance.ValidateConsent(c, core.ChannelSMS))
	require.ErrorIs(t, compliance.ValidateConsent(c, core.ChannelEmail), core.ErrConsentDenied)
}

func TestGlobalOptOutWinsOverChannelOptIn(t *testing.T) {
	c := &core.Contact{
		OptOut:        true,
		OptInChannels: []core.Channel{core.ChannelSMS, core.ChannelWhatsApp},
	}
	require.ErrorIs(t, compliance.ValidateConsent(c, core.ChannelSMS), core.ErrConsentDenied)
}

func TestOptOutIsIdempotent(t *testing.T) {
	c := &core.Contact{OptInChannels: []core.Channel{core.ChannelSMS}}

	compliance.OptOut(c)
	require.True(t, c.OptOut)
	require.Empty(t, c.OptInChannels)

	compliance.OptOut(c)
	require.True(t, c.OptOut)
	require.Empty(t, c.OptInChannels)
}

func TestIsOptOutKeyword(t *testing.T) {
	require.True(t, compliance.IsOptOutKeyword("STOP"))
	require.True(t, compliance.IsOptOutKeyword("  stop \n"))
	require.True(t, compliance.IsOptOutKeyword("Unsubscribe"))
	require.False(t, compliance.IsOptOutKeyword("stop please"))
	require.False(t, compliance.IsOptOutKeyword("hello"))
}
