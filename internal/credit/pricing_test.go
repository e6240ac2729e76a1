package credit_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Synergyfy/latap-messaging/internal/core"
	"github.com/Synergyfy/latap-messaging/internal/credit"
)

func TestDefaultRates(t *testing.T) {
	p := credit.NewPricing(nil)
	require.EqualValues(t, 2, p.Rate(core.ChannelSMS))
	require.EqualValues(t, 3, p.Rate(core.ChannelWhatsApp))
	require.EqualValues(t, 1, p.Rate(core.ChannelEmail))
}

func TestOverridesAndEstimate(t *testing.T) {
	p := credit.NewPricing(map[core.Channel]int64{
		core.ChannelSMS:   5,
		core.ChannelEmail: 0, // ignored, keeps default
	})
	require.EqualValues(t, 5, p.Rate(core.ChannelSMS))
	require.EqualValues(t, 1, p.Rate(core.ChannelEmail))
	require.EqualValues(t, 500, p.Estimate(core.ChannelSMS, 100))
	require.EqualValues(t, 0, p.Estimate(core.ChannelSMS, 0))
}
