package credit

import (
	"github.com/Synergyfy/latap-messaging/internal/core"
)

// Default per-message rates in credits, used when no rate is configured for
// a channel.
const (
	DefaultRateSMS      = 2
	DefaultRateWhatsApp = 3
	DefaultRateEmail    = 1
	defaultRateFallback = 1
)

// Pricing maps channels to per-message rates. Estimated campaign cost is
// audienceSize x rate; actual cost is recomputed from successes only.
type Pricing struct {
	rates map[core.Channel]int64
}

// NewPricing builds a rate table from config overrides. Zero or negative
// overrides are ignored in favor of the defaults.
func NewPricing(overrides map[core.Channel]int64) Pricing {
	rates := map[core.Channel]int64{
		core.ChannelSMS:      DefaultRateSMS,
		core.ChannelWhatsApp: DefaultRateWhatsApp,
		core.ChannelEmail:    DefaultRateEmail,
	}
	for ch, r := range overrides {
		if r > 0 {
			rates[ch] = r
		}
	}
	return Pricing{rates: rates}
}

// Rate returns the per-message rate for a channel.
func (p Pricing) Rate(ch core.Channel) int64 {
	if r, ok := p.rates[ch]; ok {
		return r
	}
	return defaultRateFallback
}

// Estimate prices a send of n messages on a channel.
func (p Pricing) Estimate(ch core.Channel, n int) int64 {
	return int64(n) * p.Rate(ch)
}
