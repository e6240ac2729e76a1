// Package channel defines the adapter contract for the external message
// gateway and a registry holding one adapter per channel.
package channel

import (
	"context"

	"github.com/Synergyfy/latap-messaging/internal/core"
)

// Adapter speaks one channel of the external gateway. Send returns the
// provider's message id used to correlate later delivery callbacks. Missing
// gateway configuration is not an error: adapters fall back to a simulated
// provider id. Transport failures are.
type Adapter interface {
	Channel() core.Channel
	Send(ctx context.Context, from, to, body string) (providerMessageID string, err error)
}
