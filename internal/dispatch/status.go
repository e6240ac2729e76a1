package dispatch

import (
	"github.com/Synergyfy/latap-messaging/internal/core"
)

// statusFromProvider maps the gateway's delivery-status vocabulary onto the
// internal enum. Unknown names map to SENT so a garbled callback never
// regresses a message.
var statusFromProvider = map[string]core.MessageStatus{
	"DELIVERED":            core.StatusDelivered,
	"DELIVERED_TO_HANDSET": core.StatusDelivered,
	"REJECTED":             core.StatusRejected,
	"PENDING":              core.StatusPending,
	"UNDELIVERABLE":        core.StatusFailed,
	"EXPIRED":              core.StatusFailed,
}

// StatusFromProvider resolves one provider status name.
func StatusFromProvider(name string) core.MessageStatus {
	if st, ok := statusFromProvider[name]; ok {
		return st
	}
	return core.StatusSent
}
