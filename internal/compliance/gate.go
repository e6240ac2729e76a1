// Package compliance is the stateless consent check applied to every
// outbound send, and the one-way opt-out transition applied on inbound
// STOP keywords.
package compliance

import (
	"strings"

	"github.com/Synergyfy/latap-messaging/internal/core"
)

// ValidateConsent fails with core.ErrConsentDenied if the contact opted out
// globally, or never opted in to the channel. A global opt-out wins over any
// per-channel opt-in.
func ValidateConsent(contact *core.Contact, ch core.Channel) error {
	if contact.OptOut {
		return core.ErrConsentDenied
	}
	if !contact.OptedIn(ch) {
		return core.ErrConsentDenied
	}
	return nil
}

// OptOut applies the global opt-out: sets the flag and clears every channel
// consent. Idempotent; re-applying has no further effect.
func OptOut(contact *core.Contact) {
	contact.OptOut = true
	contact.OptInChannels = nil
}

// IsOptOutKeyword reports whether an inbound message body is a recognized
// unsubscribe keyword (case-insensitive, surrounding whitespace ignored).
func IsOptOutKeyword(body string) bool {
	switch strings.ToUpper(strings.TrimSpace(body)) {
	case "STOP", "UNSUBSCRIBE":
		return true
	}
	return false
}
