// Package windows computes delivery-window state for a contact. The
// calculator is pure: output depends only on the clock and stored timestamps.
package windows

import (
	"time"

	"outreach_backend/internal/contacts"
)

// State holds the two window booleans the channel router decides on.
type State struct {
	// ServiceWindowActive is true while a customer-initiated conversation
	// is still open (client message within the service window).
	ServiceWindowActive bool
	// FreeEntryWindowActive is true while a qualifying free-entry event is
	// recent enough to allow template-free sending.
	FreeEntryWindowActive bool
}

// Open reports whether any window permits a direct cloud API send.
func (s State) Open() bool {
	return s.ServiceWindowActive || s.FreeEntryWindowActive
}

// Calculator evaluates window state against configured durations.
type Calculator struct {
	service   time.Duration
	freeEntry time.Duration
}

// NewCalculator creates a calculator. Zero durations fall back to the
// provider defaults of 24h and 72h.
func NewCalculator(service, freeEntry time.Duration) *Calculator {
	if service <= 0 {
		service = 24 * time.Hour
	}
	if freeEntry <= 0 {
		freeEntry = 72 * time.Hour
	}
	return &Calculator{service: service, freeEntry: freeEntry}
}

// AnyWindowOpen reports whether either window permits a direct cloud API send.
func (c *Calculator) AnyWindowOpen(now time.Time, contact contacts.Contact) bool {
	return c.Compute(now, contact).Open()
}

// ServiceWindowOpen reports whether the customer-initiated window is open.
func (c *Calculator) ServiceWindowOpen(now time.Time, contact contacts.Contact) bool {
	return c.Compute(now, contact).ServiceWindowActive
}

// Compute derives the window state for a contact at the given instant.
func (c *Calculator) Compute(now time.Time, contact contacts.Contact) State {
	var s State

	if contact.LastInteractionAt != nil && contact.LastInteractionSource == contacts.SourceClient {
		age := now.Sub(*contact.LastInteractionAt)
		if age >= 0 && age < c.service {
			s.ServiceWindowActive = true
		}
		if age >= 0 && age < c.freeEntry {
			s.FreeEntryWindowActive = true
		}
	}

	// A recent first contact through a free channel also opens the
	// free-entry window even when the last interaction was ours.
	if !s.FreeEntryWindowActive && contact.FirstContactAt != nil {
		age := now.Sub(*contact.FirstContactAt)
		if age >= 0 && age < c.freeEntry {
			s.FreeEntryWindowActive = true
		}
	}

	return s
}
