// Package accounts holds the messaging account entity: one provider identity
// (phone number + credentials) owning a set of contacts, sequences and
// templates. Credential administration itself is an external collaborator;
// this package only reads accounts.
package accounts

import (
	"time"

	"github.com/google/uuid"
)

// Account is one provisioned chat-channel sender identity.
type Account struct {
	ID            uuid.UUID
	Name          string
	PhoneNumberID string // provider-side sender id
	ProviderToken string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Sendable reports whether the account can be used for outbound sends.
func (a Account) Sendable() bool {
	return a.Active && a.PhoneNumberID != "" && a.ProviderToken != ""
}
