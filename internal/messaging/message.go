// Package messaging implements the channel router: the delivery decision
// between the metered cloud API and the queued browser-automation fallback,
// plus the immutable message log both paths write to.
package messaging

import (
	"time"

	"github.com/google/uuid"
)

// SendMethod is the delivery channel a message was routed through.
type SendMethod string

const (
	SendCloudAPI         SendMethod = "cloud_api"
	SendQueuedAutomation SendMethod = "queued_automation"
)

// Direction distinguishes inbound customer messages from outbound sends.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the provider-reported delivery state of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Confirmed reports whether the provider confirmed the message reached the
// contact's device.
func (s Status) Confirmed() bool {
	return s == StatusDelivered || s == StatusRead
}

// Message is one immutable send/receive log record.
type Message struct {
	ID                   uuid.UUID
	AccountID            uuid.UUID
	ContactID            uuid.UUID
	Direction            Direction
	Body                 string
	MediaRef             *string
	ProviderMessageID    *string
	SentVia              *SendMethod
	Status               Status
	SequenceStepPosition *int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
