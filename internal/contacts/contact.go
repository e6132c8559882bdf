// Package contacts owns the chat-channel contact entity and the single-writer
// discipline around its mutation. The sequence engine, the block detector and
// the inbound ingestion collaborator all mutate contacts exclusively through
// this package.
package contacts

import (
	"time"

	"github.com/google/uuid"
)

// InteractionSource identifies who produced the last interaction on a contact.
type InteractionSource string

const (
	SourceClient InteractionSource = "client"
	SourceAgent  InteractionSource = "agent"
	SourceSystem InteractionSource = "system"
)

// SequenceState is the derived automation state of a contact.
type SequenceState string

const (
	// StateIdle means no sequence has ever been assigned.
	StateIdle SequenceState = "idle"
	// StateRunning means a sequence is assigned and active.
	StateRunning SequenceState = "running"
	// StatePaused means a sequence is assigned but automation is suspended.
	StatePaused SequenceState = "paused"
	// StateStopped means the sequence binding was cleared.
	StateStopped SequenceState = "stopped"
)

// Contact is a chat-channel identity scoped to one account.
type Contact struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Name      string
	Phone     string // E.164

	SequenceActive    bool
	SequenceID        *uuid.UUID
	SequencePosition  int
	SequenceStartedAt *time.Time

	FirstContactAt        *time.Time
	LastInteractionAt     *time.Time
	LastInteractionSource InteractionSource
	ClientResponsesCount  int
	IsTyping              bool

	CloudAPISends int
	QueuedSends   int

	ConsecutiveUndelivered int
	TotalMessagesSent      int
	TotalMessagesDelivered int
	LastDeliveredAt        *time.Time
	BlockProbability       int
	IsBlocked              bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// State derives the sequence state machine position from stored fields.
func (c Contact) State() SequenceState {
	switch {
	case c.SequenceID == nil && c.SequenceStartedAt == nil:
		return StateIdle
	case c.SequenceID == nil:
		return StateStopped
	case c.SequenceActive:
		return StateRunning
	default:
		return StatePaused
	}
}

// ClientRepliedSince reports whether the contact's last interaction was a
// client message newer than the given reference time. A missing reference
// counts as replied, matching the pause-on-client-response rule.
func (c Contact) ClientRepliedSince(ref *time.Time) bool {
	if c.LastInteractionSource != SourceClient || c.LastInteractionAt == nil {
		return false
	}
	if ref == nil {
		return true
	}
	return c.LastInteractionAt.After(*ref)
}
