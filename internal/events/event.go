// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"outreach_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Sequence Domain Events
// =============================================================================

// SequenceAssigned is published when a sequence is assigned to a contact.
type SequenceAssigned struct {
	BaseEvent
	ContactID  uuid.UUID `json:"contactId"`
	AccountID  uuid.UUID `json:"accountId"`
	SequenceID uuid.UUID `json:"sequenceId"`
}

func (e SequenceAssigned) EventName() string { return "sequences.assigned" }

// SequencePaused is published when a contact's sequence is paused, either by
// a client reply or by the block detector.
type SequencePaused struct {
	BaseEvent
	ContactID  uuid.UUID `json:"contactId"`
	SequenceID uuid.UUID `json:"sequenceId"`
	Reason     string    `json:"reason"`
}

func (e SequencePaused) EventName() string { return "sequences.paused" }

// SequenceStopped is published when a contact's sequence is cleared.
type SequenceStopped struct {
	BaseEvent
	ContactID uuid.UUID `json:"contactId"`
}

func (e SequenceStopped) EventName() string { return "sequences.stopped" }

// StepExecuted is published after a sequence step runs for a contact.
type StepExecuted struct {
	BaseEvent
	ContactID    uuid.UUID `json:"contactId"`
	SequenceID   uuid.UUID `json:"sequenceId"`
	StepPosition int       `json:"stepPosition"`
	StepType     string    `json:"stepType"`
}

func (e StepExecuted) EventName() string { return "sequences.step_executed" }

// =============================================================================
// Messaging Domain Events
// =============================================================================

// MessageQueued is published when a send falls back to the browser-automation
// queue. The queue dispatcher notifies the worker pool on this event.
type MessageQueued struct {
	BaseEvent
	QueueItemID uuid.UUID `json:"queueItemId"`
	AccountID   uuid.UUID `json:"accountId"`
	ContactID   uuid.UUID `json:"contactId"`
	Priority    string    `json:"priority"`
}

func (e MessageQueued) EventName() string { return "messaging.message_queued" }

// MessageSent is published after a successful cloud API send.
type MessageSent struct {
	BaseEvent
	MessageID         uuid.UUID `json:"messageId"`
	ContactID         uuid.UUID `json:"contactId"`
	ProviderMessageID string    `json:"providerMessageId"`
	SentVia           string    `json:"sentVia"`
}

func (e MessageSent) EventName() string { return "messaging.message_sent" }

// =============================================================================
// Block Detector Events
// =============================================================================

// ContactBlocked is published when the block detector flags a contact.
type ContactBlocked struct {
	BaseEvent
	ContactID   uuid.UUID `json:"contactId"`
	AccountID   uuid.UUID `json:"accountId"`
	Probability int       `json:"probability"`
}

func (e ContactBlocked) EventName() string { return "blockdetect.contact_blocked" }

// ContactUnblocked is published when a re-audit clears a previously
// flagged contact.
type ContactUnblocked struct {
	BaseEvent
	ContactID uuid.UUID `json:"contactId"`
}

func (e ContactUnblocked) EventName() string { return "blockdetect.contact_unblocked" }

// =============================================================================
// Pipeline Events
// =============================================================================

// StageChanged is published after a lead moves to a new pipeline stage.
type StageChanged struct {
	BaseEvent
	LeadID      uuid.UUID  `json:"leadId"`
	ContactID   uuid.UUID  `json:"contactId"`
	AccountID   uuid.UUID  `json:"accountId"`
	FromStageID *uuid.UUID `json:"fromStageId,omitempty"`
	ToStageID   uuid.UUID  `json:"toStageId"`
	StageName   string     `json:"stageName"`
}

func (e StageChanged) EventName() string { return "pipeline.stage_changed" }
