// Package queue persists pending browser-automation sends. The browser
// worker pool is an external collaborator: this core only enqueues items and
// reads their terminal status.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders pending items for the automation worker.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Status is the lifecycle of one queued send.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Item is one pending browser-automation send.
type Item struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	ContactID uuid.UUID
	Phone     string
	Kind      string // text, image, video, audio, document
	Body      string
	MediaRef  *string
	Priority  Priority
	Status    Status
	Attempts  int
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
