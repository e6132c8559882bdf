// Package pipeline provides the sales-pipeline bounded context: leads,
// stages, and the bridge that ties stage transitions to sequence automation.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Lead binds one contact to one pipeline stage inside exactly one product
// scope. ProductID is immutable after creation.
type Lead struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	ContactID      uuid.UUID
	ProductID      uuid.UUID
	PipelineID     uuid.UUID
	StageID        uuid.UUID
	Name           string
	EstimatedValue *float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pipeline is an ordered stage list scoped to one product.
type Pipeline struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	ProductID uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Stage is one pipeline step. A stage may carry a bound sequence that starts
// automatically when a lead arrives.
type Stage struct {
	ID              uuid.UUID
	PipelineID      uuid.UUID
	Name            string
	Position        int
	BoundSequenceID *uuid.UUID
	CreatedAt       time.Time
}
