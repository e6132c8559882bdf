package sequences

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Requests
// =============================================================================

// ConditionRequest is the optional keyword gate on a step.
type ConditionRequest struct {
	Keywords      []string `json:"keywords" validate:"required,min=1,dive,min=1"`
	MatchType     string   `json:"matchType" validate:"omitempty,oneof=any all"`
	CaseSensitive bool     `json:"caseSensitive"`
}

// StepRequest is the input for a single sequence step.
type StepRequest struct {
	OrderPosition int               `json:"orderPosition" validate:"min=1"`
	Type          string            `json:"type" validate:"required,oneof=message pause stage_change"`
	Condition     *ConditionRequest `json:"condition,omitempty" validate:"omitempty"`

	PayloadType string     `json:"payloadType" validate:"omitempty,oneof=text image video audio document"`
	Text        string     `json:"text,omitempty"`
	MediaRef    string     `json:"mediaRef,omitempty"`
	TemplateID  *uuid.UUID `json:"templateId,omitempty"`

	DelayHoursFromPrevious float64 `json:"delayHoursFromPrevious" validate:"min=0"`

	TargetStageName string `json:"targetStageName,omitempty"`
}

// CreateSequenceRequest is the request body for creating a sequence.
type CreateSequenceRequest struct {
	Name   string        `json:"name" validate:"required,min=1,max=200"`
	Active bool          `json:"active"`
	Steps  []StepRequest `json:"steps" validate:"required,min=1,dive"`
}

// SetActiveRequest toggles a sequence definition on or off.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// AssignRequest binds a sequence to a contact.
type AssignRequest struct {
	SequenceID uuid.UUID `json:"sequenceId" validate:"required"`
}

// =============================================================================
// Responses
// =============================================================================

type StepResponse struct {
	ID            uuid.UUID         `json:"id"`
	OrderPosition int               `json:"orderPosition"`
	Type          string            `json:"type"`
	Condition     *KeywordCondition `json:"condition,omitempty"`
	Message       *MessageStep      `json:"message,omitempty"`
	Pause         *PauseStep        `json:"pause,omitempty"`
	StageChange   *StageChangeStep  `json:"stageChange,omitempty"`
}

type SequenceResponse struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Active    bool           `json:"active"`
	Steps     []StepResponse `json:"steps,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type EvaluationResponse struct {
	ContactID uuid.UUID `json:"contactId"`
	Outcome   Outcome   `json:"outcome"`
}

type SweepResponse struct {
	Evaluated int `json:"evaluated"`
	Sent      int `json:"sent"`
	Paused    int `json:"paused"`
	Skipped   int `json:"skipped"`
}

func toSequenceResponse(seq Sequence) SequenceResponse {
	resp := SequenceResponse{
		ID:        seq.ID,
		Name:      seq.Name,
		Active:    seq.Active,
		CreatedAt: seq.CreatedAt,
		UpdatedAt: seq.UpdatedAt,
	}
	for _, step := range seq.Steps {
		resp.Steps = append(resp.Steps, StepResponse{
			ID:            step.ID,
			OrderPosition: step.OrderPosition,
			Type:          string(step.Type),
			Condition:     step.Condition,
			Message:       step.Message,
			Pause:         step.Pause,
			StageChange:   step.StageChange,
		})
	}
	return resp
}

func stepFromRequest(req StepRequest) Step {
	step := Step{
		ID:            uuid.New(),
		OrderPosition: req.OrderPosition,
		Type:          StepType(req.Type),
	}
	if req.Condition != nil {
		match := MatchAny
		if req.Condition.MatchType == string(MatchAll) {
			match = MatchAll
		}
		step.Condition = &KeywordCondition{
			Keywords:      req.Condition.Keywords,
			MatchType:     match,
			CaseSensitive: req.Condition.CaseSensitive,
		}
	}
	switch step.Type {
	case StepMessage:
		payloadType := req.PayloadType
		if payloadType == "" {
			payloadType = "text"
		}
		step.Message = &MessageStep{
			PayloadType: payloadType,
			Text:        req.Text,
			MediaRef:    req.MediaRef,
			TemplateID:  req.TemplateID,
		}
	case StepPause:
		step.Pause = &PauseStep{
			PauseType:              "fixed_delay",
			DelayHoursFromPrevious: req.DelayHoursFromPrevious,
		}
	case StepStageChange:
		step.StageChange = &StageChangeStep{TargetStageName: req.TargetStageName}
	}
	return step
}
