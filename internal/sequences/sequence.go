// Package sequences implements the per-contact automation state machine: an
// ordered script of message, pause and stage-change steps evaluated by
// periodic sweeps.
package sequences

import (
	"strings"
	"time"

	"outreach_backend/platform/textnorm"

	"github.com/google/uuid"
)

// StepType discriminates the step union.
type StepType string

const (
	StepMessage     StepType = "message"
	StepPause       StepType = "pause"
	StepStageChange StepType = "stage_change"
)

// MatchType selects any/all semantics for keyword conditions.
type MatchType string

const (
	MatchAny MatchType = "any"
	MatchAll MatchType = "all"
)

// KeywordCondition gates a step on the contact's most recent reply.
type KeywordCondition struct {
	Keywords      []string  `json:"keywords"`
	MatchType     MatchType `json:"matchType"`
	CaseSensitive bool      `json:"caseSensitive"`
}

// Matches evaluates the condition against an inbound message body. Matching
// is diacritic-insensitive always, and case-insensitive unless CaseSensitive.
func (c KeywordCondition) Matches(text string) bool {
	if len(c.Keywords) == 0 {
		return true
	}

	normalize := textnorm.Fold
	if c.CaseSensitive {
		normalize = textnorm.StripDiacritics
	}

	haystack := normalize(text)

	matched := 0
	for _, kw := range c.Keywords {
		needle := normalize(kw)
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			if c.MatchType != MatchAll {
				return true
			}
			matched++
		} else if c.MatchType == MatchAll {
			return false
		}
	}

	if c.MatchType == MatchAll {
		return matched > 0
	}
	return false
}

// MessageStep carries either an inline payload or a template reference.
type MessageStep struct {
	PayloadType string     `json:"payloadType"` // text, image, video, audio, document
	Text        string     `json:"text,omitempty"`
	MediaRef    string     `json:"mediaRef,omitempty"`
	TemplateID  *uuid.UUID `json:"templateId,omitempty"`
}

// PauseStep delays the following steps relative to the previous sent message.
type PauseStep struct {
	PauseType              string  `json:"pauseType"`
	DelayHoursFromPrevious float64 `json:"delayHoursFromPrevious"`
}

// Delay converts the configured hours to a duration.
func (p PauseStep) Delay() time.Duration {
	return time.Duration(p.DelayHoursFromPrevious * float64(time.Hour))
}

// StageChangeStep moves the contact's lead to a named pipeline stage.
type StageChangeStep struct {
	TargetStageName string `json:"targetStageName"`
}

// Step is one unit of a sequence. Exactly one of Message, Pause and
// StageChange is set, matching Type.
type Step struct {
	ID            uuid.UUID
	SequenceID    uuid.UUID
	OrderPosition int
	Type          StepType
	Condition     *KeywordCondition

	Message     *MessageStep
	Pause       *PauseStep
	StageChange *StageChangeStep
}

// Sequence is an ordered automation script scoped to one account.
type Sequence struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Name      string
	Active    bool
	Steps     []Step // sorted by OrderPosition
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NextStepAfter returns the first step past the given position, or nil when
// the sequence is exhausted.
func (s Sequence) NextStepAfter(position int) *Step {
	for i := range s.Steps {
		if s.Steps[i].OrderPosition > position {
			return &s.Steps[i]
		}
	}
	return nil
}
