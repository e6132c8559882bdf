// Package templates holds pre-approved message templates and the variable
// mapper that resolves their {{n}} placeholders from CRM context.
package templates

import (
	"time"

	"github.com/google/uuid"
)

// Status is the provider review lifecycle of a template.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusPaused   Status = "paused"
)

// Button is one call-to-action button on a template. At most three.
type Button struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Template is a pre-approved message layout with {{n}} placeholders across
// header, body, footer and button text.
type Template struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	Name       string
	Language   string
	Status     Status
	HeaderText string
	BodyText   string
	FooterText string
	Buttons    []Button
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Approved reports whether the template may be used for sending.
func (t Template) Approved() bool {
	return t.Status == StatusApproved
}
