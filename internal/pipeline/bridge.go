package pipeline

import (
	"context"

	"outreach_backend/internal/contacts"
	"outreach_backend/internal/events"
	"outreach_backend/internal/messaging/templates"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/logger"

	"github.com/google/uuid"
)

// ErrProductMismatch is surfaced when a stage move crosses product scopes.
// Leads are product-isolated: a lead never moves into another product's
// pipeline.
var ErrProductMismatch = apperr.Validation("PRODUCT_MISMATCH").WithOp("pipeline.MoveLeadToStage")

// SequenceControl starts and stops sequence automation for a contact. The
// sequence engine implements it; during a sweep the engine supplies a variant
// that assumes the contact lock is already held.
type SequenceControl interface {
	Assign(ctx context.Context, contactID, sequenceID uuid.UUID) error
	Stop(ctx context.Context, contactID uuid.UUID) error
}

// Store is the slice of the repository the bridge depends on.
type Store interface {
	GetLead(ctx context.Context, leadID, accountID uuid.UUID) (Lead, error)
	GetLeadByContact(ctx context.Context, contactID uuid.UUID, productID *uuid.UUID) (Lead, error)
	GetStage(ctx context.Context, stageID uuid.UUID) (Stage, error)
	GetStageByName(ctx context.Context, pipelineID uuid.UUID, name string) (Stage, error)
	GetPipeline(ctx context.Context, pipelineID uuid.UUID) (Pipeline, error)
	UpdateLeadStage(ctx context.Context, leadID, stageID uuid.UUID) error
	GetProductName(ctx context.Context, productID uuid.UUID) (string, error)
}

// Bridge executes stage transitions and the sequence automation bound to the
// destination stage. The stage move is the primary action; automation
// failures are logged and swallowed so the move itself always lands.
type Bridge struct {
	store     Store
	sequences SequenceControl
	bus       events.Bus
	log       *logger.Logger
}

func NewBridge(store Store, bus events.Bus, log *logger.Logger) *Bridge {
	return &Bridge{store: store, bus: bus, log: log}
}

// SetSequenceControl wires the sequence engine. Setter injection breaks the
// construction cycle between this module and the sequences module.
func (b *Bridge) SetSequenceControl(ctl SequenceControl) {
	b.sequences = ctl
}

// MoveLeadToStage transitions a lead to a new stage within its own product
// scope, then applies the destination stage's sequence automation: assign
// the bound sequence if the stage carries one, otherwise stop whatever
// sequence is currently running for the contact.
func (b *Bridge) MoveLeadToStage(ctx context.Context, accountID, leadID, stageID uuid.UUID) (Lead, error) {
	return b.move(ctx, accountID, leadID, stageID, b.sequences, true)
}

func (b *Bridge) move(ctx context.Context, accountID, leadID, stageID uuid.UUID, ctl SequenceControl, stopWhenUnbound bool) (Lead, error) {
	lead, err := b.store.GetLead(ctx, leadID, accountID)
	if err != nil {
		return Lead{}, apperr.Wrap(apperr.KindNotFound, "lead not found", err)
	}

	stage, err := b.store.GetStage(ctx, stageID)
	if err != nil {
		return Lead{}, apperr.Wrap(apperr.KindNotFound, "stage not found", err)
	}

	pl, err := b.store.GetPipeline(ctx, stage.PipelineID)
	if err != nil {
		return Lead{}, apperr.Wrap(apperr.KindNotFound, "pipeline not found", err)
	}

	if pl.AccountID != lead.AccountID {
		return Lead{}, apperr.Validation("stage belongs to a different account").WithOp("pipeline.MoveLeadToStage")
	}
	if pl.ProductID != lead.ProductID {
		return Lead{}, ErrProductMismatch
	}

	fromStage := lead.StageID
	if err := b.store.UpdateLeadStage(ctx, lead.ID, stage.ID); err != nil {
		return Lead{}, err
	}
	lead.StageID = stage.ID
	lead.PipelineID = stage.PipelineID

	if b.bus != nil {
		b.bus.Publish(ctx, events.StageChanged{
			BaseEvent:   events.NewBaseEvent(),
			LeadID:      lead.ID,
			ContactID:   lead.ContactID,
			AccountID:   lead.AccountID,
			FromStageID: &fromStage,
			ToStageID:   stage.ID,
			StageName:   stage.Name,
		})
	}

	b.applyStageAutomation(ctx, lead, stage, ctl, stopWhenUnbound)

	return lead, nil
}

// applyStageAutomation is secondary to the stage move: any failure here is
// logged and swallowed, never rolled back into the move.
func (b *Bridge) applyStageAutomation(ctx context.Context, lead Lead, stage Stage, ctl SequenceControl, stopWhenUnbound bool) {
	if ctl == nil {
		return
	}

	if stage.BoundSequenceID != nil {
		if err := ctl.Assign(ctx, lead.ContactID, *stage.BoundSequenceID); err != nil {
			b.log.Warn("stage-bound sequence assignment failed",
				"lead_id", lead.ID, "stage_id", stage.ID,
				"sequence_id", *stage.BoundSequenceID, "error", err)
		}
		return
	}

	if !stopWhenUnbound {
		return
	}

	if err := ctl.Stop(ctx, lead.ContactID); err != nil {
		b.log.Warn("stopping sequence on stage move failed",
			"lead_id", lead.ID, "stage_id", stage.ID, "error", err)
	}
}

// ExecuteStageChange runs a stage_change sequence step for a contact: the
// target stage is resolved by name within the contact's lead pipeline. The
// supplied control runs under the caller's contact lock. An unbound
// destination stage does not stop the sequence that commanded the move.
func (b *Bridge) ExecuteStageChange(ctx context.Context, contact contacts.Contact, targetStageName string, ctl SequenceControl) error {
	lead, err := b.store.GetLeadByContact(ctx, contact.ID, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, "contact has no lead", err)
	}

	stage, err := b.store.GetStageByName(ctx, lead.PipelineID, targetStageName)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, "target stage not found: "+targetStageName, err)
	}

	_, err = b.move(ctx, lead.AccountID, lead.ID, stage.ID, ctl, false)
	return err
}

// BuildTemplateContext assembles the CRM variable context for a contact's
// template sends. Missing lead data degrades to fallbacks, never errors.
func (b *Bridge) BuildTemplateContext(ctx context.Context, contact contacts.Contact) (templates.Context, error) {
	tctx := templates.Context{
		ContactName:      contact.Name,
		Phone:            contact.Phone,
		ContactCreatedAt: contact.CreatedAt,
	}

	lead, err := b.store.GetLeadByContact(ctx, contact.ID, nil)
	if err != nil {
		return tctx, nil
	}

	tctx.EstimatedValue = lead.EstimatedValue

	if stage, err := b.store.GetStage(ctx, lead.StageID); err == nil {
		tctx.StageName = stage.Name
	}
	if name, err := b.store.GetProductName(ctx, lead.ProductID); err == nil {
		tctx.ProductName = name
	}

	return tctx, nil
}
