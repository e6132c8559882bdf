package pipeline

import (
	"context"
	"errors"
	"testing"

	"outreach_backend/internal/contacts"
	"outreach_backend/internal/events"
	"outreach_backend/platform/logger"
	"outreach_backend/platform/validator"

	"github.com/google/uuid"
)

type fakeStore struct {
	leads     map[uuid.UUID]Lead
	stages    map[uuid.UUID]Stage
	pipelines map[uuid.UUID]Pipeline
	products  map[uuid.UUID]string
	moves     []uuid.UUID
}

func (f *fakeStore) GetLead(_ context.Context, leadID, accountID uuid.UUID) (Lead, error) {
	lead, ok := f.leads[leadID]
	if !ok || lead.AccountID != accountID {
		return Lead{}, ErrLeadNotFound
	}
	return lead, nil
}

func (f *fakeStore) GetLeadByContact(_ context.Context, contactID uuid.UUID, _ *uuid.UUID) (Lead, error) {
	for _, lead := range f.leads {
		if lead.ContactID == contactID {
			return lead, nil
		}
	}
	return Lead{}, ErrLeadNotFound
}

func (f *fakeStore) GetStage(_ context.Context, stageID uuid.UUID) (Stage, error) {
	stage, ok := f.stages[stageID]
	if !ok {
		return Stage{}, ErrStageNotFound
	}
	return stage, nil
}

func (f *fakeStore) GetStageByName(_ context.Context, pipelineID uuid.UUID, name string) (Stage, error) {
	for _, stage := range f.stages {
		if stage.PipelineID == pipelineID && stage.Name == name {
			return stage, nil
		}
	}
	return Stage{}, ErrStageNotFound
}

func (f *fakeStore) GetPipeline(_ context.Context, pipelineID uuid.UUID) (Pipeline, error) {
	pl, ok := f.pipelines[pipelineID]
	if !ok {
		return Pipeline{}, ErrPipelineNotFound
	}
	return pl, nil
}

func (f *fakeStore) UpdateLeadStage(_ context.Context, leadID, stageID uuid.UUID) error {
	lead, ok := f.leads[leadID]
	if !ok {
		return ErrLeadNotFound
	}
	lead.StageID = stageID
	f.leads[leadID] = lead
	f.moves = append(f.moves, stageID)
	return nil
}

func (f *fakeStore) GetProductName(_ context.Context, productID uuid.UUID) (string, error) {
	name, ok := f.products[productID]
	if !ok {
		return "", errors.New("product not found")
	}
	return name, nil
}

type recordingControl struct {
	assigned []uuid.UUID
	stopped  []uuid.UUID
	err      error
}

func (c *recordingControl) Assign(_ context.Context, _, sequenceID uuid.UUID) error {
	if c.err != nil {
		return c.err
	}
	c.assigned = append(c.assigned, sequenceID)
	return nil
}

func (c *recordingControl) Stop(_ context.Context, _ uuid.UUID) error {
	if c.err != nil {
		return c.err
	}
	c.stopped = append(c.stopped, uuid.Nil)
	return nil
}

type bridgeFixture struct {
	bridge  *Bridge
	store   *fakeStore
	ctl     *recordingControl
	account uuid.UUID
	product uuid.UUID
	lead    Lead
}

// newBridgeFixture builds one account with one product pipeline of two
// stages; the lead starts in the first.
func newBridgeFixture(boundSeq *uuid.UUID) *bridgeFixture {
	accountID := uuid.New()
	productID := uuid.New()
	pipelineID := uuid.New()

	first := Stage{ID: uuid.New(), PipelineID: pipelineID, Name: "Prospecto", Position: 1}
	second := Stage{ID: uuid.New(), PipelineID: pipelineID, Name: "Negociación", Position: 2, BoundSequenceID: boundSeq}

	lead := Lead{
		ID:         uuid.New(),
		AccountID:  accountID,
		ContactID:  uuid.New(),
		ProductID:  productID,
		PipelineID: pipelineID,
		StageID:    first.ID,
	}

	store := &fakeStore{
		leads:     map[uuid.UUID]Lead{lead.ID: lead},
		stages:    map[uuid.UUID]Stage{first.ID: first, second.ID: second},
		pipelines: map[uuid.UUID]Pipeline{pipelineID: {ID: pipelineID, AccountID: accountID, ProductID: productID}},
		products:  map[uuid.UUID]string{productID: "Plan Pro"},
	}

	log := logger.New("test")
	bridge := NewBridge(store, events.NewInMemoryBus(log), log)
	ctl := &recordingControl{}
	bridge.SetSequenceControl(ctl)

	return &bridgeFixture{
		bridge:  bridge,
		store:   store,
		ctl:     ctl,
		account: accountID,
		product: productID,
		lead:    lead,
	}
}

func (f *bridgeFixture) stageNamed(name string) Stage {
	for _, stage := range f.store.stages {
		if stage.Name == name {
			return stage
		}
	}
	panic("unknown stage " + name)
}

func TestMoveLeadToStageAssignsBoundSequence(t *testing.T) {
	seqID := uuid.New()
	f := newBridgeFixture(&seqID)
	target := f.stageNamed("Negociación")

	lead, err := f.bridge.MoveLeadToStage(context.Background(), f.account, f.lead.ID, target.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lead.StageID != target.ID {
		t.Fatalf("lead not moved, stage = %s", lead.StageID)
	}
	if len(f.ctl.assigned) != 1 || f.ctl.assigned[0] != seqID {
		t.Fatalf("expected bound sequence assigned, got %v", f.ctl.assigned)
	}
	if len(f.ctl.stopped) != 0 {
		t.Fatalf("bound stage must not stop, got %v", f.ctl.stopped)
	}
}

func TestMoveLeadToUnboundStageStopsSequence(t *testing.T) {
	f := newBridgeFixture(nil)
	target := f.stageNamed("Negociación")

	if _, err := f.bridge.MoveLeadToStage(context.Background(), f.account, f.lead.ID, target.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.ctl.stopped) != 1 {
		t.Fatalf("expected the running sequence stopped, got %v", f.ctl.stopped)
	}
}

func TestMoveLeadToStageRejectsProductMismatch(t *testing.T) {
	f := newBridgeFixture(nil)

	// A stage in another product's pipeline.
	otherPipeline := Pipeline{ID: uuid.New(), AccountID: f.account, ProductID: uuid.New()}
	foreign := Stage{ID: uuid.New(), PipelineID: otherPipeline.ID, Name: "Cierre", Position: 1}
	f.store.pipelines[otherPipeline.ID] = otherPipeline
	f.store.stages[foreign.ID] = foreign

	_, err := f.bridge.MoveLeadToStage(context.Background(), f.account, f.lead.ID, foreign.ID)
	if !errors.Is(err, ErrProductMismatch) {
		t.Fatalf("expected PRODUCT_MISMATCH, got %v", err)
	}
	if got := f.store.leads[f.lead.ID].StageID; got != f.lead.StageID {
		t.Fatalf("rejected move must not change the stage, got %s", got)
	}
}

func TestMoveLeadToStageSwallowsAutomationFailure(t *testing.T) {
	seqID := uuid.New()
	f := newBridgeFixture(&seqID)
	f.ctl.err = errors.New("engine unavailable")
	target := f.stageNamed("Negociación")

	lead, err := f.bridge.MoveLeadToStage(context.Background(), f.account, f.lead.ID, target.ID)
	if err != nil {
		t.Fatalf("automation failure must not fail the move, got %v", err)
	}
	if lead.StageID != target.ID {
		t.Fatalf("stage move must land despite automation failure")
	}
}

func TestExecuteStageChangeResolvesStageByName(t *testing.T) {
	f := newBridgeFixture(nil)
	ctl := &recordingControl{}
	contact := contacts.Contact{ID: f.lead.ContactID}

	err := f.bridge.ExecuteStageChange(context.Background(), contact, "Negociación", ctl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.store.leads[f.lead.ID].StageID; got != f.stageNamed("Negociación").ID {
		t.Fatalf("lead not moved by stage change step")
	}
	// Sequence-commanded moves to an unbound stage must not stop the
	// sequence that commanded them.
	if len(ctl.stopped) != 0 {
		t.Fatalf("unbound target must not stop during a stage change step, got %v", ctl.stopped)
	}
}

func TestExecuteStageChangeUnknownStage(t *testing.T) {
	f := newBridgeFixture(nil)
	contact := contacts.Contact{ID: f.lead.ContactID}

	if err := f.bridge.ExecuteStageChange(context.Background(), contact, "Inexistente", &recordingControl{}); err == nil {
		t.Fatal("unknown target stage must error")
	}
}

func TestBuildTemplateContext(t *testing.T) {
	f := newBridgeFixture(nil)
	value := 2500.0
	lead := f.store.leads[f.lead.ID]
	lead.EstimatedValue = &value
	f.store.leads[f.lead.ID] = lead

	contact := contacts.Contact{ID: f.lead.ContactID, Name: "Ana", Phone: "+5215512345678"}
	tctx, err := f.bridge.BuildTemplateContext(context.Background(), contact)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tctx.ContactName != "Ana" || tctx.StageName != "Prospecto" || tctx.ProductName != "Plan Pro" {
		t.Fatalf("unexpected context: %+v", tctx)
	}
	if tctx.EstimatedValue == nil || *tctx.EstimatedValue != 2500.0 {
		t.Fatalf("estimated value not mapped: %+v", tctx.EstimatedValue)
	}
}

func TestBuildTemplateContextWithoutLead(t *testing.T) {
	f := newBridgeFixture(nil)
	contact := contacts.Contact{ID: uuid.New(), Name: "Ana", Phone: "+5215512345678"}

	tctx, err := f.bridge.BuildTemplateContext(context.Background(), contact)
	if err != nil {
		t.Fatalf("missing lead must degrade, not error: %v", err)
	}
	if tctx.ContactName != "Ana" || tctx.StageName != "" || tctx.ProductName != "" {
		t.Fatalf("unexpected fallback context: %+v", tctx)
	}
}

func TestNewModuleWiresBridge(t *testing.T) {
	log := logger.New("test")
	m := NewModule(nil, events.NewInMemoryBus(log), log, validator.New())
	if m.Name() != "pipeline" {
		t.Fatalf("unexpected module name %q", m.Name())
	}
	if m.Bridge() == nil {
		t.Fatal("module must expose its bridge")
	}
}
