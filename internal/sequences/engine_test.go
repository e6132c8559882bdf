package sequences

import (
	"context"
	"sync"
	"testing"
	"time"

	"outreach_backend/internal/contacts"
	"outreach_backend/internal/events"
	"outreach_backend/internal/messaging"
	"outreach_backend/internal/pipeline"
	"outreach_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeContacts struct {
	mu          sync.Mutex
	byID        map[uuid.UUID]contacts.Contact
	failAdvance bool
}

func newFakeContacts(cs ...contacts.Contact) *fakeContacts {
	f := &fakeContacts{byID: make(map[uuid.UUID]contacts.Contact)}
	for _, c := range cs {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeContacts) get(id uuid.UUID) contacts.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

func (f *fakeContacts) put(c contacts.Contact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[c.ID] = c
}

func (f *fakeContacts) GetByID(_ context.Context, id uuid.UUID) (contacts.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return contacts.Contact{}, contacts.ErrNotFound
	}
	return c, nil
}

func (f *fakeContacts) ListActiveSequenceContactIDs(_ context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, c := range f.byID {
		if c.SequenceActive && c.SequenceID != nil && !c.IsBlocked {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeContacts) ListActiveSequenceContactIDsByAccount(_ context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, c := range f.byID {
		if c.AccountID == accountID && c.SequenceActive && c.SequenceID != nil && !c.IsBlocked {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeContacts) AssignSequence(_ context.Context, contactID, sequenceID uuid.UUID, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[contactID]
	if !ok {
		return contacts.ErrNotFound
	}
	c.SequenceActive = true
	c.SequenceID = &sequenceID
	c.SequencePosition = 0
	c.SequenceStartedAt = &startedAt
	f.byID[contactID] = c
	return nil
}

func (f *fakeContacts) SetSequenceActive(_ context.Context, contactID uuid.UUID, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[contactID]
	if !ok || c.SequenceID == nil {
		return contacts.ErrNotFound
	}
	c.SequenceActive = active
	f.byID[contactID] = c
	return nil
}

func (f *fakeContacts) ClearSequence(_ context.Context, contactID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[contactID]
	if !ok {
		return contacts.ErrNotFound
	}
	c.SequenceActive = false
	c.SequenceID = nil
	c.SequencePosition = 0
	c.SequenceStartedAt = nil
	f.byID[contactID] = c
	return nil
}

func (f *fakeContacts) AdvancePosition(_ context.Context, contactID uuid.UUID, from, to int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdvance {
		return false, nil
	}
	c, ok := f.byID[contactID]
	if !ok || c.SequenceID == nil || c.SequencePosition != from {
		return false, nil
	}
	c.SequencePosition = to
	f.byID[contactID] = c
	return true, nil
}

type fakeSequences struct {
	byID map[uuid.UUID]Sequence
}

func (f *fakeSequences) GetWithSteps(_ context.Context, id uuid.UUID) (Sequence, error) {
	seq, ok := f.byID[id]
	if !ok {
		return Sequence{}, ErrNotFound
	}
	return seq, nil
}

type fakeMessages struct {
	outbound *messaging.Message
	inbound  *messaging.Message
}

func (f *fakeMessages) LatestOutbound(_ context.Context, _ uuid.UUID, _ *int) (*messaging.Message, error) {
	return f.outbound, nil
}

func (f *fakeMessages) LatestInboundAfter(_ context.Context, _ uuid.UUID, after time.Time) (*messaging.Message, error) {
	if f.inbound == nil || !f.inbound.CreatedAt.After(after) {
		return nil, nil
	}
	return f.inbound, nil
}

type fakeSender struct {
	mu       sync.Mutex
	payloads []messaging.Payload
	err      error
}

func (f *fakeSender) SendIntelligent(_ context.Context, _ contacts.Contact, payload messaging.Payload) (messaging.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return messaging.SendResult{}, f.err
	}
	f.payloads = append(f.payloads, payload)
	return messaging.SendResult{Method: messaging.SendCloudAPI}, nil
}

func (f *fakeSender) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeStages struct {
	targets []string
	err     error
	// onExecute lets a test simulate the stage binding rebinding or
	// stopping the sequence through the provided control.
	onExecute func(ctx context.Context, contact contacts.Contact, ctl pipeline.SequenceControl) error
}

func (f *fakeStages) ExecuteStageChange(ctx context.Context, contact contacts.Contact, target string, ctl pipeline.SequenceControl) error {
	if f.err != nil {
		return f.err
	}
	f.targets = append(f.targets, target)
	if f.onExecute != nil {
		return f.onExecute(ctx, contact, ctl)
	}
	return nil
}

type staticConfig struct{}

func (staticConfig) GetSweepConcurrency() int { return 4 }

func newTestEngine(store *fakeContacts, seqs *fakeSequences, msgs *fakeMessages, sender *fakeSender, stages *fakeStages) *Engine {
	log := logger.New("test")
	return NewEngine(store, seqs, msgs, sender, stages, contacts.NewKeylock(),
		events.NewInMemoryBus(log), staticConfig{}, log)
}

func runningContact(seqID uuid.UUID, position int, startedAgo time.Duration) contacts.Contact {
	started := time.Now().Add(-startedAgo)
	return contacts.Contact{
		ID:                uuid.New(),
		AccountID:         uuid.New(),
		Phone:             "+5215512345678",
		SequenceActive:    true,
		SequenceID:        &seqID,
		SequencePosition:  position,
		SequenceStartedAt: &started,
	}
}

func messageSeq(id, accountID uuid.UUID, steps ...Step) *fakeSequences {
	return &fakeSequences{byID: map[uuid.UUID]Sequence{
		id: {ID: id, AccountID: accountID, Name: "test", Active: true, Steps: steps},
	}}
}

func TestEvaluateOnceSendsMessageStepAndAdvances(t *testing.T) {
	seqID := uuid.New()
	contact := runningContact(seqID, 0, time.Hour)
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, contact.AccountID,
		Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{PayloadType: "text", Text: "hola"}},
	)
	sender := &fakeSender{}
	engine := newTestEngine(store, seqs, &fakeMessages{}, sender, &fakeStages{})

	outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSent {
		t.Fatalf("expected sent, got %s", outcome)
	}
	if sender.sent() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.sent())
	}
	if got := sender.payloads[0]; got.Text != "hola" || got.SequenceStepPosition == nil || *got.SequenceStepPosition != 1 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if pos := store.get(contact.ID).SequencePosition; pos != 1 {
		t.Fatalf("expected position 1 after send, got %d", pos)
	}
}

func TestEvaluateOncePausesOnClientReply(t *testing.T) {
	seqID := uuid.New()
	contact := runningContact(seqID, 0, time.Hour)
	replied := time.Now().Add(-10 * time.Minute)
	contact.LastInteractionAt = &replied
	contact.LastInteractionSource = contacts.SourceClient
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, contact.AccountID,
		Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
	)
	sender := &fakeSender{}
	engine := newTestEngine(store, seqs, &fakeMessages{}, sender, &fakeStages{})

	outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomePaused {
		t.Fatalf("expected paused, got %s", outcome)
	}
	if sender.sent() != 0 {
		t.Fatalf("client reply must pause before sending, got %d sends", sender.sent())
	}
	after := store.get(contact.ID)
	if after.State() != contacts.StatePaused {
		t.Fatalf("expected paused state, got %s", after.State())
	}
	if after.SequencePosition != 0 {
		t.Fatalf("pause must keep position, got %d", after.SequencePosition)
	}
}

func TestEvaluateOnceWaitsOnUnelapsedPause(t *testing.T) {
	seqID := uuid.New()
	contact := runningContact(seqID, 1, time.Hour)
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, contact.AccountID,
		Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
		Step{OrderPosition: 2, Type: StepPause, Pause: &PauseStep{DelayHoursFromPrevious: 24}},
		Step{OrderPosition: 3, Type: StepMessage, Message: &MessageStep{Text: "seguimos"}},
	)
	lastSend := time.Now().Add(-2 * time.Hour)
	msgs := &fakeMessages{outbound: &messaging.Message{CreatedAt: lastSend}}
	sender := &fakeSender{}
	engine := newTestEngine(store, seqs, msgs, sender, &fakeStages{})

	outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeWaiting {
		t.Fatalf("expected waiting, got %s", outcome)
	}
	if sender.sent() != 0 {
		t.Fatalf("expected no sends while waiting, got %d", sender.sent())
	}
	if pos := store.get(contact.ID).SequencePosition; pos != 1 {
		t.Fatalf("waiting must not advance, got %d", pos)
	}
}

func TestEvaluateOnceAdvancesPastElapsedPause(t *testing.T) {
	seqID := uuid.New()
	contact := runningContact(seqID, 1, 48*time.Hour)
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, contact.AccountID,
		Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
		Step{OrderPosition: 2, Type: StepPause, Pause: &PauseStep{DelayHoursFromPrevious: 24}},
		Step{OrderPosition: 3, Type: StepMessage, Message: &MessageStep{Text: "seguimos"}},
	)
	lastSend := time.Now().Add(-25 * time.Hour)
	msgs := &fakeMessages{outbound: &messaging.Message{CreatedAt: lastSend}}
	sender := &fakeSender{}
	engine := newTestEngine(store, seqs, msgs, sender, &fakeStages{})

	outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSent {
		t.Fatalf("expected sent after elapsed pause, got %s", outcome)
	}
	if sender.sent() != 1 || sender.payloads[0].Text != "seguimos" {
		t.Fatalf("expected the post-pause message, got %+v", sender.payloads)
	}
	if pos := store.get(contact.ID).SequencePosition; pos != 3 {
		t.Fatalf("expected position 3, got %d", pos)
	}
}

func TestEvaluateOnceSkipsFailedConditionStep(t *testing.T) {
	seqID := uuid.New()
	contact := runningContact(seqID, 1, time.Hour)
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, contact.AccountID,
		Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
		Step{
			OrderPosition: 2,
			Type:          StepMessage,
			Condition:     &KeywordCondition{Keywords: []string{"precio"}, MatchType: MatchAny},
			Message:       &MessageStep{Text: "lista de precios"},
		},
		Step{OrderPosition: 3, Type: StepMessage, Message: &MessageStep{Text: "seguimos"}},
	)
	inbound := &messaging.Message{Body: "gracias", CreatedAt: time.Now().Add(-5 * time.Minute)}
	msgs := &fakeMessages{inbound: inbound}
	sender := &fakeSender{}
	engine := newTestEngine(store, seqs, msgs, sender, &fakeStages{})

	outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSent {
		t.Fatalf("expected sent, got %s", outcome)
	}
	if sender.sent() != 1 || sender.payloads[0].Text != "seguimos" {
		t.Fatalf("expected the unconditioned step to send, got %+v", sender.payloads)
	}
	if pos := store.get(contact.ID).SequencePosition; pos != 3 {
		t.Fatalf("expected position 3 past the failed condition, got %d", pos)
	}
}

func TestEvaluateOnceSendsConditionStepOnKeywordMatch(t *testing.T) {
	seqID := uuid.New()
	contact := runningContact(seqID, 1, time.Hour)
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, contact.AccountID,
		Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
		Step{
			OrderPosition: 2,
			Type:          StepMessage,
			Condition:     &KeywordCondition{Keywords: []string{"precio"}, MatchType: MatchAny},
			Message:       &MessageStep{Text: "lista de precios"},
		},
	)
	inbound := &messaging.Message{Body: "cuál es el PRECIO?", CreatedAt: time.Now().Add(-5 * time.Minute)}
	msgs := &fakeMessages{inbound: inbound}
	sender := &fakeSender{}
	engine := newTestEngine(store, seqs, msgs, sender, &fakeStages{})

	outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSent {
		t.Fatalf("expected sent, got %s", outcome)
	}
	if sender.sent() != 1 || sender.payloads[0].Text != "lista de precios" {
		t.Fatalf("expected the conditioned step to send, got %+v", sender.payloads)
	}
}

func TestEvaluateOnceStageChangeDefersNextMessage(t *testing.T) {
	seqID := uuid.New()
	contact := runningContact(seqID, 0, time.Hour)
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, contact.AccountID,
		Step{OrderPosition: 1, Type: StepStageChange, StageChange: &StageChangeStep{TargetStageName: "Negociación"}},
		Step{OrderPosition: 2, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
	)
	sender := &fakeSender{}
	stages := &fakeStages{}
	engine := newTestEngine(store, seqs, &fakeMessages{}, sender, stages)

	outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeStageChanged {
		t.Fatalf("expected stage_changed, got %s", outcome)
	}
	if len(stages.targets) != 1 || stages.targets[0] != "Negociación" {
		t.Fatalf("expected one stage change to Negociación, got %v", stages.targets)
	}
	if sender.sent() != 0 {
		t.Fatalf("message after a stage change must wait for the next sweep, got %d sends", sender.sent())
	}
	if pos := store.get(contact.ID).SequencePosition; pos != 1 {
		t.Fatalf("expected position 1 after stage change, got %d", pos)
	}

	// Next sweep picks up the deferred message.
	outcome, err = engine.EvaluateOnce(context.Background(), contact.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSent {
		t.Fatalf("expected sent on the following sweep, got %s", outcome)
	}
	if sender.sent() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.sent())
	}
}

func TestEvaluateOnceStopsAfterStageAutomationRebinds(t *testing.T) {
	seqID := uuid.New()
	newSeqID := uuid.New()
	contact := runningContact(seqID, 0, time.Hour)
	store := newFakeContacts(contact)
	seqs := &fakeSequences{byID: map[uuid.UUID]Sequence{
		seqID: {ID: seqID, AccountID: contact.AccountID, Active: true, Steps: []Step{
			{OrderPosition: 1, Type: StepStageChange, StageChange: &StageChangeStep{TargetStageName: "Cierre"}},
			{OrderPosition: 2, Type: StepMessage, Message: &MessageStep{Text: "no debe salir"}},
		}},
		newSeqID: {ID: newSeqID, AccountID: contact.AccountID, Active: true, Steps: []Step{
			{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "bienvenida"}},
		}},
	}}
	stages := &fakeStages{
		onExecute: func(ctx context.Context, c contacts.Contact, ctl pipeline.SequenceControl) error {
			return ctl.Assign(ctx, c.ID, newSeqID)
		},
	}
	sender := &fakeSender{}
	engine := newTestEngine(store, seqs, &fakeMessages{}, sender, stages)

	outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeStageChanged {
		t.Fatalf("expected stage_changed after rebind, got %s", outcome)
	}
	if sender.sent() != 0 {
		t.Fatalf("rebind must end the evaluation, got %d sends", sender.sent())
	}
	after := store.get(contact.ID)
	if after.SequenceID == nil || *after.SequenceID != newSeqID {
		t.Fatalf("expected rebind to %s, got %v", newSeqID, after.SequenceID)
	}
	if after.SequencePosition != 0 {
		t.Fatalf("rebind must reset position, got %d", after.SequencePosition)
	}
}

func TestEvaluateOnceStageChangeFailureLeavesPositionForRetry(t *testing.T) {
	seqID := uuid.New()
	contact := runningContact(seqID, 0, time.Hour)
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, contact.AccountID,
		Step{OrderPosition: 1, Type: StepStageChange, StageChange: &StageChangeStep{TargetStageName: "Cierre"}},
	)
	stages := &fakeStages{err: context.DeadlineExceeded}
	engine := newTestEngine(store, seqs, &fakeMessages{}, &fakeSender{}, stages)

	outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", outcome)
	}
	if pos := store.get(contact.ID).SequencePosition; pos != 0 {
		t.Fatalf("failed stage change must not advance, got %d", pos)
	}
}

func TestEvaluateOnceOutcomes(t *testing.T) {
	seqID := uuid.New()

	t.Run("blocked contact", func(t *testing.T) {
		contact := runningContact(seqID, 0, time.Hour)
		contact.IsBlocked = true
		store := newFakeContacts(contact)
		engine := newTestEngine(store, &fakeSequences{byID: map[uuid.UUID]Sequence{}}, &fakeMessages{}, &fakeSender{}, &fakeStages{})

		outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
		if err != nil || outcome != OutcomeBlocked {
			t.Fatalf("expected blocked, got %s err=%v", outcome, err)
		}
	})

	t.Run("no sequence", func(t *testing.T) {
		contact := contacts.Contact{ID: uuid.New(), AccountID: uuid.New()}
		store := newFakeContacts(contact)
		engine := newTestEngine(store, &fakeSequences{byID: map[uuid.UUID]Sequence{}}, &fakeMessages{}, &fakeSender{}, &fakeStages{})

		outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
		if err != nil || outcome != OutcomeNoSequence {
			t.Fatalf("expected no_sequence, got %s err=%v", outcome, err)
		}
	})

	t.Run("exhausted stays running", func(t *testing.T) {
		contact := runningContact(seqID, 2, time.Hour)
		store := newFakeContacts(contact)
		seqs := messageSeq(seqID, contact.AccountID,
			Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
			Step{OrderPosition: 2, Type: StepMessage, Message: &MessageStep{Text: "adios"}},
		)
		engine := newTestEngine(store, seqs, &fakeMessages{}, &fakeSender{}, &fakeStages{})

		outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
		if err != nil || outcome != OutcomeExhausted {
			t.Fatalf("expected exhausted, got %s err=%v", outcome, err)
		}
		if state := store.get(contact.ID).State(); state != contacts.StateRunning {
			t.Fatalf("exhausted must stay running, got %s", state)
		}
	})

	t.Run("missing sequence definition", func(t *testing.T) {
		contact := runningContact(seqID, 0, time.Hour)
		store := newFakeContacts(contact)
		engine := newTestEngine(store, &fakeSequences{byID: map[uuid.UUID]Sequence{}}, &fakeMessages{}, &fakeSender{}, &fakeStages{})

		outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
		if err != nil || outcome != OutcomeSkipped {
			t.Fatalf("expected skipped, got %s err=%v", outcome, err)
		}
	})

	t.Run("position conflict", func(t *testing.T) {
		contact := runningContact(seqID, 0, time.Hour)
		store := newFakeContacts(contact)
		store.failAdvance = true
		seqs := messageSeq(seqID, contact.AccountID,
			Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
		)
		engine := newTestEngine(store, seqs, &fakeMessages{}, &fakeSender{}, &fakeStages{})

		outcome, err := engine.EvaluateOnce(context.Background(), contact.ID)
		if err != nil || outcome != OutcomeConflict {
			t.Fatalf("expected conflict, got %s err=%v", outcome, err)
		}
	})
}

func TestAssignPauseResumeStopLifecycle(t *testing.T) {
	seqID := uuid.New()
	accountID := uuid.New()
	contact := contacts.Contact{ID: uuid.New(), AccountID: accountID}
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, accountID,
		Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
	)
	engine := newTestEngine(store, seqs, &fakeMessages{}, &fakeSender{}, &fakeStages{})
	ctx := context.Background()

	if err := engine.Assign(ctx, contact.ID, seqID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if state := store.get(contact.ID).State(); state != contacts.StateRunning {
		t.Fatalf("expected running after assign, got %s", state)
	}

	if err := engine.Pause(ctx, contact.ID, PauseReasonManual); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if state := store.get(contact.ID).State(); state != contacts.StatePaused {
		t.Fatalf("expected paused, got %s", state)
	}
	if err := engine.Pause(ctx, contact.ID, PauseReasonManual); err == nil {
		t.Fatal("pausing a paused contact must fail")
	}

	if err := engine.Resume(ctx, contact.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if state := store.get(contact.ID).State(); state != contacts.StateRunning {
		t.Fatalf("expected running after resume, got %s", state)
	}

	if err := engine.Stop(ctx, contact.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	after := store.get(contact.ID)
	if after.SequenceID != nil || after.SequenceActive {
		t.Fatalf("stop must clear the binding, got %+v", after)
	}
}

func TestAssignRejectsCrossAccountSequence(t *testing.T) {
	seqID := uuid.New()
	contact := contacts.Contact{ID: uuid.New(), AccountID: uuid.New()}
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, uuid.New(), // different account
		Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
	)
	engine := newTestEngine(store, seqs, &fakeMessages{}, &fakeSender{}, &fakeStages{})

	if err := engine.Assign(context.Background(), contact.ID, seqID); err == nil {
		t.Fatal("expected cross-account assign to fail")
	}
}

func TestResumeRejectsDeactivatedSequence(t *testing.T) {
	seqID := uuid.New()
	contact := runningContact(seqID, 1, time.Hour)
	contact.SequenceActive = false
	store := newFakeContacts(contact)
	seqs := &fakeSequences{byID: map[uuid.UUID]Sequence{
		seqID: {ID: seqID, AccountID: contact.AccountID, Active: false},
	}}
	engine := newTestEngine(store, seqs, &fakeMessages{}, &fakeSender{}, &fakeStages{})

	if err := engine.Resume(context.Background(), contact.ID); err == nil {
		t.Fatal("expected resume of a deactivated sequence to fail")
	}
}

func TestResumeRejectsWhileClientReplyPending(t *testing.T) {
	seqID := uuid.New()
	contact := runningContact(seqID, 1, time.Hour)
	contact.SequenceActive = false
	replied := time.Now().Add(-5 * time.Minute)
	contact.LastInteractionAt = &replied
	contact.LastInteractionSource = contacts.SourceClient
	store := newFakeContacts(contact)
	seqs := messageSeq(seqID, contact.AccountID,
		Step{OrderPosition: 2, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
	)
	engine := newTestEngine(store, seqs, &fakeMessages{}, &fakeSender{}, &fakeStages{})

	// The reply that pauses the sequence is still newer than the start;
	// resuming now would just be re-paused by the next sweep.
	if err := engine.Resume(context.Background(), contact.ID); err == nil {
		t.Fatal("expected resume to fail while the client reply is unanswered")
	}
	if store.get(contact.ID).SequenceActive {
		t.Fatal("contact must stay paused")
	}

	// An agent reply clears the condition.
	agentReply := time.Now()
	paused := store.get(contact.ID)
	paused.LastInteractionAt = &agentReply
	paused.LastInteractionSource = contacts.SourceAgent
	store.put(paused)

	if err := engine.Resume(context.Background(), contact.ID); err != nil {
		t.Fatalf("expected resume to succeed once the condition cleared: %v", err)
	}
	if !store.get(contact.ID).SequenceActive {
		t.Fatal("contact must be running after resume")
	}
}

func TestSweepAccountOnlyEvaluatesOwnContacts(t *testing.T) {
	seqID := uuid.New()
	accountID := uuid.New()
	seqs := messageSeq(seqID, accountID,
		Step{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
	)

	mine := runningContact(seqID, 0, time.Hour)
	mine.AccountID = accountID
	other := runningContact(seqID, 0, time.Hour)

	store := newFakeContacts(mine, other)
	engine := newTestEngine(store, seqs, &fakeMessages{}, &fakeSender{}, &fakeStages{})

	stats, err := engine.SweepAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Evaluated != 1 || stats.Sent != 1 {
		t.Fatalf("expected 1 evaluated/sent for the account, got %+v", stats)
	}
	if pos := store.get(other.ID).SequencePosition; pos != 0 {
		t.Fatalf("other account's contact must be untouched, got position %d", pos)
	}
}

func TestSweepAllAggregatesOutcomes(t *testing.T) {
	seqID := uuid.New()
	accountID := uuid.New()
	seqs := &fakeSequences{byID: map[uuid.UUID]Sequence{
		seqID: {ID: seqID, AccountID: accountID, Active: true, Steps: []Step{
			{OrderPosition: 1, Type: StepMessage, Message: &MessageStep{Text: "hola"}},
		}},
	}}

	sendable := runningContact(seqID, 0, time.Hour)
	sendable.AccountID = accountID

	replied := runningContact(seqID, 0, time.Hour)
	replied.AccountID = accountID
	when := time.Now().Add(-time.Minute)
	replied.LastInteractionAt = &when
	replied.LastInteractionSource = contacts.SourceClient

	idle := contacts.Contact{ID: uuid.New(), AccountID: accountID}

	store := newFakeContacts(sendable, replied, idle)
	sender := &fakeSender{}
	engine := newTestEngine(store, seqs, &fakeMessages{}, sender, &fakeStages{})

	stats, err := engine.SweepAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Evaluated != 2 {
		t.Fatalf("expected 2 evaluated, got %d", stats.Evaluated)
	}
	if stats.Sent != 1 || stats.Paused != 1 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
