package sequences

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"outreach_backend/internal/contacts"
	"outreach_backend/internal/events"
	"outreach_backend/internal/messaging"
	"outreach_backend/internal/pipeline"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ContactStore is the contact state the engine reads and mutates.
type ContactStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (contacts.Contact, error)
	ListActiveSequenceContactIDs(ctx context.Context) ([]uuid.UUID, error)
	ListActiveSequenceContactIDsByAccount(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error)
	AssignSequence(ctx context.Context, contactID, sequenceID uuid.UUID, startedAt time.Time) error
	SetSequenceActive(ctx context.Context, contactID uuid.UUID, active bool) error
	ClearSequence(ctx context.Context, contactID uuid.UUID) error
	AdvancePosition(ctx context.Context, contactID uuid.UUID, from, to int) (bool, error)
}

// SequenceStore loads sequence definitions.
type SequenceStore interface {
	GetWithSteps(ctx context.Context, id uuid.UUID) (Sequence, error)
}

// MessageLog reads the conversation history the engine gates on.
type MessageLog interface {
	LatestOutbound(ctx context.Context, contactID uuid.UUID, maxStepPosition *int) (*messaging.Message, error)
	LatestInboundAfter(ctx context.Context, contactID uuid.UUID, after time.Time) (*messaging.Message, error)
}

// StepSender dispatches message steps through the channel router.
type StepSender interface {
	SendIntelligent(ctx context.Context, contact contacts.Contact, payload messaging.Payload) (messaging.SendResult, error)
}

// StageMover executes stage_change steps against the pipeline.
type StageMover interface {
	ExecuteStageChange(ctx context.Context, contact contacts.Contact, targetStageName string, ctl pipeline.SequenceControl) error
}

// Outcome summarizes a single contact evaluation.
type Outcome string

const (
	OutcomeNoSequence   Outcome = "no_sequence"
	OutcomePaused       Outcome = "paused"
	OutcomeWaiting      Outcome = "waiting"
	OutcomeSent         Outcome = "sent"
	OutcomeStageChanged Outcome = "stage_changed"
	OutcomeExhausted    Outcome = "exhausted"
	OutcomeConflict     Outcome = "conflict"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeBlocked      Outcome = "blocked"
)

// SweepStats aggregates one full sweep across all active contacts.
type SweepStats struct {
	Evaluated int
	Sent      int
	Paused    int
	Skipped   int
}

const (
	// PauseReasonClientResponse marks pauses caused by an inbound client reply.
	PauseReasonClientResponse = "client_response"
	// PauseReasonBlockSuspected marks pauses commanded by the block detector.
	PauseReasonBlockSuspected = "block_suspected"
	// PauseReasonManual marks operator-requested pauses.
	PauseReasonManual = "manual"
)

// Engine drives the per-contact sequence state machine. All mutations of a
// contact's sequence fields happen under that contact's keylock entry, so a
// contact is never evaluated concurrently with an Assign/Pause/Stop call.
type Engine struct {
	contacts  ContactStore
	sequences SequenceStore
	messages  MessageLog
	sender    StepSender
	stages    StageMover
	locks     *contacts.Keylock
	bus       events.Bus
	log       *logger.Logger

	sweepConcurrency int
	now              func() time.Time
}

type EngineConfig interface {
	GetSweepConcurrency() int
}

func NewEngine(
	store ContactStore,
	seqs SequenceStore,
	msgs MessageLog,
	sender StepSender,
	stages StageMover,
	locks *contacts.Keylock,
	bus events.Bus,
	cfg EngineConfig,
	log *logger.Logger,
) *Engine {
	concurrency := cfg.GetSweepConcurrency()
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		contacts:         store,
		sequences:        seqs,
		messages:         msgs,
		sender:           sender,
		stages:           stages,
		locks:            locks,
		bus:              bus,
		log:              log,
		sweepConcurrency: concurrency,
		now:              time.Now,
	}
}

// Assign starts the given sequence for a contact at position 0, replacing any
// previous assignment.
func (e *Engine) Assign(ctx context.Context, contactID, sequenceID uuid.UUID) error {
	release := e.locks.Lock(contactID)
	defer release()
	return e.assignLocked(ctx, contactID, sequenceID)
}

func (e *Engine) assignLocked(ctx context.Context, contactID, sequenceID uuid.UUID) error {
	contact, err := e.contacts.GetByID(ctx, contactID)
	if err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			return apperr.NotFound("contact not found").WithOp("sequences.Assign")
		}
		return apperr.Wrap(apperr.KindInternal, "load contact", err)
	}

	seq, err := e.sequences.GetWithSteps(ctx, sequenceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("sequence not found").WithOp("sequences.Assign")
		}
		return apperr.Wrap(apperr.KindInternal, "load sequence", err)
	}
	if !seq.Active {
		return apperr.Validation("sequence is not active").WithOp("sequences.Assign")
	}
	if seq.AccountID != contact.AccountID {
		return apperr.Validation("sequence belongs to a different account").WithOp("sequences.Assign")
	}

	if err := e.contacts.AssignSequence(ctx, contactID, sequenceID, e.now()); err != nil {
		return apperr.Wrap(apperr.KindInternal, "assign sequence", err)
	}

	e.bus.Publish(ctx, events.SequenceAssigned{
		BaseEvent:  events.NewBaseEvent(),
		ContactID:  contactID,
		AccountID:  contact.AccountID,
		SequenceID: sequenceID,
	})
	e.log.WithContact(contactID).Info("sequence assigned",
		"sequence_id", sequenceID.String())
	return nil
}

// Pause suspends automation for a contact, keeping its position.
func (e *Engine) Pause(ctx context.Context, contactID uuid.UUID, reason string) error {
	release := e.locks.Lock(contactID)
	defer release()

	contact, err := e.contacts.GetByID(ctx, contactID)
	if err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			return apperr.NotFound("contact not found").WithOp("sequences.Pause")
		}
		return apperr.Wrap(apperr.KindInternal, "load contact", err)
	}
	if contact.State() != contacts.StateRunning {
		return apperr.Conflict("contact has no running sequence").WithOp("sequences.Pause")
	}
	return e.pauseLocked(ctx, contact, reason)
}

func (e *Engine) pauseLocked(ctx context.Context, contact contacts.Contact, reason string) error {
	if err := e.contacts.SetSequenceActive(ctx, contact.ID, false); err != nil {
		return apperr.Wrap(apperr.KindInternal, "pause sequence", err)
	}
	evt := events.SequencePaused{
		BaseEvent: events.NewBaseEvent(),
		ContactID: contact.ID,
		Reason:    reason,
	}
	if contact.SequenceID != nil {
		evt.SequenceID = *contact.SequenceID
	}
	e.bus.Publish(ctx, evt)
	e.log.WithContact(contact.ID).Info("sequence paused", "reason", reason)
	return nil
}

// Resume reactivates a paused sequence at its stored position. It refuses when
// the sequence definition has been deactivated or the pause condition still
// holds.
func (e *Engine) Resume(ctx context.Context, contactID uuid.UUID) error {
	release := e.locks.Lock(contactID)
	defer release()

	contact, err := e.contacts.GetByID(ctx, contactID)
	if err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			return apperr.NotFound("contact not found").WithOp("sequences.Resume")
		}
		return apperr.Wrap(apperr.KindInternal, "load contact", err)
	}
	if contact.State() != contacts.StatePaused {
		return apperr.Conflict("contact has no paused sequence").WithOp("sequences.Resume")
	}

	seq, err := e.sequences.GetWithSteps(ctx, *contact.SequenceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("sequence no longer exists").WithOp("sequences.Resume")
		}
		return apperr.Wrap(apperr.KindInternal, "load sequence", err)
	}
	if !seq.Active {
		return apperr.Validation("sequence is not active").WithOp("sequences.Resume")
	}
	// Resuming while the client-reply condition still holds would only be
	// undone by the next sweep. Reject it so the caller sees why.
	if contact.ClientRepliedSince(contact.SequenceStartedAt) {
		return apperr.Conflict("contact replied since the sequence started").WithOp("sequences.Resume")
	}

	if err := e.contacts.SetSequenceActive(ctx, contactID, true); err != nil {
		return apperr.Wrap(apperr.KindInternal, "resume sequence", err)
	}
	e.log.WithContact(contactID).Info("sequence resumed")
	return nil
}

// Stop clears the sequence binding. Position and start time are discarded.
func (e *Engine) Stop(ctx context.Context, contactID uuid.UUID) error {
	release := e.locks.Lock(contactID)
	defer release()
	return e.stopLocked(ctx, contactID)
}

func (e *Engine) stopLocked(ctx context.Context, contactID uuid.UUID) error {
	if err := e.contacts.ClearSequence(ctx, contactID); err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			return apperr.NotFound("contact not found").WithOp("sequences.Stop")
		}
		return apperr.Wrap(apperr.KindInternal, "stop sequence", err)
	}
	e.bus.Publish(ctx, events.SequenceStopped{
		BaseEvent: events.NewBaseEvent(),
		ContactID: contactID,
	})
	e.log.WithContact(contactID).Info("sequence stopped")
	return nil
}

// sweepControl exposes assign/stop to stage automation running inside an
// evaluation, where the contact lock is already held. pipeline stage bindings
// must not re-enter the public locking API from there.
type sweepControl struct {
	engine *Engine
}

func (c sweepControl) Assign(ctx context.Context, contactID, sequenceID uuid.UUID) error {
	return c.engine.assignLocked(ctx, contactID, sequenceID)
}

func (c sweepControl) Stop(ctx context.Context, contactID uuid.UUID) error {
	return c.engine.stopLocked(ctx, contactID)
}

// EvaluateOnce runs the sweep algorithm for one contact under its lock.
func (e *Engine) EvaluateOnce(ctx context.Context, contactID uuid.UUID) (Outcome, error) {
	release := e.locks.Lock(contactID)
	defer release()
	return e.evaluateLocked(ctx, contactID)
}

func (e *Engine) evaluateLocked(ctx context.Context, contactID uuid.UUID) (Outcome, error) {
	log := e.log.WithContact(contactID)

	contact, err := e.contacts.GetByID(ctx, contactID)
	if err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			log.Warn("evaluation skipped, contact gone")
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, apperr.Wrap(apperr.KindInternal, "load contact", err)
	}

	if contact.IsBlocked {
		return OutcomeBlocked, nil
	}
	if contact.State() != contacts.StateRunning {
		return OutcomeNoSequence, nil
	}

	// Highest-priority rule: a client reply since assignment pauses the
	// sequence before any step is considered.
	if contact.ClientRepliedSince(contact.SequenceStartedAt) {
		if err := e.pauseLocked(ctx, contact, PauseReasonClientResponse); err != nil {
			return OutcomeSkipped, err
		}
		return OutcomePaused, nil
	}

	seq, err := e.sequences.GetWithSteps(ctx, *contact.SequenceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Dangling binding. Leave state untouched so an operator can see it.
			log.Warn("evaluation skipped, sequence definition missing",
				"sequence_id", contact.SequenceID.String())
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, apperr.Wrap(apperr.KindInternal, "load sequence", err)
	}
	if !seq.Active {
		log.Debug("evaluation skipped, sequence deactivated",
			"sequence_id", seq.ID.String())
		return OutcomeSkipped, nil
	}

	position := contact.SequencePosition
	stageChanged := false

	for {
		step := seq.NextStepAfter(position)
		if step == nil {
			log.Debug("sequence exhausted", "position", position)
			return OutcomeExhausted, nil
		}

		if step.Condition != nil {
			matched, err := e.conditionMatched(ctx, contact, position, *step.Condition)
			if err != nil {
				return OutcomeSkipped, err
			}
			if !matched {
				ok, err := e.advance(ctx, contact.ID, position, step.OrderPosition)
				if err != nil {
					return OutcomeSkipped, err
				}
				if !ok {
					return OutcomeConflict, nil
				}
				position = step.OrderPosition
				continue
			}
		}

		switch step.Type {
		case StepPause:
			elapsed, err := e.elapsedSinceLastOutbound(ctx, contact)
			if err != nil {
				return OutcomeSkipped, err
			}
			if elapsed < step.Pause.Delay() {
				return OutcomeWaiting, nil
			}
			ok, err := e.advance(ctx, contact.ID, position, step.OrderPosition)
			if err != nil {
				return OutcomeSkipped, err
			}
			if !ok {
				return OutcomeConflict, nil
			}
			position = step.OrderPosition

		case StepStageChange:
			if err := e.stages.ExecuteStageChange(ctx, contact, step.StageChange.TargetStageName, sweepControl{e}); err != nil {
				// Not advanced. The move is retried next sweep.
				log.Warn("stage change failed", "target", step.StageChange.TargetStageName, "error", err)
				return OutcomeSkipped, nil
			}
			// Stage automation may have rebound or stopped the sequence. The
			// new binding owns the position then; advancing the old one here
			// would clobber it.
			fresh, err := e.contacts.GetByID(ctx, contact.ID)
			if err != nil {
				return OutcomeStageChanged, nil
			}
			if fresh.SequenceID == nil || *fresh.SequenceID != seq.ID || !fresh.SequenceActive {
				return OutcomeStageChanged, nil
			}
			ok, err := e.advance(ctx, contact.ID, position, step.OrderPosition)
			if err != nil {
				return OutcomeSkipped, err
			}
			if !ok {
				return OutcomeConflict, nil
			}
			e.publishStepExecuted(ctx, contact.ID, seq.ID, *step)
			contact = fresh
			contact.SequencePosition = step.OrderPosition
			position = step.OrderPosition
			stageChanged = true

		case StepMessage:
			if stageChanged {
				// A stage change already ran this sweep. The message at the
				// new position goes out on the next sweep, after the lead's
				// new stage has settled.
				return OutcomeStageChanged, nil
			}
			payload := payloadForStep(*step)
			if _, err := e.sender.SendIntelligent(ctx, contact, payload); err != nil {
				log.Error("step send failed",
					"position", step.OrderPosition, "error", err)
				return OutcomeSkipped, nil
			}
			// The send already happened. Persist the position even when the
			// surrounding sweep is being cancelled, or the step repeats.
			ok, err := e.advance(context.WithoutCancel(ctx), contact.ID, position, step.OrderPosition)
			if err != nil {
				return OutcomeSkipped, err
			}
			if !ok {
				log.Warn("position conflict after send", "position", step.OrderPosition)
				return OutcomeConflict, nil
			}
			e.publishStepExecuted(ctx, contact.ID, seq.ID, *step)
			return OutcomeSent, nil

		default:
			log.Error("unknown step type", "type", string(step.Type), "position", step.OrderPosition)
			return OutcomeSkipped, nil
		}
	}
}

func (e *Engine) advance(ctx context.Context, contactID uuid.UUID, from, to int) (bool, error) {
	ok, err := e.contacts.AdvancePosition(ctx, contactID, from, to)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "advance position", err)
	}
	return ok, nil
}

// conditionMatched checks the contact's most recent inbound message against
// the step's keyword condition. No inbound message since the last outbound
// send at or before the current position means the condition fails.
func (e *Engine) conditionMatched(ctx context.Context, contact contacts.Contact, position int, cond KeywordCondition) (bool, error) {
	since := time.Time{}
	if contact.SequenceStartedAt != nil {
		since = *contact.SequenceStartedAt
	}

	maxPos := position
	last, err := e.messages.LatestOutbound(ctx, contact.ID, &maxPos)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "load last outbound", err)
	}
	if last != nil && last.CreatedAt.After(since) {
		since = last.CreatedAt
	}

	inbound, err := e.messages.LatestInboundAfter(ctx, contact.ID, since)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "load inbound reply", err)
	}
	if inbound == nil {
		return false, nil
	}
	return cond.Matches(inbound.Body), nil
}

// elapsedSinceLastOutbound measures pause delays from the most recent outbound
// message, falling back to the sequence start time.
func (e *Engine) elapsedSinceLastOutbound(ctx context.Context, contact contacts.Contact) (time.Duration, error) {
	last, err := e.messages.LatestOutbound(ctx, contact.ID, nil)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "load last outbound", err)
	}
	ref := e.now()
	switch {
	case last != nil:
		ref = last.CreatedAt
	case contact.SequenceStartedAt != nil:
		ref = *contact.SequenceStartedAt
	}
	return e.now().Sub(ref), nil
}

func payloadForStep(step Step) messaging.Payload {
	pos := step.OrderPosition
	payload := messaging.Payload{
		Kind:                 messaging.PayloadText,
		SequenceStepPosition: &pos,
	}
	if step.Message == nil {
		return payload
	}
	if step.Message.PayloadType != "" {
		payload.Kind = messaging.PayloadKind(step.Message.PayloadType)
	}
	payload.Text = step.Message.Text
	payload.MediaRef = step.Message.MediaRef
	payload.TemplateID = step.Message.TemplateID
	return payload
}

func (e *Engine) publishStepExecuted(ctx context.Context, contactID, sequenceID uuid.UUID, step Step) {
	e.bus.Publish(ctx, events.StepExecuted{
		BaseEvent:    events.NewBaseEvent(),
		ContactID:    contactID,
		SequenceID:   sequenceID,
		StepPosition: step.OrderPosition,
		StepType:     string(step.Type),
	})
}

// SweepAll evaluates every contact with an active sequence. Failures are
// isolated per contact; the sweep itself only aborts on context cancellation.
func (e *Engine) SweepAll(ctx context.Context) (SweepStats, error) {
	ids, err := e.contacts.ListActiveSequenceContactIDs(ctx)
	if err != nil {
		return SweepStats{}, apperr.Wrap(apperr.KindInternal, "list sweep contacts", err)
	}
	return e.sweep(ctx, ids)
}

// SweepAccount evaluates only one account's contacts. Backs the operator
// endpoint, which must not touch other tenants.
func (e *Engine) SweepAccount(ctx context.Context, accountID uuid.UUID) (SweepStats, error) {
	ids, err := e.contacts.ListActiveSequenceContactIDsByAccount(ctx, accountID)
	if err != nil {
		return SweepStats{}, apperr.Wrap(apperr.KindInternal, "list sweep contacts", err)
	}
	return e.sweep(ctx, ids)
}

func (e *Engine) sweep(ctx context.Context, ids []uuid.UUID) (SweepStats, error) {
	start := e.now()

	var sent, paused, skipped atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(e.sweepConcurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, err := e.EvaluateOnce(ctx, id)
			if err != nil {
				skipped.Add(1)
				e.log.WithContact(id).Error("evaluation failed", "error", err)
				return nil
			}
			switch outcome {
			case OutcomeSent:
				sent.Add(1)
			case OutcomePaused:
				paused.Add(1)
			case OutcomeSkipped, OutcomeConflict:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := SweepStats{
		Evaluated: len(ids),
		Sent:      int(sent.Load()),
		Paused:    int(paused.Load()),
		Skipped:   int(skipped.Load()),
	}
	e.log.SweepResult(stats.Evaluated, stats.Sent, stats.Paused, stats.Skipped,
		float64(e.now().Sub(start).Milliseconds()))
	return stats, ctx.Err()
}
