package blockdetect

import (
	"context"
	"errors"
	"time"

	"outreach_backend/internal/accounts"
	"outreach_backend/internal/contacts"
	"outreach_backend/internal/events"
	"outreach_backend/internal/messaging"
	"outreach_backend/internal/sequences"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// maxAuditMessages caps how many stale messages one audit re-queries per
// contact, keeping provider traffic bounded.
const maxAuditMessages = 10

type ContactStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (contacts.Contact, error)
	UpdateBlockMetrics(ctx context.Context, contactID uuid.UUID, m contacts.BlockMetrics) error
	RecordDelivery(ctx context.Context, contactID uuid.UUID, at time.Time) error
}

type MessageStore interface {
	ListContactsWithStaleSent(ctx context.Context, before time.Time) ([]uuid.UUID, error)
	ListStaleSentForContact(ctx context.Context, contactID uuid.UUID, before time.Time, limit int) ([]messaging.Message, error)
	UpdateStatus(ctx context.Context, messageID uuid.UUID, status messaging.Status) error
}

type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (accounts.Account, error)
}

// StatusChecker re-queries the provider for a message's delivery status.
type StatusChecker interface {
	MessageStatus(ctx context.Context, acct accounts.Account, providerMessageID string) (string, error)
}

// SequencePauser suspends a contact's running sequence.
type SequencePauser interface {
	Pause(ctx context.Context, contactID uuid.UUID, reason string) error
}

// IssueStore records and resolves delivery issues.
type IssueStore interface {
	Raise(ctx context.Context, issue Issue) (Issue, error)
	ResolveForContact(ctx context.Context, contactID uuid.UUID, issueType IssueType) error
}

type Config interface {
	GetUndeliveredThreshold() time.Duration
	GetBlockAuditRate() float64
}

// AuditStats summarizes one audit pass.
type AuditStats struct {
	Contacts int
	Checked  int
	Flagged  int
	Cleared  int
}

// Detector runs the periodic delivery audit and maintains per-contact block
// state.
type Detector struct {
	contacts ContactStore
	messages MessageStore
	accounts AccountStore
	provider StatusChecker
	pauser   SequencePauser
	issues   IssueStore
	bus      events.Bus
	log      *logger.Logger

	threshold time.Duration
	limiter   *rate.Limiter
	now       func() time.Time
}

func NewDetector(
	contactStore ContactStore,
	messages MessageStore,
	accountStore AccountStore,
	provider StatusChecker,
	pauser SequencePauser,
	issues IssueStore,
	bus events.Bus,
	cfg Config,
	log *logger.Logger,
) *Detector {
	threshold := cfg.GetUndeliveredThreshold()
	if threshold <= 0 {
		threshold = 72 * time.Hour
	}
	perSecond := cfg.GetBlockAuditRate()
	if perSecond <= 0 {
		perSecond = 5
	}
	return &Detector{
		contacts:  contactStore,
		messages:  messages,
		accounts:  accountStore,
		provider:  provider,
		pauser:    pauser,
		issues:    issues,
		bus:       bus,
		log:       log,
		threshold: threshold,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		now:       time.Now,
	}
}

// Audit walks every contact with outbound messages stuck in 'sent' past the
// threshold, re-queries their provider status and updates block state.
func (d *Detector) Audit(ctx context.Context) (AuditStats, error) {
	before := d.now().Add(-d.threshold)

	ids, err := d.messages.ListContactsWithStaleSent(ctx, before)
	if err != nil {
		return AuditStats{}, apperr.Wrap(apperr.KindInternal, "list stale contacts", err)
	}

	var stats AuditStats
	for _, id := range ids {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		outcome, err := d.auditContact(ctx, id, before)
		if err != nil {
			d.log.WithContact(id).Error("block audit failed", "error", err)
			continue
		}
		stats.Contacts++
		stats.Checked += outcome.checked
		if outcome.blocked {
			stats.Flagged++
		}
		if outcome.cleared {
			stats.Cleared++
		}
	}

	d.log.Info("block audit complete",
		"contacts", stats.Contacts, "checked", stats.Checked,
		"flagged", stats.Flagged, "cleared", stats.Cleared)
	return stats, nil
}

type auditOutcome struct {
	checked int
	blocked bool
	cleared bool
}

func (d *Detector) auditContact(ctx context.Context, contactID uuid.UUID, before time.Time) (auditOutcome, error) {
	log := d.log.WithContact(contactID)

	contact, err := d.contacts.GetByID(ctx, contactID)
	if err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			return auditOutcome{}, nil
		}
		return auditOutcome{}, err
	}

	acct, err := d.accounts.GetByID(ctx, contact.AccountID)
	if err != nil {
		return auditOutcome{}, err
	}
	if !acct.Sendable() {
		return auditOutcome{}, nil
	}

	msgs, err := d.messages.ListStaleSentForContact(ctx, contactID, before, maxAuditMessages)
	if err != nil {
		return auditOutcome{}, err
	}

	var (
		checked        int
		undelivered    int
		consecutive    int
		deliveredCount int
		seenDelivered  bool
	)
	// msgs come newest-first, so the leading undelivered run is the
	// consecutive count.
	for _, msg := range msgs {
		if msg.ProviderMessageID == nil {
			// Queued-automation sends have no provider ID to query.
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return auditOutcome{}, err
		}
		status, err := d.provider.MessageStatus(ctx, acct, *msg.ProviderMessageID)
		if err != nil {
			log.Warn("status query failed", "message_id", msg.ID.String(), "error", err)
			continue
		}
		checked++
		switch messaging.Status(status) {
		case messaging.StatusDelivered, messaging.StatusRead:
			if err := d.messages.UpdateStatus(ctx, msg.ID, messaging.Status(status)); err != nil {
				log.Warn("status update failed", "message_id", msg.ID.String(), "error", err)
			}
			if err := d.contacts.RecordDelivery(ctx, contactID, d.now()); err != nil {
				log.Warn("delivery record failed", "error", err)
			}
			deliveredCount++
			seenDelivered = true
		case messaging.StatusFailed:
			if err := d.messages.UpdateStatus(ctx, msg.ID, messaging.StatusFailed); err != nil {
				log.Warn("status update failed", "message_id", msg.ID.String(), "error", err)
			}
			undelivered++
			if !seenDelivered {
				consecutive++
			}
		default:
			undelivered++
			if !seenDelivered {
				consecutive++
			}
		}
	}

	if checked == 0 {
		return auditOutcome{}, nil
	}

	if undelivered == 0 {
		return d.clearContact(ctx, contact, auditOutcome{checked: checked})
	}

	probability := auditProbability(undelivered, checked, consecutive)
	heuristic := CalculateBlockProbability(Metrics{
		ConsecutiveUndelivered: consecutive,
		TotalMessagesSent:      contact.TotalMessagesSent,
		TotalMessagesDelivered: contact.TotalMessagesDelivered + deliveredCount,
		LastDeliveredAt:        contact.LastDeliveredAt,
	}, d.now())
	if heuristic > probability {
		probability = heuristic
	}

	verdict := VerdictFor(probability)
	blocked := verdict == VerdictBlocked

	if err := d.contacts.UpdateBlockMetrics(ctx, contactID, contacts.BlockMetrics{
		ConsecutiveUndelivered: consecutive,
		BlockProbability:       probability,
		IsBlocked:              blocked,
	}); err != nil {
		return auditOutcome{checked: checked}, err
	}

	if verdict != VerdictClear {
		if _, err := d.issues.Raise(ctx, Issue{
			AccountID:   contact.AccountID,
			ContactID:   contactID,
			Type:        IssuePotentialBlock,
			Probability: probability,
			Details:     "delivery audit: " + string(verdict),
		}); err != nil {
			log.Warn("raising delivery issue failed", "error", err)
		}
	}

	if blocked {
		d.log.BlockEvent(contactID, probability, true)
		if err := d.pauser.Pause(ctx, contactID, sequences.PauseReasonBlockSuspected); err != nil {
			// Contact may have no running sequence. Not a failure of the audit.
			log.Debug("pause on block skipped", "error", err)
		}
		d.bus.Publish(ctx, events.ContactBlocked{
			BaseEvent:   events.NewBaseEvent(),
			ContactID:   contactID,
			AccountID:   contact.AccountID,
			Probability: probability,
		})
	}

	return auditOutcome{checked: checked, blocked: blocked}, nil
}

func (d *Detector) clearContact(ctx context.Context, contact contacts.Contact, outcome auditOutcome) (auditOutcome, error) {
	if err := d.contacts.UpdateBlockMetrics(ctx, contact.ID, contacts.BlockMetrics{
		ConsecutiveUndelivered: 0,
		BlockProbability:       0,
		IsBlocked:              false,
	}); err != nil {
		return outcome, err
	}
	if contact.IsBlocked || contact.BlockProbability >= SuspicionThreshold {
		if err := d.issues.ResolveForContact(ctx, contact.ID, IssuePotentialBlock); err != nil {
			d.log.WithContact(contact.ID).Warn("resolving delivery issues failed", "error", err)
		}
		d.bus.Publish(ctx, events.ContactUnblocked{
			BaseEvent: events.NewBaseEvent(),
			ContactID: contact.ID,
		})
		outcome.cleared = true
	}
	return outcome, nil
}

// Unblock manually clears a contact's block flag and resolves its issues.
func (d *Detector) Unblock(ctx context.Context, contactID uuid.UUID) error {
	contact, err := d.contacts.GetByID(ctx, contactID)
	if err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			return apperr.NotFound("contact not found").WithOp("blockdetect.Unblock")
		}
		return apperr.Wrap(apperr.KindInternal, "load contact", err)
	}
	_, err = d.clearContact(ctx, contact, auditOutcome{})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "clear block state", err)
	}
	return nil
}

// Inspect reports the heuristic probability for a contact from its stored
// counters, without touching the provider.
func (d *Detector) Inspect(ctx context.Context, contactID uuid.UUID) (contacts.Contact, int, Verdict, error) {
	contact, err := d.contacts.GetByID(ctx, contactID)
	if err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			return contacts.Contact{}, 0, VerdictClear, apperr.NotFound("contact not found").WithOp("blockdetect.Inspect")
		}
		return contacts.Contact{}, 0, VerdictClear, apperr.Wrap(apperr.KindInternal, "load contact", err)
	}

	probability := CalculateBlockProbability(Metrics{
		ConsecutiveUndelivered: contact.ConsecutiveUndelivered,
		TotalMessagesSent:      contact.TotalMessagesSent,
		TotalMessagesDelivered: contact.TotalMessagesDelivered,
		LastDeliveredAt:        contact.LastDeliveredAt,
	}, d.now())
	if contact.IsBlocked && probability < BlockThreshold {
		probability = contact.BlockProbability
	}
	return contact, probability, VerdictFor(probability), nil
}
