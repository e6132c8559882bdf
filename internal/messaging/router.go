package messaging

import (
	"context"
	"time"

	"outreach_backend/internal/accounts"
	"outreach_backend/internal/contacts"
	"outreach_backend/internal/events"
	"outreach_backend/internal/messaging/provider"
	"outreach_backend/internal/messaging/queue"
	"outreach_backend/internal/messaging/templates"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/logger"

	"github.com/google/uuid"
)

// PayloadKind is the content type of an outbound payload.
type PayloadKind string

const (
	PayloadText     PayloadKind = "text"
	PayloadImage    PayloadKind = "image"
	PayloadVideo    PayloadKind = "video"
	PayloadAudio    PayloadKind = "audio"
	PayloadDocument PayloadKind = "document"
)

// Payload is one outbound send request.
type Payload struct {
	Kind                 PayloadKind
	Text                 string
	MediaRef             string
	TemplateID           *uuid.UUID
	SequenceStepPosition *int
}

// SendResult reports how a payload was delivered.
type SendResult struct {
	Method    SendMethod
	Message   Message
	QueueItem *queue.Item
}

// ProviderAPI is the slice of the cloud client the router depends on.
type ProviderAPI interface {
	SendText(ctx context.Context, acct accounts.Account, to, text string) (string, error)
	SendMedia(ctx context.Context, acct accounts.Account, to string, kind provider.MediaKind, mediaRef, caption string) (string, error)
	SendTemplate(ctx context.Context, acct accounts.Account, to, name, language string, params []string) (string, error)
}

// AccountSource resolves the sending account for a contact.
type AccountSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (accounts.Account, error)
}

// TemplateSource loads templates for the templated-send path.
type TemplateSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (templates.Template, error)
}

// TemplateContextBuilder assembles the CRM variable context for a contact.
// The pipeline module provides the stage/product context; a nil builder
// degrades to contact-only context with literal fallbacks.
type TemplateContextBuilder interface {
	BuildTemplateContext(ctx context.Context, contact contacts.Contact) (templates.Context, error)
}

// QueueWriter persists fallback queue items.
type QueueWriter interface {
	Insert(ctx context.Context, params queue.InsertParams) (queue.Item, error)
}

// MessageWriter appends to the message log.
type MessageWriter interface {
	Insert(ctx context.Context, params InsertParams) (Message, error)
}

// SendRecorder bumps per-contact channel counters.
type SendRecorder interface {
	RecordSend(ctx context.Context, contactID uuid.UUID, viaCloudAPI bool) error
}

// WindowCalculator computes delivery-window state for a contact.
type WindowCalculator interface {
	ServiceWindowOpen(now time.Time, c contacts.Contact) bool
	AnyWindowOpen(now time.Time, c contacts.Contact) bool
}

// Router decides, per send, between the metered cloud API and the queued
// browser-automation fallback. A message handed to the router is never
// silently dropped: every failure path ends in a queue item.
type Router struct {
	windows   WindowCalculator
	provider  ProviderAPI
	accounts  AccountSource
	templates TemplateSource
	tplCtx    TemplateContextBuilder
	queue     QueueWriter
	messages  MessageWriter
	recorder  SendRecorder
	bus       events.Bus
	log       *logger.Logger
	now       func() time.Time
}

func NewRouter(
	windows WindowCalculator,
	providerAPI ProviderAPI,
	accountSrc AccountSource,
	templateSrc TemplateSource,
	queueWriter QueueWriter,
	messageWriter MessageWriter,
	recorder SendRecorder,
	bus events.Bus,
	log *logger.Logger,
) *Router {
	return &Router{
		windows:   windows,
		provider:  providerAPI,
		accounts:  accountSrc,
		templates: templateSrc,
		queue:     queueWriter,
		messages:  messageWriter,
		recorder:  recorder,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// SetTemplateContextBuilder wires the CRM context source. Optional.
func (r *Router) SetTemplateContextBuilder(b TemplateContextBuilder) {
	r.tplCtx = b
}

// DecideSendMethod picks the channel for a contact at this instant: the cloud
// API while any window is open, the automation queue otherwise.
func (r *Router) DecideSendMethod(contact contacts.Contact) SendMethod {
	if r.windows.AnyWindowOpen(r.now(), contact) {
		return SendCloudAPI
	}
	return SendQueuedAutomation
}

// SendIntelligent routes one payload for a contact. Template sends require an
// approved template and fail hard before any network call otherwise. Cloud
// API transport failures fall back to the automation queue at medium priority.
func (r *Router) SendIntelligent(ctx context.Context, contact contacts.Contact, payload Payload) (SendResult, error) {
	acct, err := r.accounts.GetByID(ctx, contact.AccountID)
	if err != nil {
		return SendResult{}, apperr.Wrap(apperr.KindInternal, "load account", err)
	}
	if !acct.Active {
		return SendResult{}, apperr.Validation("account is inactive").WithOp("router.send")
	}

	windowOpen := r.windows.AnyWindowOpen(r.now(), contact)

	if payload.TemplateID != nil && !windowOpen {
		return r.sendTemplated(ctx, acct, contact, payload)
	}

	if windowOpen {
		return r.sendCloud(ctx, acct, contact, payload)
	}

	// No window and no template: the queue is the decided channel, not a
	// fallback.
	return r.enqueue(ctx, contact, payload, false)
}

func (r *Router) sendTemplated(ctx context.Context, acct accounts.Account, contact contacts.Contact, payload Payload) (SendResult, error) {
	tpl, err := r.templates.GetByID(ctx, *payload.TemplateID)
	if err != nil {
		return SendResult{}, apperr.Wrap(apperr.KindNotFound, "template not found", err)
	}

	// Approval is checked before any network call. An unapproved template is
	// a hard validation error, never a queue fallback.
	if !tpl.Approved() {
		return SendResult{}, apperr.Validation("template is not approved for sending").WithOp("router.sendTemplated")
	}

	tctx := templates.Context{ContactName: contact.Name, Phone: contact.Phone, Now: r.now(), ContactCreatedAt: contact.CreatedAt}
	if r.tplCtx != nil {
		built, err := r.tplCtx.BuildTemplateContext(ctx, contact)
		if err == nil {
			built.Now = r.now()
			tctx = built
		} else {
			r.log.Warn("template context lookup failed, using fallbacks", "contact_id", contact.ID, "error", err)
		}
	}

	rendered := templates.Resolve(tpl, tctx)

	providerID, err := r.provider.SendTemplate(ctx, acct, contact.Phone, rendered.Name, rendered.Language, rendered.Variables)
	if err != nil {
		r.log.SendAttempt(contact.ID, string(SendCloudAPI), true, err)
		return r.enqueue(ctx, contact, Payload{
			Kind:                 PayloadText,
			Text:                 rendered.Body,
			SequenceStepPosition: payload.SequenceStepPosition,
		}, true)
	}

	return r.recordCloudSend(ctx, contact, rendered.Body, nil, providerID, payload.SequenceStepPosition)
}

func (r *Router) sendCloud(ctx context.Context, acct accounts.Account, contact contacts.Contact, payload Payload) (SendResult, error) {
	var providerID string
	var err error

	switch payload.Kind {
	case PayloadText, "":
		providerID, err = r.provider.SendText(ctx, acct, contact.Phone, payload.Text)
	case PayloadImage, PayloadVideo, PayloadAudio, PayloadDocument:
		providerID, err = r.provider.SendMedia(ctx, acct, contact.Phone, provider.MediaKind(payload.Kind), payload.MediaRef, payload.Text)
	default:
		return SendResult{}, apperr.Validation("unsupported payload kind: " + string(payload.Kind))
	}

	if err != nil {
		// Transport and API failures both fall back; the queue preserves
		// the message instead of failing the send outright.
		r.log.SendAttempt(contact.ID, string(SendCloudAPI), true, err)
		return r.enqueue(ctx, contact, payload, true)
	}

	var mediaRef *string
	if payload.MediaRef != "" {
		mediaRef = &payload.MediaRef
	}
	return r.recordCloudSend(ctx, contact, payload.Text, mediaRef, providerID, payload.SequenceStepPosition)
}

func (r *Router) recordCloudSend(ctx context.Context, contact contacts.Contact, body string, mediaRef *string, providerID string, stepPosition *int) (SendResult, error) {
	method := SendCloudAPI
	msg, err := r.messages.Insert(ctx, InsertParams{
		AccountID:            contact.AccountID,
		ContactID:            contact.ID,
		Direction:            DirectionOutbound,
		Body:                 body,
		MediaRef:             mediaRef,
		ProviderMessageID:    &providerID,
		SentVia:              &method,
		Status:               StatusSent,
		SequenceStepPosition: stepPosition,
	})
	if err != nil {
		return SendResult{}, err
	}

	if err := r.recorder.RecordSend(ctx, contact.ID, true); err != nil {
		r.log.Warn("record send counters failed", "contact_id", contact.ID, "error", err)
	}

	r.log.SendAttempt(contact.ID, string(SendCloudAPI), false, nil)
	r.bus.Publish(ctx, events.MessageSent{
		BaseEvent:         events.NewBaseEvent(),
		MessageID:         msg.ID,
		ContactID:         contact.ID,
		ProviderMessageID: providerID,
		SentVia:           string(SendCloudAPI),
	})

	return SendResult{Method: SendCloudAPI, Message: msg}, nil
}

func (r *Router) enqueue(ctx context.Context, contact contacts.Contact, payload Payload, fallback bool) (SendResult, error) {
	var mediaRef *string
	if payload.MediaRef != "" {
		mediaRef = &payload.MediaRef
	}

	kind := string(payload.Kind)
	if kind == "" {
		kind = string(PayloadText)
	}

	item, err := r.queue.Insert(ctx, queue.InsertParams{
		AccountID: contact.AccountID,
		ContactID: contact.ID,
		Phone:     contact.Phone,
		Kind:      kind,
		Body:      payload.Text,
		MediaRef:  mediaRef,
		Priority:  queue.PriorityMedium,
	})
	if err != nil {
		return SendResult{}, apperr.Wrap(apperr.KindInternal, "enqueue automation send", err)
	}

	method := SendQueuedAutomation
	msg, err := r.messages.Insert(ctx, InsertParams{
		AccountID:            contact.AccountID,
		ContactID:            contact.ID,
		Direction:            DirectionOutbound,
		Body:                 payload.Text,
		MediaRef:             mediaRef,
		SentVia:              &method,
		Status:               StatusPending,
		SequenceStepPosition: payload.SequenceStepPosition,
	})
	if err != nil {
		return SendResult{}, err
	}

	if err := r.recorder.RecordSend(ctx, contact.ID, false); err != nil {
		r.log.Warn("record send counters failed", "contact_id", contact.ID, "error", err)
	}

	r.log.SendAttempt(contact.ID, string(SendQueuedAutomation), fallback, nil)
	r.bus.Publish(ctx, events.MessageQueued{
		BaseEvent:   events.NewBaseEvent(),
		QueueItemID: item.ID,
		AccountID:   contact.AccountID,
		ContactID:   contact.ID,
		Priority:    string(item.Priority),
	})

	return SendResult{Method: SendQueuedAutomation, Message: msg, QueueItem: &item}, nil
}
