package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"outreach_backend/internal/accounts"
	"outreach_backend/internal/contacts"
	"outreach_backend/internal/events"
	"outreach_backend/internal/messaging/provider"
	"outreach_backend/internal/messaging/queue"
	"outreach_backend/internal/messaging/templates"
	"outreach_backend/platform/logger"

	"github.com/google/uuid"
)

type stubWindows struct {
	open bool
}

func (s stubWindows) ServiceWindowOpen(time.Time, contacts.Contact) bool { return s.open }
func (s stubWindows) AnyWindowOpen(time.Time, contacts.Contact) bool     { return s.open }

type stubProvider struct {
	texts     int
	media     int
	templates int
	lastName  string
	lastVars  []string
	err       error
}

func (s *stubProvider) SendText(_ context.Context, _ accounts.Account, _, _ string) (string, error) {
	s.texts++
	if s.err != nil {
		return "", s.err
	}
	return "wamid.text", nil
}

func (s *stubProvider) SendMedia(_ context.Context, _ accounts.Account, _ string, _ provider.MediaKind, _, _ string) (string, error) {
	s.media++
	if s.err != nil {
		return "", s.err
	}
	return "wamid.media", nil
}

func (s *stubProvider) SendTemplate(_ context.Context, _ accounts.Account, _, name, _ string, params []string) (string, error) {
	s.templates++
	s.lastName = name
	s.lastVars = params
	if s.err != nil {
		return "", s.err
	}
	return "wamid.template", nil
}

type stubAccounts struct {
	acct accounts.Account
}

func (s stubAccounts) GetByID(context.Context, uuid.UUID) (accounts.Account, error) {
	return s.acct, nil
}

type stubTemplates struct {
	tpl templates.Template
	err error
}

func (s stubTemplates) GetByID(context.Context, uuid.UUID) (templates.Template, error) {
	return s.tpl, s.err
}

type captureQueue struct {
	items []queue.InsertParams
}

func (c *captureQueue) Insert(_ context.Context, params queue.InsertParams) (queue.Item, error) {
	c.items = append(c.items, params)
	return queue.Item{ID: uuid.New(), Status: queue.StatusPending, Priority: params.Priority}, nil
}

type captureMessages struct {
	inserted []InsertParams
}

func (c *captureMessages) Insert(_ context.Context, params InsertParams) (Message, error) {
	c.inserted = append(c.inserted, params)
	return Message{ID: uuid.New(), Status: params.Status}, nil
}

type captureRecorder struct {
	cloud  int
	queued int
}

func (c *captureRecorder) RecordSend(_ context.Context, _ uuid.UUID, viaCloudAPI bool) error {
	if viaCloudAPI {
		c.cloud++
	} else {
		c.queued++
	}
	return nil
}

type routerHarness struct {
	router   *Router
	provider *stubProvider
	queue    *captureQueue
	messages *captureMessages
	recorder *captureRecorder
}

func newRouterHarness(windowOpen bool, prov *stubProvider, tpls stubTemplates) *routerHarness {
	log := logger.New("test")
	q := &captureQueue{}
	m := &captureMessages{}
	rec := &captureRecorder{}
	acct := accounts.Account{ID: uuid.New(), Active: true, PhoneNumberID: "123", ProviderToken: "tok"}
	r := NewRouter(stubWindows{open: windowOpen}, prov, stubAccounts{acct: acct}, tpls,
		q, m, rec, events.NewInMemoryBus(log), log)
	return &routerHarness{router: r, provider: prov, queue: q, messages: m, recorder: rec}
}

func testContact() contacts.Contact {
	return contacts.Contact{ID: uuid.New(), AccountID: uuid.New(), Name: "Ana", Phone: "+5215512345678"}
}

func TestDecideSendMethod(t *testing.T) {
	open := newRouterHarness(true, &stubProvider{}, stubTemplates{})
	if got := open.router.DecideSendMethod(testContact()); got != SendCloudAPI {
		t.Fatalf("open window must route to cloud api, got %s", got)
	}

	closed := newRouterHarness(false, &stubProvider{}, stubTemplates{})
	if got := closed.router.DecideSendMethod(testContact()); got != SendQueuedAutomation {
		t.Fatalf("closed window must route to the queue, got %s", got)
	}
}

func TestSendIntelligentCloudText(t *testing.T) {
	h := newRouterHarness(true, &stubProvider{}, stubTemplates{})

	result, err := h.router.SendIntelligent(context.Background(), testContact(), Payload{Kind: PayloadText, Text: "hola"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Method != SendCloudAPI {
		t.Fatalf("expected cloud api, got %s", result.Method)
	}
	if h.provider.texts != 1 {
		t.Fatalf("expected one text send, got %d", h.provider.texts)
	}
	if len(h.queue.items) != 0 {
		t.Fatalf("cloud send must not touch the queue, got %d items", len(h.queue.items))
	}
	if len(h.messages.inserted) != 1 || h.messages.inserted[0].Status != StatusSent {
		t.Fatalf("expected one sent log record, got %+v", h.messages.inserted)
	}
	if h.messages.inserted[0].ProviderMessageID == nil || *h.messages.inserted[0].ProviderMessageID != "wamid.text" {
		t.Fatalf("provider id not logged: %+v", h.messages.inserted[0])
	}
	if h.recorder.cloud != 1 || h.recorder.queued != 0 {
		t.Fatalf("unexpected counters: %+v", h.recorder)
	}
}

func TestSendIntelligentFallsBackToQueueOnTransportError(t *testing.T) {
	h := newRouterHarness(true, &stubProvider{err: errors.New("connection reset")}, stubTemplates{})

	result, err := h.router.SendIntelligent(context.Background(), testContact(), Payload{Kind: PayloadText, Text: "hola"})
	if err != nil {
		t.Fatalf("fallback must not surface the transport error, got %v", err)
	}
	if result.Method != SendQueuedAutomation {
		t.Fatalf("expected queued fallback, got %s", result.Method)
	}
	if len(h.queue.items) != 1 {
		t.Fatalf("expected one queue item, got %d", len(h.queue.items))
	}
	if h.queue.items[0].Priority != queue.PriorityMedium {
		t.Fatalf("fallback priority must be medium, got %s", h.queue.items[0].Priority)
	}
	if len(h.messages.inserted) != 1 || h.messages.inserted[0].Status != StatusPending {
		t.Fatalf("queued sends are logged pending, got %+v", h.messages.inserted)
	}
	if h.recorder.queued != 1 {
		t.Fatalf("expected one queued counter bump, got %+v", h.recorder)
	}
}

func TestSendIntelligentQueuesWhenNoWindow(t *testing.T) {
	prov := &stubProvider{}
	h := newRouterHarness(false, prov, stubTemplates{})

	result, err := h.router.SendIntelligent(context.Background(), testContact(), Payload{Kind: PayloadText, Text: "hola"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Method != SendQueuedAutomation {
		t.Fatalf("expected queued, got %s", result.Method)
	}
	if prov.texts+prov.media+prov.templates != 0 {
		t.Fatal("closed window without template must not call the provider")
	}
	if result.QueueItem == nil {
		t.Fatal("expected the queue item in the result")
	}
}

func TestSendIntelligentRejectsUnapprovedTemplate(t *testing.T) {
	tplID := uuid.New()
	prov := &stubProvider{}
	h := newRouterHarness(false, prov, stubTemplates{
		tpl: templates.Template{ID: tplID, Name: "promo", Status: templates.StatusPending},
	})

	_, err := h.router.SendIntelligent(context.Background(), testContact(), Payload{TemplateID: &tplID})
	if err == nil {
		t.Fatal("unapproved template must be a hard error")
	}
	if prov.templates != 0 {
		t.Fatal("approval must be checked before any network call")
	}
	if len(h.queue.items) != 0 {
		t.Fatal("an unapproved template must never fall back to the queue")
	}
}

func TestSendIntelligentTemplateOutsideWindow(t *testing.T) {
	tplID := uuid.New()
	prov := &stubProvider{}
	h := newRouterHarness(false, prov, stubTemplates{
		tpl: templates.Template{
			ID:       tplID,
			Name:     "seguimiento",
			Language: "es_MX",
			Status:   templates.StatusApproved,
			BodyText: "Hola {{1}}",
		},
	})

	result, err := h.router.SendIntelligent(context.Background(), testContact(), Payload{TemplateID: &tplID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Method != SendCloudAPI {
		t.Fatalf("template sends go through the cloud api, got %s", result.Method)
	}
	if prov.templates != 1 || prov.lastName != "seguimiento" {
		t.Fatalf("expected one template send, got %+v", prov)
	}
	if len(prov.lastVars) != 1 || prov.lastVars[0] != "Ana" {
		t.Fatalf("expected contact name variable, got %v", prov.lastVars)
	}
	if len(h.messages.inserted) != 1 || h.messages.inserted[0].Body != "Hola Ana" {
		t.Fatalf("rendered body must be logged, got %+v", h.messages.inserted)
	}
}

func TestSendIntelligentTemplateTransportErrorFallsBack(t *testing.T) {
	tplID := uuid.New()
	prov := &stubProvider{err: errors.New("timeout")}
	h := newRouterHarness(false, prov, stubTemplates{
		tpl: templates.Template{
			ID:       tplID,
			Status:   templates.StatusApproved,
			BodyText: "Hola {{1}}",
		},
	})

	result, err := h.router.SendIntelligent(context.Background(), testContact(), Payload{TemplateID: &tplID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Method != SendQueuedAutomation {
		t.Fatalf("expected queued fallback, got %s", result.Method)
	}
	if len(h.queue.items) != 1 || h.queue.items[0].Body != "Hola Ana" {
		t.Fatalf("fallback must queue the rendered body, got %+v", h.queue.items)
	}
}

func TestSendIntelligentRejectsInactiveAccount(t *testing.T) {
	log := logger.New("test")
	prov := &stubProvider{}
	r := NewRouter(stubWindows{open: true}, prov,
		stubAccounts{acct: accounts.Account{ID: uuid.New()}}, stubTemplates{},
		&captureQueue{}, &captureMessages{}, &captureRecorder{},
		events.NewInMemoryBus(log), log)

	_, err := r.SendIntelligent(context.Background(), testContact(), Payload{Text: "hola"})
	if err == nil {
		t.Fatal("inactive account must fail the send")
	}
	if prov.texts != 0 {
		t.Fatal("inactive account must not reach the provider")
	}
}
