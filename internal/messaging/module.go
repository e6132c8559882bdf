package messaging

import (
	"outreach_backend/internal/contacts"
	"outreach_backend/internal/events"
	apphttp "outreach_backend/internal/http"
	"outreach_backend/internal/messaging/provider"
	"outreach_backend/internal/messaging/queue"
	"outreach_backend/internal/messaging/templates"
	"outreach_backend/internal/messaging/windows"
	"outreach_backend/platform/logger"
	"outreach_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module owns the message log, the fallback queue, templates and the channel
// router.
type Module struct {
	router    *Router
	messages  *Repository
	queue     *queue.Repository
	templates *templates.Repository
	handler   *Handler
}

func NewModule(
	pool *pgxpool.Pool,
	providerClient *provider.Client,
	windowCalc *windows.Calculator,
	contactsRepo *contacts.Repository,
	accountsRepo AccountSource,
	bus events.Bus,
	log *logger.Logger,
	val *validator.Validator,
) *Module {
	messagesRepo := NewRepository(pool)
	queueRepo := queue.New(pool)
	templateRepo := templates.New(pool)

	router := NewRouter(windowCalc, providerClient, accountsRepo, templateRepo,
		queueRepo, messagesRepo, contactsRepo, bus, log)

	return &Module{
		router:    router,
		messages:  messagesRepo,
		queue:     queueRepo,
		templates: templateRepo,
		handler:   NewHandler(router, contactsRepo, messagesRepo, queueRepo, templateRepo, val),
	}
}

func (m *Module) Name() string { return "messaging" }

// Router exposes the channel router for the sequence engine.
func (m *Module) Router() *Router { return m.router }

// Messages exposes the message log for the engine and block detector.
func (m *Module) Messages() *Repository { return m.messages }

// Queue exposes the fallback queue store.
func (m *Module) Queue() *queue.Repository { return m.queue }

// Templates exposes the template store.
func (m *Module) Templates() *templates.Repository { return m.templates }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/messaging"))
}

var _ apphttp.Module = (*Module)(nil)
