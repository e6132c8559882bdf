package pipeline

import (
	"outreach_backend/internal/events"
	apphttp "outreach_backend/internal/http"
	"outreach_backend/platform/logger"
	"outreach_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module owns the pipeline store and the stage bridge.
type Module struct {
	repo    *Repository
	bridge  *Bridge
	handler *Handler
}

func NewModule(pool *pgxpool.Pool, bus events.Bus, log *logger.Logger, val *validator.Validator) *Module {
	repo := New(pool)
	bridge := NewBridge(repo, bus, log)
	return &Module{
		repo:    repo,
		bridge:  bridge,
		handler: NewHandler(repo, bridge, val),
	}
}

func (m *Module) Name() string { return "pipeline" }

// Bridge exposes the stage bridge for engine and router wiring.
func (m *Module) Bridge() *Bridge { return m.bridge }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/pipeline"))
}

var _ apphttp.Module = (*Module)(nil)
