package sequences

import (
	apphttp "outreach_backend/internal/http"
	"outreach_backend/platform/validator"
)

// Module bundles the sequence engine and its HTTP surface.
type Module struct {
	engine  *Engine
	repo    *Repository
	handler *Handler
}

// NewModule wires the sequences module. The engine's collaborators are passed
// in by the composition root; the repository is owned here.
func NewModule(repo *Repository, engine *Engine, contactsRepo ContactSource, val *validator.Validator) *Module {
	return &Module{
		engine:  engine,
		repo:    repo,
		handler: NewHandler(repo, engine, contactsRepo, val),
	}
}

func (m *Module) Name() string { return "sequences" }

// Engine exposes the state machine for cross-module wiring.
func (m *Module) Engine() *Engine { return m.engine }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/sequences"))
}

var _ apphttp.Module = (*Module)(nil)
