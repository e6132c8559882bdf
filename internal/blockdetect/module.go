package blockdetect

import (
	apphttp "outreach_backend/internal/http"
)

// Module bundles the block detector and its HTTP surface.
type Module struct {
	detector *Detector
	issues   *IssueRepository
	handler  *Handler
}

func NewModule(detector *Detector, issues *IssueRepository) *Module {
	return &Module{
		detector: detector,
		issues:   issues,
		handler:  NewHandler(detector, issues),
	}
}

func (m *Module) Name() string { return "blockdetect" }

// Detector exposes the audit service for the scheduler worker.
func (m *Module) Detector() *Detector { return m.detector }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/blockdetect"))
}

var _ apphttp.Module = (*Module)(nil)
