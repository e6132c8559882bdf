package pipeline

import (
	"net/http"

	"outreach_backend/platform/apperr"
	"outreach_backend/platform/httpkit"
	"outreach_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MoveStageRequest is the body for moving a lead to another stage.
type MoveStageRequest struct {
	StageID uuid.UUID `json:"stageId" validate:"required"`
}

// Handler exposes pipeline reads and the stage-move operation.
type Handler struct {
	repo   *Repository
	bridge *Bridge
	val    *validator.Validator
}

func NewHandler(repo *Repository, bridge *Bridge, val *validator.Validator) *Handler {
	return &Handler{repo: repo, bridge: bridge, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/pipelines", h.ListPipelines)
	rg.GET("/pipelines/:id/stages", h.ListStages)
	rg.GET("/leads/:leadId", h.GetLead)
	rg.POST("/leads/:leadId/stage", h.MoveStage)
}

func (h *Handler) ListPipelines(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)

	pipelines, err := h.repo.ListPipelines(c.Request.Context(), ident.AccountID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, pipelines)
}

func (h *Handler) ListStages(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	pipelineID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	p, err := h.repo.GetPipeline(c.Request.Context(), pipelineID)
	if err != nil || p.AccountID != ident.AccountID() {
		httpkit.HandleError(c, apperr.NotFound("pipeline not found"))
		return
	}

	stages, err := h.repo.ListStages(c.Request.Context(), pipelineID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stages)
}

func (h *Handler) GetLead(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	leadID, ok := parseIDParam(c, "leadId")
	if !ok {
		return
	}

	lead, err := h.repo.GetLead(c.Request.Context(), leadID, ident.AccountID())
	if err != nil {
		httpkit.HandleError(c, apperr.NotFound("lead not found"))
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) MoveStage(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	leadID, ok := parseIDParam(c, "leadId")
	if !ok {
		return
	}

	var req MoveStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	lead, err := h.bridge.MoveLeadToStage(c.Request.Context(), ident.AccountID(), leadID, req.StageID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
