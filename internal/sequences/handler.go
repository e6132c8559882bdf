package sequences

import (
	"context"
	"errors"
	"net/http"

	"outreach_backend/internal/contacts"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/httpkit"
	"outreach_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// ContactSource loads contacts for the per-contact control endpoints.
type ContactSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (contacts.Contact, error)
}

// Handler handles HTTP requests for sequence definitions and per-contact
// sequence control.
type Handler struct {
	repo         *Repository
	engine       *Engine
	contactsRepo ContactSource
	val          *validator.Validator
}

func NewHandler(repo *Repository, engine *Engine, contactsRepo ContactSource, val *validator.Validator) *Handler {
	return &Handler{repo: repo, engine: engine, contactsRepo: contactsRepo, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.GetByID)
	rg.PATCH("/:id/active", h.SetActive)
	rg.DELETE("/:id", h.Delete)

	rg.POST("/contacts/:contactId/assign", h.Assign)
	rg.POST("/contacts/:contactId/pause", h.Pause)
	rg.POST("/contacts/:contactId/resume", h.Resume)
	rg.POST("/contacts/:contactId/stop", h.Stop)
	rg.POST("/contacts/:contactId/evaluate", h.Evaluate)
	rg.POST("/sweep", h.Sweep)
}

func (h *Handler) List(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)

	seqs, err := h.repo.ListByAccount(c.Request.Context(), ident.AccountID())
	if httpkit.HandleError(c, asAppError(err)) {
		return
	}

	out := make([]SequenceResponse, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, toSequenceResponse(s))
	}
	httpkit.OK(c, out)
}

func (h *Handler) Create(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)

	var req CreateSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	if err := validateSteps(req.Steps); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	seq := Sequence{
		ID:        uuid.New(),
		AccountID: ident.AccountID(),
		Name:      req.Name,
		Active:    req.Active,
	}
	for _, sr := range req.Steps {
		seq.Steps = append(seq.Steps, stepFromRequest(sr))
	}

	created, err := h.repo.Create(c.Request.Context(), seq)
	if httpkit.HandleError(c, asAppError(err)) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, toSequenceResponse(created))
}

// validateSteps enforces the structural rules the schema cannot express:
// unique ascending positions and type-specific required fields.
func validateSteps(steps []StepRequest) error {
	lastPos := 0
	for _, s := range steps {
		if s.OrderPosition <= lastPos {
			return apperr.Validation("step positions must be strictly increasing")
		}
		lastPos = s.OrderPosition

		switch StepType(s.Type) {
		case StepMessage:
			if s.Text == "" && s.MediaRef == "" && s.TemplateID == nil {
				return apperr.Validation("message step needs text, media or a template")
			}
		case StepPause:
			if s.DelayHoursFromPrevious <= 0 {
				return apperr.Validation("pause step needs a positive delay")
			}
		case StepStageChange:
			if s.TargetStageName == "" {
				return apperr.Validation("stage change step needs a target stage name")
			}
		}
	}
	return nil
}

func (h *Handler) GetByID(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	seq, err := h.repo.GetWithSteps(c.Request.Context(), id)
	if httpkit.HandleError(c, asAppError(err)) {
		return
	}
	if seq.AccountID != ident.AccountID() {
		httpkit.HandleError(c, asAppError(ErrNotFound))
		return
	}
	httpkit.OK(c, toSequenceResponse(seq))
}

func (h *Handler) SetActive(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}

	if !h.ownsSequence(c, ident.AccountID(), id) {
		return
	}
	if err := h.repo.SetActive(c.Request.Context(), id, req.Active); httpkit.HandleError(c, asAppError(err)) {
		return
	}
	httpkit.OK(c, gin.H{"id": id, "active": req.Active})
}

func (h *Handler) Delete(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if !h.ownsSequence(c, ident.AccountID(), id) {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); httpkit.HandleError(c, asAppError(err)) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Assign(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	contactID, ok := parseIDParam(c, "contactId")
	if !ok {
		return
	}
	if !h.ownsContact(c, ident.AccountID(), contactID) {
		return
	}

	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if err := h.engine.Assign(c.Request.Context(), contactID, req.SequenceID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"contactId": contactID, "sequenceId": req.SequenceID})
}

func (h *Handler) Pause(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	contactID, ok := parseIDParam(c, "contactId")
	if !ok {
		return
	}
	if !h.ownsContact(c, ident.AccountID(), contactID) {
		return
	}
	if err := h.engine.Pause(c.Request.Context(), contactID, PauseReasonManual); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"contactId": contactID, "state": "paused"})
}

func (h *Handler) Resume(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	contactID, ok := parseIDParam(c, "contactId")
	if !ok {
		return
	}
	if !h.ownsContact(c, ident.AccountID(), contactID) {
		return
	}
	if err := h.engine.Resume(c.Request.Context(), contactID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"contactId": contactID, "state": "running"})
}

func (h *Handler) Stop(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	contactID, ok := parseIDParam(c, "contactId")
	if !ok {
		return
	}
	if !h.ownsContact(c, ident.AccountID(), contactID) {
		return
	}
	if err := h.engine.Stop(c.Request.Context(), contactID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"contactId": contactID, "state": "stopped"})
}

func (h *Handler) Evaluate(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	contactID, ok := parseIDParam(c, "contactId")
	if !ok {
		return
	}
	if !h.ownsContact(c, ident.AccountID(), contactID) {
		return
	}
	outcome, err := h.engine.EvaluateOnce(c.Request.Context(), contactID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, EvaluationResponse{ContactID: contactID, Outcome: outcome})
}

func (h *Handler) Sweep(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	stats, err := h.engine.SweepAccount(c.Request.Context(), ident.AccountID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, SweepResponse{
		Evaluated: stats.Evaluated,
		Sent:      stats.Sent,
		Paused:    stats.Paused,
		Skipped:   stats.Skipped,
	})
}

func (h *Handler) ownsSequence(c *gin.Context, accountID, sequenceID uuid.UUID) bool {
	seq, err := h.repo.GetByID(c.Request.Context(), sequenceID)
	if httpkit.HandleError(c, asAppError(err)) {
		return false
	}
	if seq.AccountID != accountID {
		httpkit.HandleError(c, asAppError(ErrNotFound))
		return false
	}
	return true
}

// ownsContact verifies the contact exists under the caller's account.
// Cross-account ids 404 like unknown ones, so existence is not leaked.
func (h *Handler) ownsContact(c *gin.Context, accountID, contactID uuid.UUID) bool {
	contact, err := h.contactsRepo.GetByID(c.Request.Context(), contactID)
	if err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			httpkit.HandleError(c, apperr.NotFound("contact not found"))
		} else {
			httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "load contact", err))
		}
		return false
	}
	if contact.AccountID != accountID {
		httpkit.HandleError(c, apperr.NotFound("contact not found"))
		return false
	}
	return true
}

// asAppError maps repository sentinels to typed errors for HTTP status mapping.
func asAppError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("sequence not found")
	}
	return err
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
