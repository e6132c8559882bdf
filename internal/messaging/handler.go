package messaging

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"outreach_backend/internal/contacts"
	"outreach_backend/internal/messaging/queue"
	"outreach_backend/internal/messaging/templates"
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

// ContactSource loads contacts for handler-initiated sends.
type ContactSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (contacts.Contact, error)
}

// SendRequest is the body for a manual outbound send.
type SendRequest struct {
	ContactID  uuid.UUID  `json:"contactId" validate:"required"`
	Kind       string     `json:"kind" validate:"omitempty,oneof=text image video audio document"`
	Text       string     `json:"text,omitempty"`
	MediaRef   string     `json:"mediaRef,omitempty"`
	TemplateID *uuid.UUID `json:"templateId,omitempty"`
}

// CompleteRequest reports the automation collaborator's result for an item.
type CompleteRequest struct {
	Sent  bool   `json:"sent"`
	Error string `json:"error,omitempty"`
}

// Handler exposes sends, conversation history, queue inspection and the
// collaborator claim/complete endpoints.
type Handler struct {
	router       *Router
	contactsRepo ContactSource
	messagesRepo *Repository
	queueRepo    *queue.Repository
	templateRepo *templates.Repository
	val          *validator.Validator
}

func NewHandler(
	router *Router,
	contactsRepo ContactSource,
	messagesRepo *Repository,
	queueRepo *queue.Repository,
	templateRepo *templates.Repository,
	val *validator.Validator,
) *Handler {
	return &Handler{
		router:       router,
		contactsRepo: contactsRepo,
		messagesRepo: messagesRepo,
		queueRepo:    queueRepo,
		templateRepo: templateRepo,
		val:          val,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/messages/send", h.Send)
	rg.GET("/contacts/:contactId/messages", h.History)

	rg.GET("/queue", h.ListQueue)
	rg.GET("/queue/count", h.CountQueue)
	rg.POST("/queue/claim", h.ClaimQueueItem)
	rg.POST("/queue/:id/complete", h.CompleteQueueItem)

	rg.GET("/templates", h.ListTemplates)
}

func (h *Handler) Send(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	if req.Text == "" && req.MediaRef == "" && req.TemplateID == nil {
		httpkit.HandleError(c, apperr.Validation("send needs text, media or a template"))
		return
	}

	contact, err := h.contactsRepo.GetByID(c.Request.Context(), req.ContactID)
	if err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			httpkit.HandleError(c, apperr.NotFound("contact not found"))
			return
		}
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "load contact", err))
		return
	}
	if contact.AccountID != ident.AccountID() {
		httpkit.HandleError(c, apperr.NotFound("contact not found"))
		return
	}

	kind := PayloadText
	if req.Kind != "" {
		kind = PayloadKind(req.Kind)
	}
	result, err := h.router.SendIntelligent(c.Request.Context(), contact, Payload{
		Kind:       kind,
		Text:       req.Text,
		MediaRef:   req.MediaRef,
		TemplateID: req.TemplateID,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	resp := gin.H{
		"method":    result.Method,
		"messageId": result.Message.ID,
		"status":    result.Message.Status,
	}
	if result.QueueItem != nil {
		resp["queueItemId"] = result.QueueItem.ID
	}
	httpkit.OK(c, resp)
}

func (h *Handler) History(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	contactID, ok := parseIDParam(c, "contactId")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	msgs, err := h.messagesRepo.ListByContact(c.Request.Context(), contactID, limit)
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		if m.AccountID != ident.AccountID() {
			continue
		}
		out = append(out, gin.H{
			"id":                   m.ID,
			"direction":            m.Direction,
			"body":                 m.Body,
			"mediaRef":             m.MediaRef,
			"sentVia":              m.SentVia,
			"status":               m.Status,
			"sequenceStepPosition": m.SequenceStepPosition,
			"createdAt":            m.CreatedAt,
		})
	}
	httpkit.OK(c, out)
}

func (h *Handler) ListQueue(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.queueRepo.ListPending(c.Request.Context(), ident.AccountID(), limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, items)
}

func (h *Handler) CountQueue(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)

	count, err := h.queueRepo.CountPending(c.Request.Context(), ident.AccountID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"pending": count})
}

// ClaimQueueItem hands the next pending item to the automation collaborator.
// 204 means the queue is drained.
func (h *Handler) ClaimQueueItem(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)

	item, err := h.queueRepo.Claim(c.Request.Context(), ident.AccountID())
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "claim queue item", err))
		return
	}
	httpkit.OK(c, item)
}

func (h *Handler) CompleteQueueItem(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}

	item, err := h.queueRepo.GetByID(c.Request.Context(), id)
	if err != nil || item.AccountID != ident.AccountID() {
		httpkit.HandleError(c, apperr.NotFound("queue item not found"))
		return
	}

	var lastError *string
	if req.Error != "" {
		lastError = &req.Error
	}
	if err := h.queueRepo.Complete(c.Request.Context(), id, req.Sent, lastError); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			httpkit.HandleError(c, apperr.Conflict("queue item is not processing"))
			return
		}
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "complete queue item", err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListTemplates(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)

	tpls, err := h.templateRepo.ListByAccount(c.Request.Context(), ident.AccountID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, tpls)
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
