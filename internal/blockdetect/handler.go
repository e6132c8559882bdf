package blockdetect

import (
	"net/http"
	"time"

	"outreach_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	detector *Detector
	issues   *IssueRepository
}

func NewHandler(detector *Detector, issues *IssueRepository) *Handler {
	return &Handler{detector: detector, issues: issues}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/issues", h.ListIssues)
	rg.GET("/contacts/:contactId", h.InspectContact)
	rg.POST("/contacts/:contactId/unblock", h.Unblock)
	rg.POST("/audit", h.RunAudit)
}

type issueResponse struct {
	ID          uuid.UUID  `json:"id"`
	ContactID   uuid.UUID  `json:"contactId"`
	Type        IssueType  `json:"type"`
	Probability int        `json:"probability"`
	Details     string     `json:"details"`
	CreatedAt   time.Time  `json:"createdAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

func (h *Handler) ListIssues(c *gin.Context) {
	ident := httpkit.MustGetIdentity(c)

	issues, err := h.issues.ListOpen(c.Request.Context(), ident.AccountID())
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]issueResponse, 0, len(issues))
	for _, i := range issues {
		out = append(out, issueResponse{
			ID:          i.ID,
			ContactID:   i.ContactID,
			Type:        i.Type,
			Probability: i.Probability,
			Details:     i.Details,
			CreatedAt:   i.CreatedAt,
			ResolvedAt:  i.ResolvedAt,
		})
	}
	httpkit.OK(c, out)
}

func (h *Handler) InspectContact(c *gin.Context) {
	contactID, err := uuid.Parse(c.Param("contactId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", "invalid contactId")
		return
	}

	contact, probability, verdict, err := h.detector.Inspect(c.Request.Context(), contactID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{
		"contactId":              contact.ID,
		"probability":            probability,
		"verdict":                verdict,
		"isBlocked":              contact.IsBlocked,
		"consecutiveUndelivered": contact.ConsecutiveUndelivered,
		"totalMessagesSent":      contact.TotalMessagesSent,
		"totalMessagesDelivered": contact.TotalMessagesDelivered,
		"lastDeliveredAt":        contact.LastDeliveredAt,
	})
}

func (h *Handler) Unblock(c *gin.Context) {
	contactID, err := uuid.Parse(c.Param("contactId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", "invalid contactId")
		return
	}
	if err := h.detector.Unblock(c.Request.Context(), contactID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"contactId": contactID, "isBlocked": false})
}

func (h *Handler) RunAudit(c *gin.Context) {
	stats, err := h.detector.Audit(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{
		"contacts": stats.Contacts,
		"checked":  stats.Checked,
		"flagged":  stats.Flagged,
		"cleared":  stats.Cleared,
	})
}
