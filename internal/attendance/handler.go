package attendance

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eas-attendance/backend/internal/campus"
	"github.com/eas-attendance/backend/pkg/response"
)

// Handler handles attendance query endpoints. Writes go through the
// verification pipeline only.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListByEvent handles GET /events/:id/attendance, scoped to the active campus.
func (h *Handler) ListByEvent(c *gin.Context) {
	sc, ok := campus.ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	list, err := h.repo.QueryByEvent(c.Request.Context(), sc.ActiveCampusID, eventID)
	if err != nil {
		response.Internal(c, "failed to query attendance")
		return
	}
	response.OK(c, list)
}

// ListByUser handles GET /users/:id/attendance, scoped to the active campus.
// Students may only read their own history.
func (h *Handler) ListByUser(c *gin.Context) {
	sc, ok := campus.ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	if userID != sc.UserID && !sc.Permissions.IsCampusAdmin && !sc.Permissions.IsSuperAdmin {
		response.Forbidden(c, "insufficient permissions")
		return
	}
	list, err := h.repo.QueryByUser(c.Request.Context(), sc.ActiveCampusID, userID)
	if err != nil {
		response.Internal(c, "failed to query attendance")
		return
	}
	response.OK(c, list)
}

// ListAudit handles GET /events/:id/audit (admin roles, via routing).
func (h *Handler) ListAudit(c *gin.Context) {
	sc, ok := campus.ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	list, err := h.repo.ListAudit(c.Request.Context(), sc.ActiveCampusID, eventID)
	if err != nil {
		response.Internal(c, "failed to query audit trail")
		return
	}
	response.OK(c, list)
}
