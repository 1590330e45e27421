package campus

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eas-attendance/backend/internal/models"
	"github.com/eas-attendance/backend/pkg/response"
)

// SwitchRequest is the body for POST /campuses/switch.
type SwitchRequest struct {
	CampusID uuid.UUID `json:"campus_id" binding:"required"`
}

// CreateRequest is the body for POST /campuses (super_admin).
type CreateRequest struct {
	Code               string          `json:"code" binding:"required,uppercase"`
	Name               string          `json:"name" binding:"required"`
	Address            string          `json:"address"`
	Latitude           *float64        `json:"latitude"`
	Longitude          *float64        `json:"longitude"`
	Branding           json.RawMessage `json:"branding"`
	CrossCampusEnabled bool            `json:"cross_campus_enabled"`
}

// UpdateRequest is the body for PATCH /campuses/:id (branding and flags only).
type UpdateRequest struct {
	Branding           json.RawMessage `json:"branding"`
	CrossCampusEnabled bool            `json:"cross_campus_enabled"`
}

// Handler handles campus HTTP endpoints.
type Handler struct {
	repo    *Repository
	manager *Manager
	logger  *zap.Logger
}

// NewHandler creates a campus handler.
func NewHandler(repo *Repository, manager *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, manager: manager, logger: logger}
}

// List handles GET /campuses. Returns only campuses accessible to the caller.
func (h *Handler) List(c *gin.Context) {
	sc, ok := ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	all, err := h.repo.List(c.Request.Context(), false)
	if err != nil {
		response.Internal(c, "failed to list campuses")
		return
	}
	accessible := make([]models.Campus, 0, len(all))
	for _, campus := range all {
		if sc.Permissions.Allows(campus.ID) {
			accessible = append(accessible, campus)
		}
	}
	response.OK(c, accessible)
}

// Active handles GET /campuses/active. Read-only; never fails once a context exists.
func (h *Handler) Active(c *gin.Context) {
	sc, ok := ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	response.OK(c, sc)
}

// Switch handles POST /campuses/switch.
func (h *Handler) Switch(c *gin.Context) {
	sc, ok := ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	next, err := h.manager.SwitchCampus(c.Request.Context(), sc.UserID, req.CampusID)
	switch {
	case errors.Is(err, ErrPermissionDenied):
		response.Forbidden(c, "campus access denied")
		return
	case errors.Is(err, ErrCampusNotFound):
		response.NotFound(c, "campus not found")
		return
	case err != nil:
		h.logger.Error("campus switch failed", zap.Error(err), zap.String("user_id", sc.UserID.String()))
		response.Internal(c, "failed to switch campus")
		return
	}
	response.OK(c, next)
}

// Create handles POST /campuses (super_admin only, enforced by routing).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	campus := &models.Campus{
		Code:               req.Code,
		Name:               req.Name,
		Address:            req.Address,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
		Branding:           req.Branding,
		CrossCampusEnabled: req.CrossCampusEnabled,
	}
	if err := h.repo.Create(c.Request.Context(), campus); err != nil {
		h.logger.Error("create campus failed", zap.Error(err), zap.String("code", req.Code))
		response.Conflict(c, "failed to create campus")
		return
	}
	response.Created(c, campus)
}

// Update handles PATCH /campuses/:id. Only branding and flags are mutable.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid campus id")
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.repo.UpdateBranding(c.Request.Context(), id, req.Branding, req.CrossCampusEnabled); err != nil {
		if errors.Is(err, ErrCampusNotFound) {
			response.NotFound(c, "campus not found")
			return
		}
		response.Internal(c, "failed to update campus")
		return
	}
	campus, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load campus")
		return
	}
	response.OK(c, campus)
}

// Deactivate handles DELETE /campuses/:id. Campuses are deactivated, never deleted.
func (h *Handler) Deactivate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid campus id")
		return
	}
	if err := h.repo.Deactivate(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrCampusNotFound) {
			response.NotFound(c, "campus not found")
			return
		}
		response.Internal(c, "failed to deactivate campus")
		return
	}
	response.NoContent(c)
}
