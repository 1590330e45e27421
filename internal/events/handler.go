package events

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eas-attendance/backend/internal/campus"
	"github.com/eas-attendance/backend/internal/models"
	"github.com/eas-attendance/backend/internal/qrtoken"
	"github.com/eas-attendance/backend/pkg/response"
)

// CreateRequest is the body for POST /events.
type CreateRequest struct {
	Title              string      `json:"title" binding:"required"`
	Description        string      `json:"description"`
	Venue              string      `json:"venue"`
	StartsAt           time.Time   `json:"starts_at" binding:"required"`
	EndsAt             time.Time   `json:"ends_at" binding:"required"`
	Latitude           *float64    `json:"latitude"`
	Longitude          *float64    `json:"longitude"`
	RadiusM            float64     `json:"radius_m"`
	RequiresGPS        bool        `json:"requires_gps"`
	RequiresSelfie     bool        `json:"requires_selfie"`
	RequiresSignature  bool        `json:"requires_signature"`
	SupportsCheckout   bool        `json:"supports_checkout"`
	IsMultiCampus      bool        `json:"is_multi_campus"`
	AllowedCampuses    []uuid.UUID `json:"allowed_campuses"`
	AttendanceOpensAt  *time.Time  `json:"attendance_opens_at"`
	AttendanceClosesAt *time.Time  `json:"attendance_closes_at"`
}

// EventView decorates an event with its derived lifecycle status.
type EventView struct {
	models.Event
	Status models.EventStatus `json:"status"`
}

// Handler handles event HTTP endpoints.
type Handler struct {
	repo   *Repository
	tokens *qrtoken.Service
	logger *zap.Logger
}

// NewHandler creates an events handler.
func NewHandler(repo *Repository, tokens *qrtoken.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, tokens: tokens, logger: logger}
}

// List handles GET /events. Scoped to the caller's active campus.
func (h *Handler) List(c *gin.Context) {
	sc, ok := campus.ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	list, err := h.repo.ListByCampus(c.Request.Context(), sc.ActiveCampusID)
	if err != nil {
		response.Internal(c, "failed to list events")
		return
	}
	now := time.Now()
	views := make([]EventView, 0, len(list))
	for _, e := range list {
		views = append(views, EventView{Event: e, Status: e.Status(now)})
	}
	response.OK(c, views)
}

// Create handles POST /events. The event is owned by the caller's active campus.
func (h *Handler) Create(c *gin.Context) {
	sc, ok := campus.ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		response.BadRequest(c, "ends_at must be after starts_at")
		return
	}
	if req.RequiresGPS && (req.Latitude == nil || req.Longitude == nil) {
		response.BadRequest(c, "gps verification requires event coordinates")
		return
	}
	radius := req.RadiusM
	if radius <= 0 {
		radius = 100 // default allowed radius in meters
	}

	event := &models.Event{
		CampusID:           sc.ActiveCampusID,
		OrganizerID:        sc.UserID,
		Title:              req.Title,
		Description:        req.Description,
		Venue:              req.Venue,
		StartsAt:           req.StartsAt,
		EndsAt:             req.EndsAt,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
		RadiusM:            radius,
		RequiresGPS:        req.RequiresGPS,
		RequiresSelfie:     req.RequiresSelfie,
		RequiresSignature:  req.RequiresSignature,
		SupportsCheckout:   req.SupportsCheckout,
		IsMultiCampus:      req.IsMultiCampus,
		AllowedCampuses:    req.AllowedCampuses,
		AttendanceOpensAt:  req.AttendanceOpensAt,
		AttendanceClosesAt: req.AttendanceClosesAt,
	}
	if err := h.repo.Create(c.Request.Context(), event); err != nil {
		h.logger.Error("create event failed", zap.Error(err), zap.String("campus_id", sc.ActiveCampusID.String()))
		response.Internal(c, "failed to create event")
		return
	}
	response.Created(c, EventView{Event: *event, Status: event.Status(time.Now())})
}

// GetByID handles GET /events/:id. Events outside the caller's accessible
// campuses read as not found rather than forbidden.
func (h *Handler) GetByID(c *gin.Context) {
	sc, ok := campus.ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	event, err := h.loadAccessible(c, sc)
	if err != nil {
		return // response already written
	}
	response.OK(c, EventView{Event: *event, Status: event.Status(time.Now())})
}

// QR handles GET /events/:id/qr. Returns the current-bucket token for display
// at the venue (organizer and admin roles only, enforced by routing).
func (h *Handler) QR(c *gin.Context) {
	sc, ok := campus.ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	event, err := h.loadAccessible(c, sc)
	if err != nil {
		return
	}
	token, err := h.tokens.Issue(event)
	if err != nil {
		h.logger.Error("issue qr token failed", zap.Error(err), zap.String("event_id", event.ID.String()))
		response.Internal(c, "failed to issue qr token")
		return
	}
	response.OK(c, gin.H{
		"token":      token,
		"ttl_seconds": int(h.tokens.TTL().Seconds()),
	})
}

// RotateSeed handles POST /events/:id/rotate-seed (admin). Invalidates all
// outstanding QR tokens for the event.
func (h *Handler) RotateSeed(c *gin.Context) {
	sc, ok := campus.ContextFrom(c)
	if !ok {
		response.Unauthorized(c, "missing campus context")
		return
	}
	event, err := h.loadAccessible(c, sc)
	if err != nil {
		return
	}
	if _, err := h.repo.RotateSeed(c.Request.Context(), event.ID); err != nil {
		h.logger.Error("rotate seed failed", zap.Error(err), zap.String("event_id", event.ID.String()))
		response.Internal(c, "failed to rotate seed")
		return
	}
	h.logger.Info("qr seed rotated",
		zap.String("event_id", event.ID.String()),
		zap.String("actor_id", sc.UserID.String()),
	)
	response.NoContent(c)
}

// loadAccessible looks up the :id event and hides it when the caller's
// permission set does not cover its campus.
func (h *Handler) loadAccessible(c *gin.Context, sc *campus.Context) (*models.Event, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return nil, err
	}
	event, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			response.NotFound(c, "event not found")
			return nil, err
		}
		response.Internal(c, "failed to load event")
		return nil, err
	}
	if !sc.Permissions.Allows(event.CampusID) {
		response.NotFound(c, "event not found")
		return nil, ErrEventNotFound
	}
	return event, nil
}
