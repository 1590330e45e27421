package verification

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eas-attendance/backend/internal/middleware"
	"github.com/eas-attendance/backend/internal/models"
	"github.com/eas-attendance/backend/pkg/response"
)

// UserReader loads users for identity confirmation.
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Handler exposes the verification pipeline over HTTP.
type Handler struct {
	pipeline *Pipeline
	users    UserReader
	logger   *zap.Logger
}

func NewHandler(pipeline *Pipeline, users UserReader, logger *zap.Logger) *Handler {
	return &Handler{pipeline: pipeline, users: users, logger: logger}
}

type ScanRequest struct {
	Token string `json:"token" binding:"required"`
	Kind  string `json:"kind"` // check_in (default) or check_out
}

// LocationRequest carries one GPS fix. Coordinates are pointers so a fix on
// the equator or prime meridian (0.0) still binds as present.
type LocationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" binding:"required,gte=-180,lte=180"`
	AccuracyM float64  `json:"accuracy_m" binding:"gte=0"`
}

type EvidenceRequest struct {
	Key string `json:"key" binding:"required"`
}

// SessionView is the session shape returned to clients.
type SessionView struct {
	ID               uuid.UUID      `json:"id"`
	EventID          uuid.UUID      `json:"event_id"`
	CampusID         uuid.UUID      `json:"campus_id"`
	Kind             string         `json:"kind"`
	State            string         `json:"state"`
	Awaiting         string         `json:"awaiting"`
	Reason           string         `json:"reason,omitempty"`
	LocationAttempts int            `json:"location_attempts"`
	ExpiresAt        int64          `json:"expires_at"`
}

func viewOf(s *Session) SessionView {
	return SessionView{
		ID:               s.ID,
		EventID:          s.EventID,
		CampusID:         s.CampusID,
		Kind:             string(s.Kind),
		State:            string(s.State),
		Awaiting:         string(s.Awaiting()),
		Reason:           string(s.Reason),
		LocationAttempts: s.LocationAttempts,
		ExpiresAt:        s.ExpiresAt.Unix(),
	}
}

// Scan opens a verification session from a raw QR token. Unauthenticated:
// identity is bound in the next step.
func (h *Handler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	kind := models.AttendanceKind(req.Kind)
	if req.Kind != "" && kind != models.AttendanceCheckIn && kind != models.AttendanceCheckOut {
		response.BadRequest(c, "invalid attendance kind")
		return
	}
	s, err := h.pipeline.Scan(c.Request.Context(), req.Token, kind)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, viewOf(s))
}

// ConfirmIdentity binds the authenticated user to the session.
func (h *Handler) ConfirmIdentity(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	userID, ok := c.Get(middleware.ContextUserID)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	user, err := h.users.GetByID(c.Request.Context(), userID.(uuid.UUID))
	if err != nil {
		response.Unauthorized(c, "unknown user")
		return
	}
	s, err := h.pipeline.ConfirmIdentity(c.Request.Context(), sessionID, user, c.ClientIP())
	if err != nil {
		h.writeSessionError(c, s, err)
		return
	}
	response.OK(c, viewOf(s))
}

// SubmitLocation applies one GPS fix to the session.
func (h *Handler) SubmitLocation(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	fix := models.LocationFix{Latitude: *req.Latitude, Longitude: *req.Longitude, AccuracyM: req.AccuracyM}
	s, err := h.pipeline.SubmitLocation(c.Request.Context(), sessionID, fix, c.ClientIP())
	if err != nil {
		h.writeSessionError(c, s, err)
		return
	}
	response.OK(c, viewOf(s))
}

// SubmitPhoto attaches a storage-confirmed photo reference.
func (h *Handler) SubmitPhoto(c *gin.Context) {
	h.submitEvidence(c, h.pipeline.SubmitPhoto)
}

// SubmitSignature attaches a storage-confirmed signature reference.
func (h *Handler) SubmitSignature(c *gin.Context) {
	h.submitEvidence(c, h.pipeline.SubmitSignature)
}

func (h *Handler) submitEvidence(c *gin.Context, submit func(context.Context, uuid.UUID, string, string) (*Session, error)) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req EvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	s, err := submit(c.Request.Context(), sessionID, req.Key, c.ClientIP())
	if err != nil {
		h.writeSessionError(c, s, err)
		return
	}
	response.OK(c, viewOf(s))
}

// Get returns the current session state.
func (h *Handler) Get(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	s, err := h.pipeline.Inspect(sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, viewOf(s))
}

func (h *Handler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// writeSessionError reports a transition error; when the pipeline returned the
// failed session alongside the error, the body carries its final state so the
// client can render the reason.
func (h *Handler) writeSessionError(c *gin.Context, s *Session, err error) {
	if s == nil {
		h.writeError(c, err)
		return
	}
	code := statusFor(err)
	c.JSON(code, response.Body{Success: false, Error: err.Error(), Data: viewOf(s)})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidToken):
		response.Unauthorized(c, "invalid or expired QR token")
	case errors.Is(err, ErrAttendanceClosed):
		response.Conflict(c, "attendance window is closed")
	case errors.Is(err, ErrCampusMismatch):
		response.Forbidden(c, "event campus is not accessible")
	case errors.Is(err, ErrLocationOutOfRange):
		response.UnprocessableEntity(c, "location outside event radius")
	case errors.Is(err, ErrDuplicateAttendance):
		response.Conflict(c, "attendance already recorded")
	case errors.Is(err, ErrSessionExpired):
		response.Gone(c, "verification session expired")
	case errors.Is(err, ErrSessionBusy):
		response.Conflict(c, "session is processing another request")
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(c, "session not found")
	case errors.Is(err, ErrUploadNotConfirmed):
		response.UnprocessableEntity(c, "upload not confirmed in storage")
	case errors.Is(err, ErrInvalidTransition):
		response.Conflict(c, "input not valid for current session state")
	default:
		h.logger.Error("verification request failed", zap.Error(err))
		response.Internal(c, "internal error")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrCampusMismatch):
		return 403
	case errors.Is(err, ErrLocationOutOfRange):
		return 422
	case errors.Is(err, ErrDuplicateAttendance):
		return 409
	case errors.Is(err, ErrUploadNotConfirmed):
		return 422
	default:
		return 409
	}
}
