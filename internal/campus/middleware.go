package campus

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eas-attendance/backend/internal/middleware"
	"github.com/eas-attendance/backend/internal/models"
	"github.com/eas-attendance/backend/pkg/response"
)

// ginContextKey is the key for the campus context in gin's per-request store.
const ginContextKey = "campus_context"

// UserGetter looks up users for context establishment.
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ContextFrom returns the campus context placed on the request by Middleware.
func ContextFrom(c *gin.Context) (*Context, bool) {
	v, ok := c.Get(ginContextKey)
	if !ok {
		return nil, false
	}
	sc, ok := v.(*Context)
	return sc, ok
}

// Middleware establishes the caller's campus context on every authenticated
// request and exposes it via ContextFrom. An X-Campus-ID header switches the
// active campus for the request when the caller may switch; an override
// outside the accessible set is ignored, keeping the original campus.
// Responses carry X-Campus-ID and X-Campus-Code headers.
func Middleware(manager *Manager, users UserGetter, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		idVal, ok := c.Get(middleware.ContextUserID)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		userID, ok := idVal.(uuid.UUID)
		if !ok {
			response.Unauthorized(c, "invalid user context")
			c.Abort()
			return
		}

		user, err := users.GetByID(c.Request.Context(), userID)
		if err != nil || user == nil {
			response.Unauthorized(c, "unknown user")
			c.Abort()
			return
		}

		sc, err := manager.Establish(c.Request.Context(), user)
		if err != nil {
			logger.Error("establish campus context failed", zap.Error(err), zap.String("user_id", userID.String()))
			response.Internal(c, "failed to establish campus context")
			c.Abort()
			return
		}

		if hdr := c.GetHeader("X-Campus-ID"); hdr != "" && sc.Permissions.CanSwitchCampuses {
			if target, err := uuid.Parse(hdr); err == nil && target != sc.ActiveCampusID {
				if switched, err := manager.SwitchCampus(c.Request.Context(), userID, target); err == nil {
					sc = switched
				}
			}
		}

		c.Header("X-Campus-ID", sc.ActiveCampusID.String())
		c.Header("X-Campus-Code", sc.Campus.Code)
		c.Set(ginContextKey, sc)
		c.Next()
	}
}
