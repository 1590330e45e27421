package evidence

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eas-attendance/backend/pkg/response"
	"github.com/eas-attendance/backend/pkg/storage"
)

// Handler issues pre-signed upload URLs for verification evidence. Clients
// upload directly to object storage; the verification pipeline later confirms
// the object landed before accepting the reference.
type Handler struct {
	s3     *storage.S3
	logger *zap.Logger
}

func NewHandler(s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{s3: s3, logger: logger}
}

type UploadURLRequest struct {
	SessionID   string `json:"session_id" binding:"required"`
	Kind        string `json:"kind" binding:"required"` // photo or signature
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
}

type UploadURLResponse struct {
	Key       string `json:"key"`
	UploadURL string `json:"upload_url"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

// UploadURL returns a pre-signed PUT URL scoped to the caller's session.
func (h *Handler) UploadURL(c *gin.Context) {
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if _, err := uuid.Parse(req.SessionID); err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if !storage.ValidateEvidenceFileType(req.ContentType, req.Filename) {
		response.BadRequest(c, "unsupported evidence file type")
		return
	}

	var key string
	switch req.Kind {
	case "photo":
		key = storage.PhotoKey(req.SessionID, req.Filename)
	case "signature":
		key = storage.SignatureKey(req.SessionID, req.Filename)
	default:
		response.BadRequest(c, "kind must be photo or signature")
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(req.Filename)
	}

	expires := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), h.s3.EvidenceBucket(), key, contentType, expires)
	if err != nil {
		h.logger.Error("presign evidence upload failed", zap.Error(err), zap.String("key", key))
		response.Internal(c, "failed to create upload URL")
		return
	}
	response.OK(c, UploadURLResponse{Key: key, UploadURL: url, ExpiresIn: int64(expires.Seconds())})
}
