package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eas-attendance/backend/internal/attendance"
	"github.com/eas-attendance/backend/internal/campus"
	"github.com/eas-attendance/backend/internal/models"
	"github.com/eas-attendance/backend/internal/qrtoken"
	"github.com/eas-attendance/backend/pkg/geo"
)

// EventCatalog is the read-only event lookup the pipeline consumes.
type EventCatalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Ledger is the append-only attendance store. Commit must be atomic per
// (event, user, kind): concurrent duplicates yield exactly one record.
type Ledger interface {
	Commit(ctx context.Context, rec *models.AttendanceRecord) error
	Audit(ctx context.Context, a *models.AttendanceAudit) error
}

// UploadConfirmer answers whether an evidence reference landed in object storage.
type UploadConfirmer interface {
	ConfirmUpload(ctx context.Context, key string) (bool, error)
}

// Notifier receives attendance-committed emissions; delivery mechanics are
// the collaborator's concern.
type Notifier interface {
	AttendanceCommitted(ctx context.Context, rec *models.AttendanceRecord)
}

// Config tunes the pipeline.
type Config struct {
	SessionTTL          time.Duration
	LocationMaxAttempts int
	AttendanceWindow    time.Duration // default window margin around event start
}

// Pipeline drives a verification session from scan to committed attendance.
// Each transition is triggered by one discrete external input; transitions on
// a single session never run concurrently.
type Pipeline struct {
	cfg      Config
	tokens   *qrtoken.Service
	catalog  EventCatalog
	ledger   Ledger
	uploads  UploadConfirmer
	notifier Notifier
	sessions *SessionManager
	logger   *zap.Logger
}

// NewPipeline creates a verification pipeline.
func NewPipeline(cfg Config, tokens *qrtoken.Service, catalog EventCatalog, ledger Ledger,
	uploads UploadConfirmer, notifier Notifier, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LocationMaxAttempts <= 0 {
		cfg.LocationMaxAttempts = 3
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 10 * time.Minute
	}
	if cfg.AttendanceWindow <= 0 {
		cfg.AttendanceWindow = 30 * time.Minute
	}
	return &Pipeline{
		cfg:      cfg,
		tokens:   tokens,
		catalog:  catalog,
		ledger:   ledger,
		uploads:  uploads,
		notifier: notifier,
		sessions: NewSessionManager(cfg.SessionTTL),
		logger:   logger,
	}
}

// Sessions exposes the session manager for sweeping and inspection.
func (p *Pipeline) Sessions() *SessionManager { return p.sessions }

// Scan validates a raw QR payload and, on success, opens a session scoped to
// the event's campus. An invalid or stale token opens nothing; the caller must
// rescan. Never retried internally.
func (p *Pipeline) Scan(ctx context.Context, rawToken string, kind models.AttendanceKind) (*Session, error) {
	payload, err := qrtoken.Parse(rawToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	event, err := p.catalog.GetByID(ctx, payload.EventID)
	if err != nil || event == nil {
		// Unknown event reads the same as a forged token.
		p.logger.Warn("scan for unknown event", zap.String("event_id", payload.EventID.String()))
		return nil, ErrInvalidToken
	}
	if _, err := p.tokens.Validate(rawToken, event); err != nil {
		p.logger.Warn("invalid qr token",
			zap.String("event_id", event.ID.String()),
			zap.String("campus_id", event.CampusID.String()),
		)
		return nil, ErrInvalidToken
	}

	if kind == "" {
		kind = models.AttendanceCheckIn
	}
	if kind == models.AttendanceCheckOut && !event.SupportsCheckout {
		return nil, ErrInvalidTransition
	}

	opens, closes := event.AttendanceWindow(p.cfg.AttendanceWindow)
	now := time.Now()
	if now.Before(opens) || now.After(closes) {
		return nil, ErrAttendanceClosed
	}

	s := p.sessions.Create(event.ID, event.CampusID, kind, eventSnapshot{
		Latitude:          event.Latitude,
		Longitude:         event.Longitude,
		RadiusM:           event.RadiusM,
		RequiresGPS:       event.RequiresGPS,
		RequiresSelfie:    event.RequiresSelfie,
		RequiresSignature: event.RequiresSignature,
		IsMultiCampus:     event.IsMultiCampus,
		AllowedCampuses:   append([]uuid.UUID(nil), event.AllowedCampuses...),
	})
	p.logger.Info("verification session opened",
		zap.String("session_id", s.ID.String()),
		zap.String("event_id", event.ID.String()),
		zap.String("kind", string(kind)),
	)
	out := *s
	return &out, nil
}

// ConfirmIdentity binds an authenticated user to the session. The event's
// campus must be in the user's accessible set; a mismatch fails the session
// terminally with campus_mismatch and is audited.
func (p *Pipeline) ConfirmIdentity(ctx context.Context, sessionID uuid.UUID, user *models.User, clientIP string) (*Session, error) {
	s, release, err := p.sessions.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.State != StateScanned {
		return nil, ErrInvalidTransition
	}

	// The user may attend when the event's campus is in their accessible set,
	// or when the event explicitly allows their home campus.
	perms := campus.ResolvePermissions(user)
	if !perms.Allows(s.CampusID) && !s.campusAllowed(user.CampusID) {
		s.fail(FailCampusMismatch)
		p.logger.Warn("cross-campus scan attempt",
			zap.String("session_id", s.ID.String()),
			zap.String("user_id", user.ID.String()),
			zap.String("user_campus_id", user.CampusID.String()),
			zap.String("event_campus_id", s.CampusID.String()),
		)
		p.auditRejected(ctx, s, user.ID, string(FailCampusMismatch), clientIP)
		return p.snapshotOf(s), ErrCampusMismatch
	}

	s.UserID = user.ID
	s.CrossCampus = user.CampusID != s.CampusID
	s.State = StateIdentityConfirmed
	return p.advance(ctx, s, clientIP)
}

// SubmitLocation applies one GPS fix. A miss is retried up to the configured
// ceiling within the session lifetime (fixes are noisy); exceeding it fails
// the session terminally.
func (p *Pipeline) SubmitLocation(ctx context.Context, sessionID uuid.UUID, fix models.LocationFix, clientIP string) (*Session, error) {
	s, release, err := p.sessions.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.State != StateIdentityConfirmed || s.Awaiting() != StepLocation {
		return nil, ErrInvalidTransition
	}
	if s.event.Latitude == nil || s.event.Longitude == nil {
		// Event demands GPS but carries no coordinates; treat as out of range
		// rather than silently passing anyone.
		return nil, ErrInvalidTransition
	}

	if !geo.WithinRadius(fix.Latitude, fix.Longitude,
		*s.event.Latitude, *s.event.Longitude, s.event.RadiusM, fix.AccuracyM) {
		s.LocationAttempts++
		if s.LocationAttempts >= p.cfg.LocationMaxAttempts {
			s.fail(FailLocationOutOfRange)
			p.auditRejected(ctx, s, s.UserID, string(FailLocationOutOfRange), clientIP)
		}
		return p.snapshotOf(s), ErrLocationOutOfRange
	}

	s.Location = &fix
	s.State = StateLocationVerified
	return p.advance(ctx, s, clientIP)
}

// SubmitPhoto records a confirmed photo reference. The pipeline performs no
// image analysis; it only requires a non-empty, storage-confirmed reference.
// An unconfirmed upload rejects the input and leaves the session state unchanged.
func (p *Pipeline) SubmitPhoto(ctx context.Context, sessionID uuid.UUID, photoKey, clientIP string) (*Session, error) {
	s, release, err := p.sessions.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.Awaiting() != StepPhoto {
		return nil, ErrInvalidTransition
	}
	if photoKey == "" {
		return nil, ErrUploadNotConfirmed
	}
	confirmed, err := p.uploads.ConfirmUpload(ctx, photoKey)
	if err != nil {
		return nil, fmt.Errorf("confirm photo upload: %w", err)
	}
	if !confirmed {
		return p.snapshotOf(s), ErrUploadNotConfirmed
	}

	s.PhotoKey = photoKey
	s.State = StatePhotoCaptured
	return p.advance(ctx, s, clientIP)
}

// SubmitSignature records a confirmed signature reference.
func (p *Pipeline) SubmitSignature(ctx context.Context, sessionID uuid.UUID, signatureKey, clientIP string) (*Session, error) {
	s, release, err := p.sessions.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.Awaiting() != StepSignature {
		return nil, ErrInvalidTransition
	}
	if signatureKey == "" {
		return nil, ErrUploadNotConfirmed
	}
	confirmed, err := p.uploads.ConfirmUpload(ctx, signatureKey)
	if err != nil {
		return nil, fmt.Errorf("confirm signature upload: %w", err)
	}
	if !confirmed {
		return p.snapshotOf(s), ErrUploadNotConfirmed
	}

	s.SignatureKey = signatureKey
	s.State = StateSignatureCaptured
	return p.advance(ctx, s, clientIP)
}

// Inspect returns the current session state without mutating it beyond lazy expiry.
func (p *Pipeline) Inspect(sessionID uuid.UUID) (*Session, error) {
	return p.sessions.Get(sessionID)
}

// advance commits the session as soon as no further evidence is awaited.
// Called with the session lock held.
func (p *Pipeline) advance(ctx context.Context, s *Session, clientIP string) (*Session, error) {
	if s.Awaiting() != StepCommit {
		return p.snapshotOf(s), nil
	}

	rec := &models.AttendanceRecord{
		EventID:      s.EventID,
		UserID:       s.UserID,
		CampusID:     s.CampusID,
		Kind:         s.Kind,
		CrossCampus:  s.CrossCampus,
		Location:     s.Location,
		PhotoKey:     s.PhotoKey,
		SignatureKey: s.SignatureKey,
	}
	if err := p.ledger.Commit(ctx, rec); err != nil {
		if errors.Is(err, attendance.ErrDuplicateAttendance) {
			// Distinguish "already checked in" from a fresh success instead
			// of committing silently.
			s.fail(FailDuplicateAttendance)
			p.auditRejected(ctx, s, s.UserID, string(FailDuplicateAttendance), clientIP)
			return p.snapshotOf(s), ErrDuplicateAttendance
		}
		return nil, fmt.Errorf("commit attendance: %w", err)
	}

	s.State = StateCommitted
	audit := &models.AttendanceAudit{
		RecordID: &rec.ID,
		EventID:  s.EventID,
		CampusID: s.CampusID,
		ActorID:  s.UserID,
		Action:   models.AuditMarked,
		Detail:   string(s.Kind),
		ClientIP: clientIP,
	}
	if err := p.ledger.Audit(ctx, audit); err != nil {
		p.logger.Error("audit write failed", zap.Error(err), zap.String("record_id", rec.ID.String()))
	}
	if p.notifier != nil {
		p.notifier.AttendanceCommitted(ctx, rec)
	}
	p.logger.Info("attendance committed",
		zap.String("record_id", rec.ID.String()),
		zap.String("event_id", s.EventID.String()),
		zap.String("user_id", s.UserID.String()),
		zap.String("kind", string(s.Kind)),
		zap.Bool("cross_campus", s.CrossCampus),
	)
	return p.snapshotOf(s), nil
}

func (p *Pipeline) auditRejected(ctx context.Context, s *Session, actorID uuid.UUID, detail, clientIP string) {
	audit := &models.AttendanceAudit{
		EventID:  s.EventID,
		CampusID: s.CampusID,
		ActorID:  actorID,
		Action:   models.AuditRejected,
		Detail:   detail,
		ClientIP: clientIP,
	}
	if err := p.ledger.Audit(ctx, audit); err != nil {
		p.logger.Error("audit write failed", zap.Error(err), zap.String("session_id", s.ID.String()))
	}
}

// snapshotOf copies the session for return outside the lock.
func (p *Pipeline) snapshotOf(s *Session) *Session {
	out := *s
	return &out
}
