package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eas-attendance/backend/internal/models"
	"github.com/eas-attendance/backend/internal/realtime"
	"github.com/eas-attendance/backend/pkg/queue"
)

// UserReader loads users so notification emails can resolve recipients.
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// EventReader loads events for notification subjects.
type EventReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Notifier fans attendance and campus changes out to the live feed and the
// email queue. All delivery is best-effort: a broken broadcast or enqueue is
// logged, never surfaced to the caller's request.
type Notifier struct {
	hub    *realtime.Hub
	queue  *queue.Queue
	users  UserReader
	events EventReader
	logger *zap.Logger
}

func NewNotifier(hub *realtime.Hub, q *queue.Queue, users UserReader, events EventReader, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{hub: hub, queue: q, users: users, events: events, logger: logger}
}

// AttendanceCommitted broadcasts the new record to the event's live feed and
// queues a confirmation email to the attendee.
func (n *Notifier) AttendanceCommitted(ctx context.Context, rec *models.AttendanceRecord) {
	if n.hub != nil {
		n.hub.BroadcastToEventAndPublish(rec.EventID, "attendance_committed", map[string]interface{}{
			"record_id":    rec.ID.String(),
			"event_id":     rec.EventID.String(),
			"user_id":      rec.UserID.String(),
			"kind":         string(rec.Kind),
			"cross_campus": rec.CrossCampus,
			"committed_at": rec.CommittedAt.Unix(),
		})
	}
	if n.queue == nil {
		return
	}

	user, err := n.users.GetByID(ctx, rec.UserID)
	if err != nil {
		n.logger.Warn("attendance email skipped: user lookup failed", zap.Error(err), zap.String("user_id", rec.UserID.String()))
		return
	}
	eventName := "your event"
	if event, err := n.events.GetByID(ctx, rec.EventID); err == nil && event != nil {
		eventName = event.Title
	}

	verb := "checked in to"
	if rec.Kind == models.AttendanceCheckOut {
		verb = "checked out of"
	}
	payload := queue.EmailPayload{
		EmailType:      "attendance_confirmation",
		EventID:        rec.EventID,
		RecordID:       rec.ID,
		RecipientEmail: user.Email,
		Subject:        fmt.Sprintf("Attendance confirmed: %s", eventName),
		BodyHTML: fmt.Sprintf("<p>Hi %s,</p><p>You have successfully %s <b>%s</b>.</p>",
			user.FullName, verb, eventName),
	}
	if err := n.queue.EnqueueEmail(ctx, payload); err != nil {
		n.logger.Error("enqueue attendance email failed", zap.Error(err), zap.String("record_id", rec.ID.String()))
	}
}

// CampusChanged queues a notice email when a user's active campus switches.
func (n *Notifier) CampusChanged(ctx context.Context, userID uuid.UUID, campus *models.Campus) {
	if n.queue == nil || campus == nil {
		return
	}
	user, err := n.users.GetByID(ctx, userID)
	if err != nil {
		n.logger.Warn("campus email skipped: user lookup failed", zap.Error(err), zap.String("user_id", userID.String()))
		return
	}
	payload := queue.EmailPayload{
		EmailType:      "campus_switched",
		RecipientEmail: user.Email,
		Subject:        fmt.Sprintf("Active campus changed to %s", campus.Name),
		BodyHTML: fmt.Sprintf("<p>Hi %s,</p><p>Your active campus is now <b>%s</b> (%s).</p>",
			user.FullName, campus.Name, campus.Code),
	}
	if err := n.queue.EnqueueEmail(ctx, payload); err != nil {
		n.logger.Error("enqueue campus email failed", zap.Error(err), zap.String("user_id", userID.String()))
	}
}
