package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eas-attendance/backend/internal/models"
)

// Repository persists the email delivery log.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a queued email log entry and fills in its id and timestamp.
func (r *Repository) Create(ctx context.Context, log *models.EmailLog) error {
	const q = `
		INSERT INTO email_logs (id, email_type, recipient_email, subject, event_id, record_id, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 'queued')
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q,
		log.EmailType, log.RecipientEmail, log.Subject, log.EventID, log.RecordID,
	).Scan(&log.ID, &log.CreatedAt)
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE email_logs SET status = 'sent', sent_at = now(), error = NULL WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// MarkFailed records a delivery failure with its error message.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	const q = `UPDATE email_logs SET status = 'failed', error = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, errMsg)
	return err
}

// ListByEvent returns email log entries for an event, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.EmailLog, error) {
	const q = `
		SELECT id, email_type, recipient_email, subject, event_id, record_id, status, COALESCE(error, ''), created_at, sent_at
		FROM email_logs WHERE event_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.EmailLog{}
	for rows.Next() {
		var l models.EmailLog
		if err := rows.Scan(&l.ID, &l.EmailType, &l.RecipientEmail, &l.Subject,
			&l.EventID, &l.RecordID, &l.Status, &l.Error, &l.CreatedAt, &l.SentAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
