// Package attendance is the append-only ledger of committed attendance
// records, always read and written through campus-scoped handles.
package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eas-attendance/backend/internal/models"
)

// ErrDuplicateAttendance means a record already exists for this
// (event, user, kind) triple. The check-then-write is atomic: two concurrent
// commits for the same triple yield exactly one record.
var ErrDuplicateAttendance = errors.New("attendance already recorded")

// Repository is the attendance ledger backed by PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Commit appends one immutable attendance record. Uniqueness per
// (event_id, user_id, kind) is enforced by the unique index: the insert either
// lands or reports ErrDuplicateAttendance, never a second record.
func (r *Repository) Commit(ctx context.Context, rec *models.AttendanceRecord) error {
	var location []byte
	if rec.Location != nil {
		var err error
		location, err = json.Marshal(rec.Location)
		if err != nil {
			return fmt.Errorf("marshal location: %w", err)
		}
	}
	const q = `INSERT INTO attendance_records
			(id, event_id, user_id, campus_id, kind, cross_campus, location, photo_key, signature_key)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''))
		ON CONFLICT (event_id, user_id, kind) DO NOTHING
		RETURNING id, committed_at`
	err := r.pool.QueryRow(ctx, q,
		rec.EventID, rec.UserID, rec.CampusID, string(rec.Kind), rec.CrossCampus,
		location, rec.PhotoKey, rec.SignatureKey,
	).Scan(&rec.ID, &rec.CommittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateAttendance
	}
	return err
}

// Exists reports whether a record exists for the triple.
func (r *Repository) Exists(ctx context.Context, eventID, userID uuid.UUID, kind models.AttendanceKind) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM attendance_records WHERE event_id = $1 AND user_id = $2 AND kind = $3)`
	var exists bool
	err := r.pool.QueryRow(ctx, q, eventID, userID, string(kind)).Scan(&exists)
	return exists, err
}

const recordColumns = `id, event_id, user_id, campus_id, kind, cross_campus,
	location, COALESCE(photo_key,''), COALESCE(signature_key,''), committed_at`

func scanRecord(row pgx.Row) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	var kind string
	var location []byte
	err := row.Scan(&rec.ID, &rec.EventID, &rec.UserID, &rec.CampusID, &kind, &rec.CrossCampus,
		&location, &rec.PhotoKey, &rec.SignatureKey, &rec.CommittedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = models.AttendanceKind(kind)
	if len(location) > 0 {
		var fix models.LocationFix
		if err := json.Unmarshal(location, &fix); err == nil {
			rec.Location = &fix
		}
	}
	return &rec, nil
}

// QueryByEvent returns records for an event, restricted to the given campus.
// A query for the wrong campus returns empty, not an error, so existence
// never leaks across campus boundaries.
func (r *Repository) QueryByEvent(ctx context.Context, campusID, eventID uuid.UUID) ([]models.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM attendance_records
		 WHERE campus_id = $1 AND event_id = $2 ORDER BY committed_at DESC`,
		campusID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// QueryByUser returns records for a user within the given campus.
func (r *Repository) QueryByUser(ctx context.Context, campusID, userID uuid.UUID) ([]models.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM attendance_records
		 WHERE campus_id = $1 AND user_id = $2 ORDER BY committed_at DESC`,
		campusID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]models.AttendanceRecord, error) {
	list := []models.AttendanceRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// Audit appends one audit trail entry. Append-only; entries are never updated.
func (r *Repository) Audit(ctx context.Context, a *models.AttendanceAudit) error {
	const q = `INSERT INTO attendance_audit (id, record_id, event_id, campus_id, actor_id, action, detail, client_ip)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''))
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, a.RecordID, a.EventID, a.CampusID, a.ActorID,
		string(a.Action), a.Detail, a.ClientIP).Scan(&a.ID, &a.CreatedAt)
}

// ListAudit returns the audit trail for an event within the given campus.
func (r *Repository) ListAudit(ctx context.Context, campusID, eventID uuid.UUID) ([]models.AttendanceAudit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, record_id, event_id, campus_id, actor_id, action, COALESCE(detail,''), COALESCE(client_ip,''), created_at
		 FROM attendance_audit WHERE campus_id = $1 AND event_id = $2 ORDER BY created_at DESC`,
		campusID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.AttendanceAudit{}
	for rows.Next() {
		var a models.AttendanceAudit
		var action string
		if err := rows.Scan(&a.ID, &a.RecordID, &a.EventID, &a.CampusID, &a.ActorID,
			&action, &a.Detail, &a.ClientIP, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Action = models.AuditAction(action)
		list = append(list, a)
	}
	return list, rows.Err()
}
