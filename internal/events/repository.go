package events

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eas-attendance/backend/internal/models"
)

// ErrEventNotFound means no event exists with the given id.
var ErrEventNotFound = errors.New("event not found")

// Repository is the event catalog backed by PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an events repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, campus_id, organizer_id, title, COALESCE(description,''), COALESCE(venue,''),
	starts_at, ends_at, latitude, longitude, radius_m,
	requires_gps, requires_selfie, requires_signature, supports_checkout,
	is_multi_campus, allowed_campuses, qr_seed,
	attendance_opens_at, attendance_closes_at, active, created_at, updated_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	var allowed []uuid.UUID
	err := row.Scan(&e.ID, &e.CampusID, &e.OrganizerID, &e.Title, &e.Description, &e.Venue,
		&e.StartsAt, &e.EndsAt, &e.Latitude, &e.Longitude, &e.RadiusM,
		&e.RequiresGPS, &e.RequiresSelfie, &e.RequiresSignature, &e.SupportsCheckout,
		&e.IsMultiCampus, &allowed, &e.QRSeed,
		&e.AttendanceOpensAt, &e.AttendanceClosesAt, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.AllowedCampuses = allowed
	return &e, nil
}

// GetByID returns an event by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return e, err
}

// ListByCampus returns active events owned by a campus, newest first.
func (r *Repository) ListByCampus(ctx context.Context, campusID uuid.UUID) ([]models.Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE campus_id = $1 AND active ORDER BY starts_at DESC`, campusID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// Create inserts a new event with a freshly generated QR seed.
func (r *Repository) Create(ctx context.Context, e *models.Event) error {
	seed, err := newSeed()
	if err != nil {
		return err
	}
	e.QRSeed = seed
	const q = `INSERT INTO events (id, campus_id, organizer_id, title, description, venue,
			starts_at, ends_at, latitude, longitude, radius_m,
			requires_gps, requires_selfie, requires_signature, supports_checkout,
			is_multi_campus, allowed_campuses, qr_seed, attendance_opens_at, attendance_closes_at, active)
		VALUES (gen_random_uuid(), $1, $2, $3, NULLIF($4,''), NULLIF($5,''),
			$6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, TRUE)
		RETURNING id, active, created_at, updated_at`
	return r.pool.QueryRow(ctx, q,
		e.CampusID, e.OrganizerID, e.Title, e.Description, e.Venue,
		e.StartsAt, e.EndsAt, e.Latitude, e.Longitude, e.RadiusM,
		e.RequiresGPS, e.RequiresSelfie, e.RequiresSignature, e.SupportsCheckout,
		e.IsMultiCampus, e.AllowedCampuses, e.QRSeed, e.AttendanceOpensAt, e.AttendanceClosesAt,
	).Scan(&e.ID, &e.Active, &e.CreatedAt, &e.UpdatedAt)
}

// RotateSeed replaces the event's QR seed, invalidating every not-yet-scanned
// token. Explicit admin operation, never automatic.
func (r *Repository) RotateSeed(ctx context.Context, id uuid.UUID) ([]byte, error) {
	seed, err := newSeed()
	if err != nil {
		return nil, err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE events SET qr_seed = $2, updated_at = NOW() WHERE id = $1`, id, seed)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrEventNotFound
	}
	return seed, nil
}

func newSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate qr seed: %w", err)
	}
	return seed, nil
}
