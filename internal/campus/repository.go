package campus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eas-attendance/backend/internal/models"
)

// Repository is the campus directory backed by PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a campus repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const campusColumns = `id, code, name, COALESCE(address,''), latitude, longitude,
	COALESCE(branding,'{}'::jsonb), cross_campus_enabled, active, created_at, updated_at`

func scanCampus(row pgx.Row) (*models.Campus, error) {
	var c models.Campus
	var branding []byte
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Address, &c.Latitude, &c.Longitude,
		&branding, &c.CrossCampusEnabled, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Branding = json.RawMessage(branding)
	return &c, nil
}

// GetByID returns a campus by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campus, error) {
	c, err := scanCampus(r.pool.QueryRow(ctx, `SELECT `+campusColumns+` FROM campuses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCampusNotFound
	}
	return c, err
}

// GetByCode returns a campus by its short code.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Campus, error) {
	c, err := scanCampus(r.pool.QueryRow(ctx, `SELECT `+campusColumns+` FROM campuses WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCampusNotFound
	}
	return c, err
}

// List returns campuses, optionally including deactivated ones.
func (r *Repository) List(ctx context.Context, includeInactive bool) ([]models.Campus, error) {
	q := `SELECT ` + campusColumns + ` FROM campuses`
	if !includeInactive {
		q += ` WHERE active`
	}
	q += ` ORDER BY name`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Campus
	for rows.Next() {
		c, err := scanCampus(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// Create inserts a new campus (super_admin action).
func (r *Repository) Create(ctx context.Context, c *models.Campus) error {
	const q = `INSERT INTO campuses (id, code, name, address, latitude, longitude, branding, cross_campus_enabled, active)
		VALUES (gen_random_uuid(), $1, $2, NULLIF($3,''), $4, $5, COALESCE($6,'{}'::jsonb), $7, TRUE)
		RETURNING id, active, created_at, updated_at`
	var branding []byte
	if len(c.Branding) > 0 {
		branding = c.Branding
	}
	return r.pool.QueryRow(ctx, q, c.Code, c.Name, c.Address, c.Latitude, c.Longitude, branding, c.CrossCampusEnabled).
		Scan(&c.ID, &c.Active, &c.CreatedAt, &c.UpdatedAt)
}

// UpdateBranding replaces branding config and feature flags. Identity fields
// (code, name) are immutable after creation.
func (r *Repository) UpdateBranding(ctx context.Context, id uuid.UUID, branding json.RawMessage, crossCampusEnabled bool) error {
	const q = `UPDATE campuses SET branding = $2, cross_campus_enabled = $3, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, []byte(branding), crossCampusEnabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCampusNotFound
	}
	return nil
}

// Deactivate marks a campus inactive. Campuses are never deleted.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE campuses SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCampusNotFound
	}
	return nil
}
