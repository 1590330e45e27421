package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eas-attendance/backend/internal/models"
)

// Repository is the user directory backed by PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a user repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, password_hash, full_name, COALESCE(student_id,''), COALESCE(department,''),
	role, campus_id, created_at, updated_at`

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Password, &u.FullName,
		&u.StudentID, &u.Department, &u.Role, &u.CampusID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.Password, &u.FullName,
		&u.StudentID, &u.Department, &u.Role, &u.CampusID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListByCampus returns the users of a campus for admin views.
func (r *Repository) ListByCampus(ctx context.Context, campusID uuid.UUID) ([]models.UserPublic, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, full_name, COALESCE(student_id,''), COALESCE(department,''),
		role, campus_id, created_at FROM users WHERE campus_id = $1 ORDER BY full_name, email`, campusID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.UserPublic
	for rows.Next() {
		var u models.UserPublic
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.StudentID, &u.Department,
			&u.Role, &u.CampusID, &u.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (id, email, password_hash, full_name, student_id, department, role, campus_id)
		VALUES (gen_random_uuid(), $1, $2, $3, NULLIF($4,''), NULLIF($5,''), $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, u.Email, u.Password, u.FullName, u.StudentID, u.Department,
		string(u.Role), u.CampusID).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

// UpdateRole changes a user's role and home campus (admin action). Callers
// must re-resolve the permission set afterwards; cached permissions are stale.
func (r *Repository) UpdateRole(ctx context.Context, id uuid.UUID, role models.Role, campusID uuid.UUID) error {
	const q = `UPDATE users SET role = $2, campus_id = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, string(role), campusID)
	return err
}
