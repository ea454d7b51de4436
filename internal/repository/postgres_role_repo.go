package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

// PostgresRoleRepo implements domain.RoleRepository using PostgreSQL.
// Permission sets are stored as a JSONB column.
type PostgresRoleRepo struct {
	db *sql.DB
}

// NewPostgresRoleRepo creates a new repository instance.
func NewPostgresRoleRepo(db *sql.DB) *PostgresRoleRepo {
	return &PostgresRoleRepo{db: db}
}

func scanRole(row interface{ Scan(...interface{}) error }) (*domain.Role, error) {
	role := &domain.Role{}
	var permsJSON []byte
	err := row.Scan(&role.Name, &role.Description, &permsJSON, &role.BuiltIn, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: role not found", domain.ErrInvalidRole)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if err := json.Unmarshal(permsJSON, &role.Permissions); err != nil {
		return nil, fmt.Errorf("decoding role permissions: %w", err)
	}
	return role, nil
}

// GetByName retrieves a role by its unique name.
func (r *PostgresRoleRepo) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	query := `SELECT name, description, permissions, built_in, created_at FROM roles WHERE name = $1`
	return scanRole(r.db.QueryRowContext(ctx, query, name))
}

// List returns all roles with their current user counts.
func (r *PostgresRoleRepo) List(ctx context.Context) ([]*domain.Role, error) {
	query := `
		SELECT r.name, r.description, r.permissions, r.built_in, r.created_at,
		       (SELECT COUNT(*) FROM users u WHERE u.role_id = r.id)
		FROM roles r
		ORDER BY r.name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var roles []*domain.Role
	for rows.Next() {
		role := &domain.Role{}
		var permsJSON []byte
		if err := rows.Scan(&role.Name, &role.Description, &permsJSON, &role.BuiltIn, &role.CreatedAt, &role.UserCount); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if err := json.Unmarshal(permsJSON, &role.Permissions); err != nil {
			return nil, fmt.Errorf("decoding role permissions: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Create inserts a new custom role.
func (r *PostgresRoleRepo) Create(ctx context.Context, role *domain.Role) error {
	permsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("encoding role permissions: %w", err)
	}
	role.CreatedAt = time.Now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO roles (name, description, permissions, built_in, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, role.Name, role.Description, permsJSON, role.BuiltIn, role.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return domain.ErrRoleExists
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// Update replaces the description and permission set of a custom role.
// Built-in roles are rejected at the store level as a second line of defence.
func (r *PostgresRoleRepo) Update(ctx context.Context, role *domain.Role) error {
	permsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("encoding role permissions: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE roles SET description = $1, permissions = $2
		WHERE name = $3 AND built_in = FALSE
	`, role.Description, permsJSON, role.Name)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if existing, err := r.GetByName(ctx, role.Name); err == nil && existing.BuiltIn {
			return domain.ErrBuiltInRole
		}
		return fmt.Errorf("%w: %q", domain.ErrInvalidRole, role.Name)
	}
	return nil
}

// Delete removes a custom role, refusing while any user still carries it.
// The guard and the delete run in one statement so a concurrent role
// assignment cannot slip between them.
func (r *PostgresRoleRepo) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM roles
		WHERE name = $1 AND built_in = FALSE
		  AND NOT EXISTS (SELECT 1 FROM users u WHERE u.role_id = roles.id)
	`, name)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		existing, err := r.GetByName(ctx, name)
		if err != nil {
			return err
		}
		if existing.BuiltIn {
			return domain.ErrBuiltInRole
		}
		return domain.ErrRoleInUse
	}
	return nil
}

// EnsureBuiltins seeds the built-in roles if they are absent. Existing
// rows are left untouched so a redeploy never rewrites history.
func (r *PostgresRoleRepo) EnsureBuiltins(ctx context.Context, roles []*domain.Role) error {
	for _, role := range roles {
		permsJSON, err := json.Marshal(role.Permissions)
		if err != nil {
			return fmt.Errorf("encoding role permissions: %w", err)
		}
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO roles (name, description, permissions, built_in, created_at)
			VALUES ($1, $2, $3, TRUE, $4)
			ON CONFLICT (name) DO NOTHING
		`, role.Name, role.Description, permsJSON, time.Now())
		if err != nil {
			return fmt.Errorf("seeding role %q: %w", role.Name, err)
		}
	}
	return nil
}

// UserCount reports how many users carry the role.
func (r *PostgresRoleRepo) UserCount(ctx context.Context, name string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users u
		JOIN roles r ON u.role_id = r.id
		WHERE r.name = $1
	`, name).Scan(&count)
	return count, err
}
