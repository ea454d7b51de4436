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

// PostgresUserRepo implements domain.UserRepository using PostgreSQL.
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo creates a new repository instance.
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `
	u.id, u.email, u.password_hash, r.name, u.is_active,
	u.two_factor_enabled, COALESCE(u.two_factor_method, ''), u.two_factor_configured_at,
	COALESCE(u.external_otp_ref, ''), COALESCE(u.totp_secret, ''), u.backup_code_hashes,
	u.created_at, u.updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*domain.User, error) {
	user := &domain.User{}
	var configuredAt sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.IsActive,
		&user.TwoFactorEnabled,
		&user.TwoFactorMethod,
		&configuredAt,
		&user.ExternalOTPRef,
		&user.TOTPSecret,
		pq.Array(&user.BackupCodeHashes),
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if configuredAt.Valid {
		user.TwoFactorConfiguredAt = &configuredAt.Time
	}
	return user, nil
}

// GetByEmail retrieves a user by their email address, joining with the
// roles table to get the role name directly and avoid N+1 queries.
func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		JOIN roles r ON u.role_id = r.id
		WHERE u.email = $1
	`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByID retrieves a user by their UUID.
func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		JOIN roles r ON u.role_id = r.id
		WHERE u.id = $1
	`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// Create inserts a new user. The user count check and the insert share one
// serializable transaction so the "first user becomes superadmin" rule
// survives concurrent first registrations: exactly one transaction sees a
// zero count. The loser of the race gets a serialization failure and is
// retried once, now against a non-empty table, as a normal registration.
func (r *PostgresUserRepo) Create(ctx context.Context, user *domain.User) (bool, error) {
	requested := user.Role
	first, err := r.createTx(ctx, user)
	if isSerializationFailure(err) {
		// The failed attempt may have promoted the role already.
		user.Role = requested
		first, err = r.createTx(ctx, user)
	}
	return first, err
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "serialization_failure"
}

func (r *PostgresUserRepo) createTx(ctx context.Context, user *domain.User) (bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return false, fmt.Errorf("counting users: %w", err)
	}

	first := count == 0
	if first {
		user.Role = domain.RoleSuperadmin
	}

	var roleID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM roles WHERE name = $1", user.Role).Scan(&roleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: %q", domain.ErrInvalidRole, user.Role)
		}
		return false, fmt.Errorf("resolving role: %w", err)
	}

	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	query := `
		INSERT INTO users (email, password_hash, role_id, is_active, backup_code_hashes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, query,
		user.Email,
		user.PasswordHash,
		roleID,
		user.IsActive,
		pq.Array(user.BackupCodeHashes),
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return false, domain.ErrEmailTaken
		}
		return false, fmt.Errorf("failed to create user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return first, nil
}

// Update modifies the mutable identity fields of an existing user.
func (r *PostgresUserRepo) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET email = $1, is_active = $2, updated_at = $3
		WHERE id = $4
	`
	user.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query, user.Email, user.IsActive, user.UpdatedAt, user.ID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdatePassword replaces the stored password hash.
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		passwordHash, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateTwoFactor persists the user's 2FA settings in one statement.
func (r *PostgresUserRepo) UpdateTwoFactor(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET two_factor_enabled = $1, two_factor_method = $2, two_factor_configured_at = $3,
		    external_otp_ref = $4, totp_secret = $5, backup_code_hashes = $6, updated_at = $7
		WHERE id = $8
	`
	user.UpdatedAt = time.Now()

	var configuredAt sql.NullTime
	if user.TwoFactorConfiguredAt != nil {
		configuredAt = sql.NullTime{Time: *user.TwoFactorConfiguredAt, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		user.TwoFactorEnabled,
		nullString(user.TwoFactorMethod),
		configuredAt,
		nullString(user.ExternalOTPRef),
		nullString(user.TOTPSecret),
		pq.Array(user.BackupCodeHashes),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// SetRole reassigns the user to a different role by name.
func (r *PostgresUserRepo) SetRole(ctx context.Context, id, role string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET role_id = (SELECT id FROM roles WHERE name = $1), updated_at = $2
		WHERE id = $3 AND EXISTS (SELECT 1 FROM roles WHERE name = $1)
	`, role, time.Now(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either the user or the role is missing; disambiguate for the caller.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}
	return nil
}

// Delete removes a user. Tokens and challenges cascade at the schema level.
func (r *PostgresUserRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// List returns all users, newest first.
func (r *PostgresUserRepo) List(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		JOIN roles r ON u.role_id = r.id
		ORDER BY u.created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Count returns the total number of users.
func (r *PostgresUserRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// ConsumeBackupCode atomically removes one backup-code hash from the
// user's stored set. The update only matches while the hash is present,
// so a code can be spent exactly once even under concurrent submissions.
func (r *PostgresUserRepo) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET backup_code_hashes = array_remove(backup_code_hashes, $1), updated_at = $2
		WHERE id = $3 AND $1 = ANY(backup_code_hashes)
	`, codeHash, time.Now(), userID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// RestoreBackupCode re-adds a consumed hash when the login it was spent on
// did not complete. The guard keeps the operation idempotent.
func (r *PostgresUserRepo) RestoreBackupCode(ctx context.Context, userID, codeHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET backup_code_hashes = array_append(backup_code_hashes, $1), updated_at = $2
		WHERE id = $3 AND NOT ($1 = ANY(backup_code_hashes))
	`, codeHash, time.Now(), userID)
	return err
}

// LogSecurityEvent inserts an immutable record into the audit_logs table.
func (r *PostgresUserRepo) LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (user_id, event_type, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	// The schema allows user_id to be NULL for anonymous failed logins.
	var uid sql.NullString
	if userID != "" {
		uid.String = userID
		uid.Valid = true
	}

	_, err = r.db.ExecContext(ctx, query, uid, eventType, ip, metaJSON, time.Now())
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireRow(result sql.Result) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
