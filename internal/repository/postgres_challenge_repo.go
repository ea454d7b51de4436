package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

// PostgresChallengeRepo implements domain.ChallengeRepository using
// PostgreSQL. Conditional UPDATEs carry the whole state machine: a
// transition statement matches only rows in the source state, so terminal
// states are sticky and concurrent submissions serialize on the row.
type PostgresChallengeRepo struct {
	db *sql.DB
}

// NewPostgresChallengeRepo creates a new repository instance.
func NewPostgresChallengeRepo(db *sql.DB) *PostgresChallengeRepo {
	return &PostgresChallengeRepo{db: db}
}

// Create inserts a new pending challenge row.
func (r *PostgresChallengeRepo) Create(ctx context.Context, ch *domain.TwoFactorChallenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO two_factor_challenges
			(id, user_id, token_hash, attempts, max_attempts, status, ip_address, user_agent, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ch.ID, ch.UserID, ch.TokenHash, ch.Attempts, ch.MaxAttempts, string(ch.Status),
		ch.IP, ch.UserAgent, ch.CreatedAt, ch.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

// GetByID loads a challenge by its identifier.
func (r *PostgresChallengeRepo) GetByID(ctx context.Context, id string) (*domain.TwoFactorChallenge, error) {
	ch := &domain.TwoFactorChallenge{}
	var status string
	var verifiedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, attempts, max_attempts, status,
		       COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at, expires_at, verified_at
		FROM two_factor_challenges
		WHERE id = $1
	`, id).Scan(&ch.ID, &ch.UserID, &ch.TokenHash, &ch.Attempts, &ch.MaxAttempts, &status,
		&ch.IP, &ch.UserAgent, &ch.CreatedAt, &ch.ExpiresAt, &verifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	ch.Status = domain.ChallengeStatus(status)
	if verifiedAt.Valid {
		ch.VerifiedAt = &verifiedAt.Time
	}
	return ch, nil
}

// ExpireStalePending marks any pending challenge of the user as expired.
// A fresh login replaces stale challenges rather than coexisting with them.
func (r *PostgresChallengeRepo) ExpireStalePending(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE two_factor_challenges
		SET status = $1
		WHERE user_id = $2 AND status = $3
	`, string(domain.ChallengeExpired), userID, string(domain.ChallengePending))
	return err
}

// TryIncrementAttempts performs the single conditional increment that
// serializes concurrent code submissions: the row is only touched while
// still pending and under budget, and the database applies the
// read-modify-write atomically.
func (r *PostgresChallengeRepo) TryIncrementAttempts(ctx context.Context, id string, max int) (int, bool, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE two_factor_challenges
		SET attempts = attempts + 1
		WHERE id = $1 AND status = $2 AND attempts < $3
		RETURNING attempts
	`, id, string(domain.ChallengePending), max).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("database error: %w", err)
	}
	return attempts, true, nil
}

// MarkVerified transitions pending → verified, stamping the verification time.
func (r *PostgresChallengeRepo) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.transition(ctx, `
		UPDATE two_factor_challenges
		SET status = $1, verified_at = $2
		WHERE id = $3 AND status = $4
	`, string(domain.ChallengeVerified), at, id, string(domain.ChallengePending))
}

// MarkFailed transitions pending → failed. Irreversible for the lifetime
// of the challenge.
func (r *PostgresChallengeRepo) MarkFailed(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, `
		UPDATE two_factor_challenges
		SET status = $1
		WHERE id = $2 AND status = $3
	`, string(domain.ChallengeFailed), id, string(domain.ChallengePending))
}

// MarkExpired transitions pending → expired.
func (r *PostgresChallengeRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, `
		UPDATE two_factor_challenges
		SET status = $1
		WHERE id = $2 AND status = $3
	`, string(domain.ChallengeExpired), id, string(domain.ChallengePending))
}

func (r *PostgresChallengeRepo) transition(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
