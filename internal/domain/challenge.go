package domain

import (
	"context"
	"time"
)

// ChallengeStatus is the lifecycle state of a two-factor challenge.
// pending is the only non-terminal state; verified, failed and expired
// admit no further transitions.
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeVerified ChallengeStatus = "verified"
	ChallengeFailed   ChallengeStatus = "failed"
	ChallengeExpired  ChallengeStatus = "expired"
)

// Terminal reports whether no further transitions are allowed.
func (s ChallengeStatus) Terminal() bool {
	return s == ChallengeVerified || s == ChallengeFailed || s == ChallengeExpired
}

// TwoFactorChallenge tracks one second-factor attempt window between a
// successful password check and full token issuance. The challenge token
// itself is never stored; only its SHA-256 hash is.
type TwoFactorChallenge struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	TokenHash   string          `json:"-"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Status      ChallengeStatus `json:"status"`
	IP          string          `json:"ip,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	VerifiedAt  *time.Time      `json:"verified_at,omitempty"`
}

// ChallengeRepository persists two-factor challenges. Every state
// transition must hit the store before the caller observes it.
type ChallengeRepository interface {
	Create(ctx context.Context, ch *TwoFactorChallenge) error
	GetByID(ctx context.Context, id string) (*TwoFactorChallenge, error)

	// ExpireStalePending marks any pending challenge of the user as expired,
	// so at most one challenge is pending per principal.
	ExpireStalePending(ctx context.Context, userID string) error

	// TryIncrementAttempts performs a single conditional increment:
	// it succeeds only while the challenge is pending and attempts < max.
	// The returned count is the post-increment value. ok=false means the
	// budget is exhausted or the challenge left the pending state; two
	// concurrent submissions can never push attempts past max.
	TryIncrementAttempts(ctx context.Context, id string, max int) (attempts int, ok bool, err error)

	// MarkVerified / MarkFailed / MarkExpired transition out of pending.
	// They are no-ops returning false when the challenge is already terminal.
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
}
