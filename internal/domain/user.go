package domain

import (
	"context"
	"time"
)

// Supported second-factor methods.
const (
	TwoFactorMethodTOTP     = "totp"
	TwoFactorMethodExternal = "external"
)

// User represents the central identity entity of the gateway.
// Every user carries exactly one role; permissions are granted only
// through that role, never individually.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // Never expose the password hash in JSON
	Role         string `json:"role"`
	IsActive     bool   `json:"is_active"`

	// Two-factor settings. Method is "external" when codes are verified by
	// the external OTP validator, "totp" when verified locally.
	TwoFactorEnabled      bool       `json:"two_factor_enabled"`
	TwoFactorMethod       string     `json:"two_factor_method,omitempty"`
	TwoFactorConfiguredAt *time.Time `json:"two_factor_configured_at,omitempty"`
	ExternalOTPRef        string     `json:"-"` // credential reference in the external validator
	TOTPSecret            string     `json:"-"`
	BackupCodeHashes      []string   `json:"-"` // SHA-256, each usable exactly once

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthResponse defines the payload returned after a fully-authenticated login.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	User         *User  `json:"user,omitempty"`
}

// ChallengeResponse is returned by login when the principal has 2FA enabled:
// first factor passed, second factor pending. No access token exists yet.
type ChallengeResponse struct {
	Requires2FA    bool   `json:"requires_2fa"`
	ChallengeToken string `json:"challenge_token"`
	ChallengeID    string `json:"challenge_id"`
	ExpiresIn      int64  `json:"expires_in"`
}

// UserRepository defines the contract for user persistence.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)

	// Create inserts a new user. The count-check and the insert run in one
	// transaction: when no user exists yet the role is overridden to the
	// highest-privilege role and firstUser is true. The loser of a
	// concurrent first-registration race is treated as a normal registration.
	Create(ctx context.Context, user *User) (firstUser bool, err error)

	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateTwoFactor(ctx context.Context, user *User) error
	SetRole(ctx context.Context, id, role string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*User, error)
	Count(ctx context.Context) (int, error)

	// ConsumeBackupCode removes one stored backup-code hash. Returns false
	// when the hash is not present (already used or never issued).
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)

	// RestoreBackupCode puts a consumed hash back. Used when the login the
	// code was spent on did not complete. Idempotent.
	RestoreBackupCode(ctx context.Context, userID, codeHash string) error

	// LogSecurityEvent records an immutable audit entry.
	LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error
}

// TokenRepository defines how refresh-token revocation state is kept
// (usually in Redis). Only SHA-256 hashes of tokens are stored.
type TokenRepository interface {
	StoreRefreshToken(ctx context.Context, userID, tokenHash string, ttl time.Duration) error
	UserIDByRefreshToken(ctx context.Context, tokenHash string) (string, error)
	DeleteRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}
