package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
	"github.com/FilipeAphrody/arcade-gateway/pkg/security"
)

// OTPValidator verifies one-time codes against an external provider.
// Connectivity failures must surface as domain.ErrUpstreamUnavailable,
// never as a wrong code.
type OTPValidator interface {
	EnrollUser(ctx context.Context, email string) (string, error)
	VerifyCode(ctx context.Context, externalRef, code string) (bool, error)
	RemoveUser(ctx context.Context, externalRef string) error
}

const backupCodeCount = 8

type TwoFactorUsecase struct {
	userRepo      domain.UserRepository
	challengeRepo domain.ChallengeRepository
	tokens        *security.TokenService
	validator     OTPValidator
	maxAttempts   int
}

func NewTwoFactorUsecase(u domain.UserRepository, c domain.ChallengeRepository, tokens *security.TokenService, validator OTPValidator, maxAttempts int) *TwoFactorUsecase {
	return &TwoFactorUsecase{
		userRepo:      u,
		challengeRepo: c,
		tokens:        tokens,
		validator:     validator,
		maxAttempts:   maxAttempts,
	}
}

// StartChallenge opens a fresh pending challenge after a successful
// password check. Older pending challenges of the same user are expired
// first so at most one is live.
func (t *TwoFactorUsecase) StartChallenge(ctx context.Context, user *domain.User, ip, userAgent string) (*domain.ChallengeResponse, error) {
	if !user.TwoFactorEnabled {
		return nil, domain.ErrTwoFactorNotEnabled
	}

	if err := t.challengeRepo.ExpireStalePending(ctx, user.ID); err != nil {
		return nil, err
	}

	challengeID := uuid.NewString()
	token, err := t.tokens.IssueChallengeToken(user.ID, challengeID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	challenge := &domain.TwoFactorChallenge{
		ID:          challengeID,
		UserID:      user.ID,
		TokenHash:   security.HashToken(token),
		Attempts:    0,
		MaxAttempts: t.maxAttempts,
		Status:      domain.ChallengePending,
		IP:          ip,
		UserAgent:   userAgent,
		CreatedAt:   now,
		ExpiresAt:   now.Add(t.tokens.ChallengeTTL()),
	}
	if err := t.challengeRepo.Create(ctx, challenge); err != nil {
		return nil, err
	}

	_ = t.userRepo.LogSecurityEvent(ctx, user.ID, "2FA_CHALLENGE_STARTED", ip, map[string]interface{}{"challenge_id": challengeID})

	return &domain.ChallengeResponse{
		Requires2FA:    true,
		ChallengeToken: token,
		ChallengeID:    challengeID,
		ExpiresIn:      int64(t.tokens.ChallengeTTL().Seconds()),
	}, nil
}

// SubmitCode drives a pending challenge to a terminal state. On success it
// returns the user ID so the caller can mint the full session. Resubmitting
// against a finished challenge always fails, including with the right code.
func (t *TwoFactorUsecase) SubmitCode(ctx context.Context, rawChallengeToken, code, ip string) (string, error) {
	claims, err := t.tokens.Verify(rawChallengeToken, security.TokenChallenge)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return "", domain.ErrChallengeExpired
		}
		return "", err
	}

	challenge, err := t.challengeRepo.GetByID(ctx, claims.ChallengeID)
	if err != nil {
		return "", err
	}
	if challenge.TokenHash != security.HashToken(rawChallengeToken) || challenge.UserID != claims.UserID {
		return "", domain.ErrChallengeNotFound
	}

	if challenge.Status.Terminal() {
		switch challenge.Status {
		case domain.ChallengeExpired:
			return "", domain.ErrChallengeExpired
		case domain.ChallengeFailed:
			// A failed challenge keeps rejecting with the attempt-cap
			// error, even for the right code.
			return "", domain.ErrTooManyAttempts
		default:
			return "", domain.ErrChallengeAlreadyProcessed
		}
	}

	if time.Now().After(challenge.ExpiresAt) {
		_, _ = t.challengeRepo.MarkExpired(ctx, challenge.ID)
		return "", domain.ErrChallengeExpired
	}

	// Reserve an attempt slot before verifying. The conditional update is
	// the only arbiter, so concurrent submissions cannot exceed the cap.
	attempts, ok, err := t.challengeRepo.TryIncrementAttempts(ctx, challenge.ID, challenge.MaxAttempts)
	if err != nil {
		return "", err
	}
	if !ok {
		// Either a concurrent submission finished the challenge or the
		// attempt budget is spent.
		current, err := t.challengeRepo.GetByID(ctx, challenge.ID)
		if err != nil {
			return "", err
		}
		switch current.Status {
		case domain.ChallengePending:
			_, _ = t.challengeRepo.MarkFailed(ctx, challenge.ID)
			return "", domain.ErrTooManyAttempts
		case domain.ChallengeFailed:
			return "", domain.ErrTooManyAttempts
		case domain.ChallengeExpired:
			return "", domain.ErrChallengeExpired
		default:
			return "", domain.ErrChallengeAlreadyProcessed
		}
	}

	user, err := t.userRepo.GetByID(ctx, challenge.UserID)
	if err != nil {
		return "", err
	}

	valid, err := t.verifyFactor(ctx, user, code)
	if err != nil {
		return "", err
	}

	if !valid {
		_ = t.userRepo.LogSecurityEvent(ctx, user.ID, "2FA_CODE_REJECTED", ip, map[string]interface{}{"attempts": attempts})
		if attempts >= challenge.MaxAttempts {
			_, _ = t.challengeRepo.MarkFailed(ctx, challenge.ID)
			return "", domain.ErrTooManyAttempts
		}
		return "", domain.ErrInvalidCode
	}

	verified, err := t.challengeRepo.MarkVerified(ctx, challenge.ID, time.Now().UTC())
	if err != nil {
		return "", err
	}
	if !verified {
		// A concurrent submission won the transition. The backup code
		// consumed above bought nothing, so put it back.
		if isBackupCode(code) {
			_ = t.userRepo.RestoreBackupCode(ctx, user.ID, security.HashToken(strings.ToUpper(code)))
		}
		current, err := t.challengeRepo.GetByID(ctx, challenge.ID)
		if err == nil && current.Status == domain.ChallengeFailed {
			return "", domain.ErrTooManyAttempts
		}
		return "", domain.ErrChallengeAlreadyProcessed
	}

	_ = t.userRepo.LogSecurityEvent(ctx, user.ID, "2FA_CHALLENGE_VERIFIED", ip, map[string]interface{}{"challenge_id": challenge.ID})
	return user.ID, nil
}

// isBackupCode reports whether a submitted code is a backup code.
// Backup codes carry a dash; OTP codes are plain digits.
func isBackupCode(code string) bool {
	return strings.Contains(code, "-")
}

// verifyFactor checks a submitted code against whichever second factor the
// user has: backup code, local TOTP, or the external validator.
func (t *TwoFactorUsecase) verifyFactor(ctx context.Context, user *domain.User, code string) (bool, error) {
	if isBackupCode(code) {
		return t.userRepo.ConsumeBackupCode(ctx, user.ID, security.HashToken(strings.ToUpper(code)))
	}

	switch user.TwoFactorMethod {
	case domain.TwoFactorMethodTOTP:
		return security.VerifyTOTPCode(code, user.TOTPSecret), nil
	case domain.TwoFactorMethodExternal:
		if t.validator == nil {
			return false, domain.ErrUpstreamUnavailable
		}
		return t.validator.VerifyCode(ctx, user.ExternalOTPRef, code)
	default:
		return false, domain.ErrTwoFactorNotEnabled
	}
}

// SetupResult is returned when two-factor enrollment begins. Secret and
// URI are only set for the local TOTP method.
type SetupResult struct {
	Method          string `json:"method"`
	Secret          string `json:"secret,omitempty"`
	ProvisioningURI string `json:"provisioning_uri,omitempty"`
}

// Setup begins two-factor enrollment. Nothing is enforced until the user
// confirms with a working code.
func (t *TwoFactorUsecase) Setup(ctx context.Context, userID, method string) (*SetupResult, error) {
	user, err := t.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, domain.ErrTwoFactorAlreadyEnabled
	}

	switch method {
	case domain.TwoFactorMethodTOTP:
		secret, err := security.GenerateTOTPSecret()
		if err != nil {
			return nil, err
		}
		user.TOTPSecret = secret
		user.TwoFactorMethod = domain.TwoFactorMethodTOTP
		if err := t.userRepo.UpdateTwoFactor(ctx, user); err != nil {
			return nil, err
		}
		return &SetupResult{
			Method:          method,
			Secret:          secret,
			ProvisioningURI: security.TOTPProvisioningURI(user.Email, secret),
		}, nil

	case domain.TwoFactorMethodExternal:
		if t.validator == nil {
			return nil, domain.ErrUpstreamUnavailable
		}
		ref, err := t.validator.EnrollUser(ctx, user.Email)
		if err != nil {
			return nil, err
		}
		user.ExternalOTPRef = ref
		user.TwoFactorMethod = domain.TwoFactorMethodExternal
		if err := t.userRepo.UpdateTwoFactor(ctx, user); err != nil {
			return nil, err
		}
		return &SetupResult{Method: method}, nil

	default:
		return nil, domain.ErrTwoFactorNotEnabled
	}
}

// Confirm finishes enrollment by proving the user can produce a valid
// code. Backup codes are issued exactly here, in plain text, once.
func (t *TwoFactorUsecase) Confirm(ctx context.Context, userID, code string) ([]string, error) {
	user, err := t.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, domain.ErrTwoFactorAlreadyEnabled
	}
	if user.TwoFactorMethod == "" {
		return nil, domain.ErrTwoFactorNotEnabled
	}

	valid, err := t.verifyFactor(ctx, user, code)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, domain.ErrInvalidCode
	}

	codes, hashes, err := security.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user.TwoFactorEnabled = true
	user.TwoFactorConfiguredAt = &now
	user.BackupCodeHashes = hashes
	if err := t.userRepo.UpdateTwoFactor(ctx, user); err != nil {
		return nil, err
	}

	_ = t.userRepo.LogSecurityEvent(ctx, user.ID, "2FA_ENABLED", "", map[string]interface{}{"method": user.TwoFactorMethod})
	return codes, nil
}

// Disable turns two-factor off after re-verifying the account password.
func (t *TwoFactorUsecase) Disable(ctx context.Context, userID, password string) error {
	user, err := t.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return domain.ErrTwoFactorNotEnabled
	}

	match, err := security.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return domain.ErrInvalidCredentials
	}

	if user.TwoFactorMethod == domain.TwoFactorMethodExternal && user.ExternalOTPRef != "" && t.validator != nil {
		if err := t.validator.RemoveUser(ctx, user.ExternalOTPRef); err != nil {
			return err
		}
	}

	user.TwoFactorEnabled = false
	user.TwoFactorMethod = ""
	user.TwoFactorConfiguredAt = nil
	user.ExternalOTPRef = ""
	user.TOTPSecret = ""
	user.BackupCodeHashes = nil
	if err := t.userRepo.UpdateTwoFactor(ctx, user); err != nil {
		return err
	}

	_ = t.userRepo.LogSecurityEvent(ctx, user.ID, "2FA_DISABLED", "", nil)
	return nil
}

// StatusResult reports a user's two-factor configuration.
type StatusResult struct {
	Enabled              bool       `json:"enabled"`
	Method               string     `json:"method,omitempty"`
	ConfiguredAt         *time.Time `json:"configured_at,omitempty"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
}

// Status returns the user's current two-factor state.
func (t *TwoFactorUsecase) Status(ctx context.Context, userID string) (*StatusResult, error) {
	user, err := t.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		Enabled:              user.TwoFactorEnabled,
		Method:               user.TwoFactorMethod,
		ConfiguredAt:         user.TwoFactorConfiguredAt,
		BackupCodesRemaining: len(user.BackupCodeHashes),
	}, nil
}

// RegenerateBackupCodes replaces all backup codes. The previous set
// becomes unusable immediately.
func (t *TwoFactorUsecase) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	user, err := t.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactorEnabled {
		return nil, domain.ErrTwoFactorNotEnabled
	}

	match, err := security.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return nil, domain.ErrInvalidCredentials
	}

	codes, hashes, err := security.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}
	user.BackupCodeHashes = hashes
	if err := t.userRepo.UpdateTwoFactor(ctx, user); err != nil {
		return nil, err
	}

	_ = t.userRepo.LogSecurityEvent(ctx, user.ID, "2FA_BACKUP_CODES_REGENERATED", "", nil)
	return codes, nil
}
