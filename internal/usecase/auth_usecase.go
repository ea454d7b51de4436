package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/FilipeAphrody/arcade-gateway/internal/authz"
	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
	"github.com/FilipeAphrody/arcade-gateway/pkg/security"
)

// ChallengeStarter opens a second-factor challenge for a user whose
// password already checked out. Implemented by TwoFactorUsecase.
type ChallengeStarter interface {
	StartChallenge(ctx context.Context, user *domain.User, ip, userAgent string) (*domain.ChallengeResponse, error)
}

type AuthUsecase struct {
	userRepo   domain.UserRepository
	tokenRepo  domain.TokenRepository
	tokens     *security.TokenService
	challenges ChallengeStarter
}

func NewAuthUsecase(u domain.UserRepository, t domain.TokenRepository, tokens *security.TokenService, challenges ChallengeStarter) *AuthUsecase {
	return &AuthUsecase{
		userRepo:   u,
		tokenRepo:  t,
		tokens:     tokens,
		challenges: challenges,
	}
}

// Register creates a new account. The first account in the system is
// promoted to the highest-privilege role regardless of the requested one;
// every later public registration may only pick a non-admin role.
func (u *AuthUsecase) Register(ctx context.Context, email, password, role string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if role == "" {
		role = domain.RoleDeveloper
	}
	if !knownPublicRole(role) {
		return nil, domain.ErrInvalidRole
	}

	if err := ValidatePasswordComplexity(password); err != nil {
		return nil, err
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}

	firstUser, err := u.userRepo.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	event := "USER_REGISTERED"
	if firstUser {
		event = "FIRST_USER_REGISTERED"
	}
	_ = u.userRepo.LogSecurityEvent(ctx, user.ID, event, "", map[string]interface{}{"role": user.Role})

	return user, nil
}

// Login validates credentials. A user without two-factor gets a full
// session; a user with two-factor gets a challenge instead, and no access
// token exists until the second factor passes.
func (u *AuthUsecase) Login(ctx context.Context, email, password, ip, userAgent string) (*domain.AuthResponse, *domain.ChallengeResponse, error) {
	user, err := u.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		// Same error as a wrong password so the endpoint does not leak
		// which emails are registered.
		return nil, nil, domain.ErrInvalidCredentials
	}

	match, err := security.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		_ = u.userRepo.LogSecurityEvent(ctx, user.ID, "LOGIN_FAILED", ip, nil)
		return nil, nil, domain.ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, nil, domain.ErrUserInactive
	}

	if user.TwoFactorEnabled {
		challenge, err := u.challenges.StartChallenge(ctx, user, ip, userAgent)
		if err != nil {
			return nil, nil, err
		}
		return nil, challenge, nil
	}

	session, err := u.generateSession(ctx, user, false)
	if err != nil {
		return nil, nil, err
	}
	_ = u.userRepo.LogSecurityEvent(ctx, user.ID, "LOGIN_SUCCESS", ip, nil)
	return session, nil, nil
}

// CompleteLogin issues a full session after the second factor was verified.
func (u *AuthUsecase) CompleteLogin(ctx context.Context, userID, ip string) (*domain.AuthResponse, error) {
	user, err := u.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrUserInactive
	}
	session, err := u.generateSession(ctx, user, true)
	if err != nil {
		return nil, err
	}
	_ = u.userRepo.LogSecurityEvent(ctx, user.ID, "LOGIN_SUCCESS_2FA", ip, nil)
	return session, nil
}

// Refresh exchanges a valid, unrevoked refresh token for a fresh pair.
// The presented token is revoked as part of the exchange.
func (u *AuthUsecase) Refresh(ctx context.Context, rawRefreshToken string) (*domain.AuthResponse, error) {
	claims, err := u.tokens.Verify(rawRefreshToken, security.TokenRefresh)
	if err != nil {
		return nil, err
	}

	tokenHash := security.HashToken(rawRefreshToken)
	userID, err := u.tokenRepo.UserIDByRefreshToken(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if userID != claims.UserID {
		// Hash collision or store corruption; refuse either way.
		return nil, domain.ErrTokenRevoked
	}

	user, err := u.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrUserInactive
	}

	// Rotate: the old token must not be usable twice.
	if err := u.tokenRepo.DeleteRefreshToken(ctx, tokenHash); err != nil {
		return nil, err
	}

	// A 2FA user could only have obtained a refresh token after passing
	// the second factor, so the refreshed access token keeps that state.
	return u.generateSession(ctx, user, user.TwoFactorEnabled)
}

// Logout revokes every outstanding refresh token of the presented
// token's owner.
func (u *AuthUsecase) Logout(ctx context.Context, rawRefreshToken string) error {
	claims, err := u.tokens.Verify(rawRefreshToken, security.TokenRefresh)
	if err != nil {
		return err
	}

	if err := u.tokenRepo.RevokeAllForUser(ctx, claims.UserID); err != nil {
		return err
	}
	_ = u.userRepo.LogSecurityEvent(ctx, claims.UserID, "LOGOUT", "", nil)
	return nil
}

// ChangePassword verifies the current password, applies the new one and
// revokes every refresh token so stolen sessions die with the old secret.
func (u *AuthUsecase) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := u.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	match, err := security.ComparePassword(currentPassword, user.PasswordHash)
	if err != nil || !match {
		return domain.ErrInvalidCredentials
	}

	if err := ValidatePasswordComplexity(newPassword); err != nil {
		return err
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := u.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	if err := u.tokenRepo.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	_ = u.userRepo.LogSecurityEvent(ctx, userID, "PASSWORD_CHANGED", "", nil)
	return nil
}

// Me returns the authenticated user's profile.
func (u *AuthUsecase) Me(ctx context.Context, userID string) (*domain.User, error) {
	return u.userRepo.GetByID(ctx, userID)
}

func (u *AuthUsecase) generateSession(ctx context.Context, user *domain.User, twoFactorVerified bool) (*domain.AuthResponse, error) {
	accessToken, err := u.tokens.IssueAccessToken(user.ID, user.Email, user.Role, twoFactorVerified)
	if err != nil {
		return nil, err
	}

	refreshToken, err := u.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}

	// Only the hash is stored; Redis acts as the revocation list, the
	// signature remains the proof of authenticity.
	err = u.tokenRepo.StoreRefreshToken(ctx, user.ID, security.HashToken(refreshToken), u.tokens.RefreshTTL())
	if err != nil {
		return nil, err
	}

	return &domain.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(u.tokens.AccessTTL().Seconds()),
		User:         user,
	}, nil
}

// ErrWeakPassword is returned when a password fails the complexity policy.
var ErrWeakPassword = errors.New("password must be at least 8 characters and mix upper case, lower case and digits")

// ValidatePasswordComplexity enforces the registration password policy.
func ValidatePasswordComplexity(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}

// PasswordStrength scores a candidate password without storing it.
// Exposed so clients can give feedback before registration.
func PasswordStrength(password string) (score int, feedback []string) {
	if len(password) >= 8 {
		score++
	} else {
		feedback = append(feedback, "use at least 8 characters")
	}
	if len(password) >= 12 {
		score++
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if hasUpper && hasLower {
		score++
	} else {
		feedback = append(feedback, "mix upper and lower case letters")
	}
	if hasDigit {
		score++
	} else {
		feedback = append(feedback, "add digits")
	}
	if hasSymbol {
		score++
	} else {
		feedback = append(feedback, "add symbols")
	}
	return score, feedback
}

// role sanity check shared by registration and admin role assignment
func knownPublicRole(role string) bool {
	return authz.IsBuiltinRole(role) && role != domain.RoleSuperadmin
}
