package domain

import "errors"

// Sentinel errors shared across the gateway. Delivery maps them to HTTP
// status codes; none are silently swallowed.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserInactive       = errors.New("user account is inactive")

	ErrInvalidRole = errors.New("invalid role")
	ErrRoleInUse   = errors.New("role is assigned to existing users")
	ErrRoleExists  = errors.New("role already exists")
	ErrBuiltInRole = errors.New("built-in roles cannot be modified")

	ErrUnauthenticated         = errors.New("authentication required")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrNotResourceOwner        = errors.New("not the owner of this resource")

	ErrTokenRevoked = errors.New("token has been revoked")

	ErrChallengeNotFound         = errors.New("challenge not found")
	ErrChallengeExpired          = errors.New("challenge has expired")
	ErrChallengeAlreadyProcessed = errors.New("challenge already processed")
	ErrTooManyAttempts           = errors.New("too many verification attempts")
	ErrInvalidCode               = errors.New("invalid verification code")
	ErrTwoFactorNotEnabled       = errors.New("two-factor authentication is not enabled")
	ErrTwoFactorAlreadyEnabled   = errors.New("two-factor authentication is already enabled")

	ErrResourceNotFound    = errors.New("resource not found")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
)
