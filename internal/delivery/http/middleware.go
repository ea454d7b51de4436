package http

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
	"github.com/FilipeAphrody/arcade-gateway/pkg/security"
)

const principalKey = "principal"

// Authenticator validates access tokens and resolves the caller to a live
// user record. The database lookup means a deactivated user or a role
// change takes effect on the very next request, not at token expiry.
type Authenticator struct {
	tokens   *security.TokenService
	userRepo domain.UserRepository
}

func NewAuthenticator(tokens *security.TokenService, userRepo domain.UserRepository) *Authenticator {
	return &Authenticator{tokens: tokens, userRepo: userRepo}
}

// RequireAuth rejects requests without a valid access token.
func (a *Authenticator) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := a.authenticate(c)
		if err != nil {
			return writeError(c, err)
		}
		c.Set(principalKey, user)
		return next(c)
	}
}

// OptionalAuth resolves the caller when a token is present but lets
// anonymous requests through. Used by public read endpoints.
func (a *Authenticator) OptionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get("Authorization") != "" {
			user, err := a.authenticate(c)
			if err != nil {
				return writeError(c, err)
			}
			c.Set(principalKey, user)
		}
		return next(c)
	}
}

func (a *Authenticator) authenticate(c echo.Context) (*domain.User, error) {
	raw, err := bearerToken(c)
	if err != nil {
		return nil, err
	}

	claims, err := a.tokens.Verify(raw, security.TokenAccess)
	if err != nil {
		return nil, err
	}

	user, err := a.userRepo.GetByID(c.Request().Context(), claims.UserID)
	if err != nil {
		return nil, domain.ErrUnauthenticated
	}
	if !user.IsActive {
		return nil, domain.ErrUserInactive
	}

	// A token minted before 2FA was enabled must not skip the second
	// factor forever.
	if user.TwoFactorEnabled && !claims.TwoFactorVerified {
		return nil, domain.ErrUnauthenticated
	}

	return user, nil
}

func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get("Authorization")
	if header == "" {
		return "", domain.ErrUnauthenticated
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", domain.ErrUnauthenticated
	}
	return parts[1], nil
}

// principalFrom returns the authenticated user, or nil for anonymous
// requests behind OptionalAuth.
func principalFrom(c echo.Context) *domain.User {
	user, _ := c.Get(principalKey).(*domain.User)
	return user
}

// RequireRole restricts a route group to one exact role. Used for the
// admin surface, where finer-grained checks run through the decision
// engine inside the handlers.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := principalFrom(c)
			if user == nil {
				return writeError(c, domain.ErrUnauthenticated)
			}
			if user.Role != role {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied: insufficient permissions"})
			}
			return next(c)
		}
	}
}
