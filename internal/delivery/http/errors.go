package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
	"github.com/FilipeAphrody/arcade-gateway/internal/usecase"
	"github.com/FilipeAphrody/arcade-gateway/pkg/security"
)

// writeError translates domain errors into HTTP responses. Unknown errors
// become an opaque 500 so internals never leak to clients.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrUnauthenticated),
		errors.Is(err, domain.ErrInvalidCode),
		errors.Is(err, domain.ErrTokenRevoked),
		errors.Is(err, security.ErrTokenExpired),
		errors.Is(err, security.ErrInvalidSignature),
		errors.Is(err, security.ErrMalformedToken),
		errors.Is(err, security.ErrWrongTokenClass):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})

	case errors.Is(err, domain.ErrInsufficientPermissions),
		errors.Is(err, domain.ErrNotResourceOwner),
		errors.Is(err, domain.ErrUserInactive),
		errors.Is(err, domain.ErrBuiltInRole):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})

	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrResourceNotFound),
		errors.Is(err, domain.ErrChallengeNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})

	case errors.Is(err, domain.ErrEmailTaken),
		errors.Is(err, domain.ErrRoleExists),
		errors.Is(err, domain.ErrRoleInUse),
		errors.Is(err, domain.ErrTwoFactorAlreadyEnabled),
		errors.Is(err, domain.ErrChallengeAlreadyProcessed):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})

	case errors.Is(err, domain.ErrChallengeExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": err.Error()})

	case errors.Is(err, domain.ErrTooManyAttempts):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": err.Error()})

	case errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrTwoFactorNotEnabled),
		errors.Is(err, usecase.ErrWeakPassword):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})

	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})

	default:
		c.Logger().Errorf("internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
