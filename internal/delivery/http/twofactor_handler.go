package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/arcade-gateway/internal/usecase"
)

// TwoFactorHandler handles second-factor enrollment, challenges and
// management.
type TwoFactorHandler struct {
	twofactor *usecase.TwoFactorUsecase
	auth      *usecase.AuthUsecase
}

// NewTwoFactorHandler registers the two-factor routes.
func NewTwoFactorHandler(e *echo.Group, t *usecase.TwoFactorUsecase, a *usecase.AuthUsecase, auth *Authenticator) {
	handler := &TwoFactorHandler{twofactor: t, auth: a}

	// Challenge completion is pre-session: the caller only holds a
	// challenge token, not an access token.
	e.POST("/auth/verify-2fa", handler.VerifyChallenge)

	e.POST("/auth/2fa/enable", handler.Enable, auth.RequireAuth)
	e.POST("/auth/2fa/confirm", handler.Confirm, auth.RequireAuth)
	e.DELETE("/auth/2fa", handler.Disable, auth.RequireAuth)
	e.GET("/auth/2fa/status", handler.Status, auth.RequireAuth)
	e.POST("/auth/2fa/backup-codes", handler.RegenerateBackupCodes, auth.RequireAuth)
}

type verifyChallengeRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required"`
}

type enableRequest struct {
	Method string `json:"method" validate:"required"`
}

type codeRequest struct {
	Code string `json:"code" validate:"required"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required"`
}

// VerifyChallenge completes a pending login challenge and, on success,
// returns the full session.
func (h *TwoFactorHandler) VerifyChallenge(c echo.Context) error {
	var req verifyChallengeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	userID, err := h.twofactor.SubmitCode(ctx, req.ChallengeToken, req.Code, c.RealIP())
	if err != nil {
		return writeError(c, err)
	}

	session, err := h.auth.CompleteLogin(ctx, userID, c.RealIP())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// Enable begins enrollment for the chosen method.
func (h *TwoFactorHandler) Enable(c echo.Context) error {
	var req enableRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	user := principalFrom(c)
	result, err := h.twofactor.Setup(c.Request().Context(), user.ID, req.Method)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Confirm proves the enrollment works and returns the one-time backup
// codes.
func (h *TwoFactorHandler) Confirm(c echo.Context) error {
	var req codeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	user := principalFrom(c)
	backupCodes, err := h.twofactor.Confirm(c.Request().Context(), user.ID, req.Code)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":      "two-factor enabled",
		"backup_codes": backupCodes,
	})
}

// Disable turns off the second factor after a password re-check.
func (h *TwoFactorHandler) Disable(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	user := principalFrom(c)
	if err := h.twofactor.Disable(c.Request().Context(), user.ID, req.Password); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "two-factor disabled"})
}

// Status reports the caller's two-factor configuration.
func (h *TwoFactorHandler) Status(c echo.Context) error {
	user := principalFrom(c)
	status, err := h.twofactor.Status(c.Request().Context(), user.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// RegenerateBackupCodes replaces the caller's backup codes.
func (h *TwoFactorHandler) RegenerateBackupCodes(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	user := principalFrom(c)
	codes, err := h.twofactor.RegenerateBackupCodes(c.Request().Context(), user.ID, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"backup_codes": codes})
}
