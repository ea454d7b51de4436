package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/arcade-gateway/internal/usecase"
)

// AuthHandler represents the HTTP delivery layer for authentication.
type AuthHandler struct {
	usecase *usecase.AuthUsecase
}

// NewAuthHandler registers the authentication routes to the provided echo group.
func NewAuthHandler(e *echo.Group, u *usecase.AuthUsecase, auth *Authenticator) {
	handler := &AuthHandler{usecase: u}

	e.POST("/auth/register", handler.Register)
	e.POST("/auth/login", handler.Login)
	e.POST("/auth/refresh", handler.Refresh)
	e.POST("/auth/logout", handler.Logout)
	e.POST("/auth/check-password-strength", handler.PasswordStrength)

	e.GET("/auth/me", handler.Me, auth.RequireAuth)
	e.POST("/auth/change-password", handler.ChangePassword, auth.RequireAuth)
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// Register creates a new account. The very first account becomes the
// system administrator.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	user, err := h.usecase.Register(c.Request().Context(), req.Email, req.Password, req.Role)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

// Login handles the initial authentication request. Accounts with a second
// factor get a challenge token instead of a session.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	session, challenge, err := h.usecase.Login(c.Request().Context(), req.Email, req.Password, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return writeError(c, err)
	}
	if challenge != nil {
		return c.JSON(http.StatusAccepted, challenge)
	}
	return c.JSON(http.StatusOK, session)
}

// Refresh rotates a refresh token into a fresh session.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	session, err := h.usecase.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// Logout revokes all of the caller's refresh tokens.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.usecase.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	user := principalFrom(c)
	profile, err := h.usecase.Me(c.Request().Context(), user.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

// ChangePassword replaces the caller's password and kills every session.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	user := principalFrom(c)
	if err := h.usecase.ChangePassword(c.Request().Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed, please log in again"})
}

// PasswordStrength scores a candidate password for client-side feedback.
func (h *AuthHandler) PasswordStrength(c echo.Context) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	score, feedback := usecase.PasswordStrength(req.Password)
	return c.JSON(http.StatusOK, echo.Map{
		"score":    score,
		"feedback": feedback,
	})
}
