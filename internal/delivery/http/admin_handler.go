package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
	"github.com/FilipeAphrody/arcade-gateway/internal/usecase"
)

// AdminHandler exposes user and role administration. The whole group is
// restricted to the superadmin role; my-permissions is the exception and
// only needs authentication.
type AdminHandler struct {
	usecase *usecase.AdminUsecase
}

// NewAdminHandler registers the administration routes.
func NewAdminHandler(e *echo.Group, u *usecase.AdminUsecase, auth *Authenticator) {
	handler := &AdminHandler{usecase: u}

	// Role discovery is public so clients can render signup and
	// capability UIs without a session.
	e.GET("/auth/roles", handler.PublicRoles)
	e.GET("/auth/roles/:role/permissions", handler.PublicRolePermissions)

	e.GET("/auth/permissions", handler.MyPermissions, auth.RequireAuth)

	admin := e.Group("/admin", auth.RequireAuth, RequireRole(domain.RoleSuperadmin))
	admin.GET("/users", handler.ListUsers)
	admin.GET("/users/:id", handler.GetUser)
	admin.PUT("/users/:id/role", handler.SetUserRole)
	admin.POST("/users/:id/deactivate", handler.DeactivateUser)
	admin.DELETE("/users/:id", handler.DeleteUser)

	admin.GET("/roles", handler.ListRoles)
	admin.GET("/roles/:name", handler.GetRole)
	admin.POST("/roles", handler.CreateRole)
	admin.PUT("/roles/:name", handler.UpdateRole)
	admin.DELETE("/roles/:name", handler.DeleteRole)

	admin.GET("/stats", handler.Stats)
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type roleRequest struct {
	Description string   `json:"description"`
	Permissions []string `json:"permissions" validate:"required"`
}

// PublicRoles lists every role by name and description. User counts and
// other administrative detail stay on the admin surface.
func (h *AdminHandler) PublicRoles(c echo.Context) error {
	roles, err := h.usecase.ListRoles(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}

	out := make([]echo.Map, 0, len(roles))
	for _, role := range roles {
		out = append(out, echo.Map{
			"name":        role.Name,
			"description": role.Description,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// PublicRolePermissions lists the permissions a named role grants.
func (h *AdminHandler) PublicRolePermissions(c echo.Context) error {
	name := c.Param("role")
	perms, err := h.usecase.MyPermissions(name)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"role":        name,
		"permissions": perms,
	})
}

// MyPermissions lists the permissions granted by the caller's role.
func (h *AdminHandler) MyPermissions(c echo.Context) error {
	user := principalFrom(c)
	perms, err := h.usecase.MyPermissions(user.Role)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"role":        user.Role,
		"permissions": perms,
	})
}

// ListUsers returns every account.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	users, err := h.usecase.ListUsers(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, users)
}

// GetUser returns one account.
func (h *AdminHandler) GetUser(c echo.Context) error {
	user, err := h.usecase.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// SetUserRole reassigns an account to a different role.
func (h *AdminHandler) SetUserRole(c echo.Context) error {
	var req setRoleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	actor := principalFrom(c)
	if err := h.usecase.SetUserRole(c.Request().Context(), actor.ID, c.Param("id"), req.Role); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "role updated"})
}

// DeactivateUser disables an account without deleting it.
func (h *AdminHandler) DeactivateUser(c echo.Context) error {
	actor := principalFrom(c)
	if err := h.usecase.DeactivateUser(c.Request().Context(), actor.ID, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "user deactivated"})
}

// DeleteUser removes an account permanently.
func (h *AdminHandler) DeleteUser(c echo.Context) error {
	actor := principalFrom(c)
	if err := h.usecase.DeleteUser(c.Request().Context(), actor.ID, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListRoles returns every role with its user count.
func (h *AdminHandler) ListRoles(c echo.Context) error {
	roles, err := h.usecase.ListRoles(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, roles)
}

// GetRole returns one role.
func (h *AdminHandler) GetRole(c echo.Context) error {
	role, err := h.usecase.GetRole(c.Request().Context(), c.Param("name"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, role)
}

// CreateRole adds a custom role.
func (h *AdminHandler) CreateRole(c echo.Context) error {
	var req struct {
		Name string `json:"name" validate:"required"`
		roleRequest
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	actor := principalFrom(c)
	role := &domain.Role{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if err := h.usecase.CreateRole(c.Request().Context(), actor.ID, role); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, role)
}

// UpdateRole replaces a custom role's description and permissions.
func (h *AdminHandler) UpdateRole(c echo.Context) error {
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	actor := principalFrom(c)
	role := &domain.Role{
		Name:        c.Param("name"),
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if err := h.usecase.UpdateRole(c.Request().Context(), actor.ID, role); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, role)
}

// DeleteRole removes a custom role that no user holds.
func (h *AdminHandler) DeleteRole(c echo.Context) error {
	actor := principalFrom(c)
	if err := h.usecase.DeleteRole(c.Request().Context(), actor.ID, c.Param("name")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Stats returns aggregate account and role counts.
func (h *AdminHandler) Stats(c echo.Context) error {
	stats, err := h.usecase.Stats(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
