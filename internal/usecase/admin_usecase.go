package usecase

import (
	"context"

	"github.com/FilipeAphrody/arcade-gateway/internal/authz"
	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

type AdminUsecase struct {
	userRepo  domain.UserRepository
	roleRepo  domain.RoleRepository
	tokenRepo domain.TokenRepository
	registry  *authz.Registry
}

func NewAdminUsecase(u domain.UserRepository, r domain.RoleRepository, t domain.TokenRepository, reg *authz.Registry) *AdminUsecase {
	return &AdminUsecase{
		userRepo:  u,
		roleRepo:  r,
		tokenRepo: t,
		registry:  reg,
	}
}

// ListUsers returns every account.
func (a *AdminUsecase) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return a.userRepo.List(ctx)
}

// GetUser returns a single account by ID.
func (a *AdminUsecase) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return a.userRepo.GetByID(ctx, id)
}

// SetUserRole moves a user to a different role. Their sessions are revoked
// so stale access tokens cannot keep the old role's permissions beyond
// their short lifetime, and no refresh can extend them.
func (a *AdminUsecase) SetUserRole(ctx context.Context, actorID, userID, role string) error {
	if !a.registry.KnownRole(role) {
		return domain.ErrInvalidRole
	}
	if err := a.userRepo.SetRole(ctx, userID, role); err != nil {
		return err
	}
	if err := a.tokenRepo.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	_ = a.userRepo.LogSecurityEvent(ctx, actorID, "USER_ROLE_CHANGED", "", map[string]interface{}{
		"target_user": userID,
		"new_role":    role,
	})
	return nil
}

// DeactivateUser disables an account and kills its sessions.
func (a *AdminUsecase) DeactivateUser(ctx context.Context, actorID, userID string) error {
	user, err := a.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	user.IsActive = false
	if err := a.userRepo.Update(ctx, user); err != nil {
		return err
	}
	if err := a.tokenRepo.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	_ = a.userRepo.LogSecurityEvent(ctx, actorID, "USER_DEACTIVATED", "", map[string]interface{}{"target_user": userID})
	return nil
}

// DeleteUser removes an account permanently.
func (a *AdminUsecase) DeleteUser(ctx context.Context, actorID, userID string) error {
	if err := a.userRepo.Delete(ctx, userID); err != nil {
		return err
	}
	if err := a.tokenRepo.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	_ = a.userRepo.LogSecurityEvent(ctx, actorID, "USER_DELETED", "", map[string]interface{}{"target_user": userID})
	return nil
}

// ListRoles returns every role with its user count.
func (a *AdminUsecase) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	return a.roleRepo.List(ctx)
}

// GetRole returns a single role by name.
func (a *AdminUsecase) GetRole(ctx context.Context, name string) (*domain.Role, error) {
	return a.roleRepo.GetByName(ctx, name)
}

// CreateRole adds a custom role. Permissions must come from the known
// vocabulary; the in-memory matrix picks the role up immediately.
func (a *AdminUsecase) CreateRole(ctx context.Context, actorID string, role *domain.Role) error {
	if authz.IsBuiltinRole(role.Name) {
		return domain.ErrRoleExists
	}
	if err := authz.ValidatePermissions(role.Permissions); err != nil {
		return err
	}
	role.BuiltIn = false
	if err := a.roleRepo.Create(ctx, role); err != nil {
		return err
	}
	if err := a.registry.SetRole(role.Name, role.Permissions); err != nil {
		return err
	}
	_ = a.userRepo.LogSecurityEvent(ctx, actorID, "ROLE_CREATED", "", map[string]interface{}{"role": role.Name})
	return nil
}

// UpdateRole replaces a custom role's permissions. Built-in roles are
// immutable.
func (a *AdminUsecase) UpdateRole(ctx context.Context, actorID string, role *domain.Role) error {
	if authz.IsBuiltinRole(role.Name) {
		return domain.ErrBuiltInRole
	}
	if err := authz.ValidatePermissions(role.Permissions); err != nil {
		return err
	}
	if err := a.roleRepo.Update(ctx, role); err != nil {
		return err
	}
	if err := a.registry.SetRole(role.Name, role.Permissions); err != nil {
		return err
	}
	_ = a.userRepo.LogSecurityEvent(ctx, actorID, "ROLE_UPDATED", "", map[string]interface{}{"role": role.Name})
	return nil
}

// DeleteRole removes a custom role. A role still assigned to any user
// cannot be deleted.
func (a *AdminUsecase) DeleteRole(ctx context.Context, actorID, name string) error {
	if authz.IsBuiltinRole(name) {
		return domain.ErrBuiltInRole
	}
	if err := a.roleRepo.Delete(ctx, name); err != nil {
		return err
	}
	_ = a.registry.RemoveRole(name)
	_ = a.userRepo.LogSecurityEvent(ctx, actorID, "ROLE_DELETED", "", map[string]interface{}{"role": name})
	return nil
}

// MyPermissions resolves the caller's role to its permission list.
func (a *AdminUsecase) MyPermissions(role string) ([]string, error) {
	perms, err := a.registry.PermissionsFor(role)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out, nil
}

// Stats summarises accounts and roles for the admin dashboard.
type Stats struct {
	TotalUsers int            `json:"total_users"`
	ByRole     map[string]int `json:"users_by_role"`
	Roles      int            `json:"roles"`
}

// Stats aggregates user and role counts.
func (a *AdminUsecase) Stats(ctx context.Context) (*Stats, error) {
	total, err := a.userRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := a.roleRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	byRole := make(map[string]int, len(roles))
	for _, r := range roles {
		byRole[r.Name] = r.UserCount
	}
	return &Stats{
		TotalUsers: total,
		ByRole:     byRole,
		Roles:      len(roles),
	}, nil
}
