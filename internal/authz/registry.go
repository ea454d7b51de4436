package authz

import (
	"fmt"
	"sync"
	"time"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

// Permission represents a named capability in the system.
type Permission string

// Permission constants. This is the closed vocabulary: custom roles may
// only draw from this set.
const (
	PermAuthLogin          Permission = "auth:login"
	PermAuthLogout         Permission = "auth:logout"
	PermAuthRefresh        Permission = "auth:refresh"
	PermAuthChangePassword Permission = "auth:change_password"

	PermUserRead   Permission = "user:read"
	PermUserCreate Permission = "user:create"
	PermUserUpdate Permission = "user:update"
	PermUserDelete Permission = "user:delete"

	PermRoleRead   Permission = "role:read"
	PermRoleCreate Permission = "role:create"
	PermRoleUpdate Permission = "role:update"
	PermRoleDelete Permission = "role:delete"

	PermGameRead   Permission = "game:read"
	PermGameCreate Permission = "game:create"
	PermGameUpdate Permission = "game:update"
	PermGameDelete Permission = "game:delete"

	PermStudioRead   Permission = "studio:read"
	PermStudioCreate Permission = "studio:create"
	PermStudioUpdate Permission = "studio:update"
	PermStudioDelete Permission = "studio:delete"

	// Sync logs record upstream catalog imports. They are read-only
	// through the gateway.
	PermSyncLogRead Permission = "sync_log:read"
)

// Vocabulary is the full closed permission set.
var Vocabulary = []Permission{
	PermAuthLogin, PermAuthLogout, PermAuthRefresh, PermAuthChangePassword,
	PermUserRead, PermUserCreate, PermUserUpdate, PermUserDelete,
	PermRoleRead, PermRoleCreate, PermRoleUpdate, PermRoleDelete,
	PermGameRead, PermGameCreate, PermGameUpdate, PermGameDelete,
	PermStudioRead, PermStudioCreate, PermStudioUpdate, PermStudioDelete,
	PermSyncLogRead,
}

// builtinRolePermissions maps each built-in role to its granted permissions.
// This is the single source of truth for the authorisation model.
// Developer CRUD on games/studios is additionally ownership-scoped by the
// decision engine; the matrix only answers the role-level question.
var builtinRolePermissions = map[string][]Permission{
	domain.RoleDeveloper: {
		PermAuthLogin, PermAuthLogout, PermAuthRefresh, PermAuthChangePassword,
		PermGameRead, PermGameCreate, PermGameUpdate, PermGameDelete, // own games only
		PermStudioRead, PermStudioCreate, PermStudioUpdate, PermStudioDelete, // own studio only
	},
	domain.RoleEditor: {
		PermAuthLogin, PermAuthLogout, PermAuthRefresh, PermAuthChangePassword,
		PermGameRead, PermGameCreate, PermGameUpdate, PermGameDelete,
		PermStudioRead,
		PermSyncLogRead,
	},
	domain.RoleSuperadmin: {
		PermAuthLogin, PermAuthLogout, PermAuthRefresh, PermAuthChangePassword,
		PermUserRead, PermUserCreate, PermUserUpdate, PermUserDelete,
		PermRoleRead, PermRoleCreate, PermRoleUpdate, PermRoleDelete,
		PermGameRead, PermGameCreate, PermGameUpdate, PermGameDelete,
		PermStudioRead, PermStudioCreate, PermStudioUpdate, PermStudioDelete,
		PermSyncLogRead,
	},
}

// BuiltinRoles returns the fixed built-in role set, used to seed the role
// store at startup.
func BuiltinRoles() []*domain.Role {
	descriptions := map[string]string{
		domain.RoleDeveloper:  "Developer studio managing its own games and studio profile",
		domain.RoleEditor:     "Editor managing all games with read-only studio access",
		domain.RoleSuperadmin: "Superadministrator with full access to every operation",
	}
	roles := make([]*domain.Role, 0, len(builtinRolePermissions))
	for _, name := range []string{domain.RoleDeveloper, domain.RoleEditor, domain.RoleSuperadmin} {
		perms := builtinRolePermissions[name]
		names := make([]string, len(perms))
		for i, p := range perms {
			names[i] = string(p)
		}
		roles = append(roles, &domain.Role{
			Name:        name,
			Description: descriptions[name],
			Permissions: names,
			BuiltIn:     true,
			CreatedAt:   time.Now(),
		})
	}
	return roles
}

// IsBuiltinRole reports whether the name belongs to a built-in role.
func IsBuiltinRole(name string) bool {
	_, ok := builtinRolePermissions[name]
	return ok
}

// ValidatePermissions checks that a custom role's permission list is a
// non-empty subset of the closed vocabulary.
func ValidatePermissions(perms []string) error {
	if len(perms) == 0 {
		return fmt.Errorf("%w: permission set must not be empty", domain.ErrInvalidRole)
	}
	valid := make(map[Permission]bool, len(Vocabulary))
	for _, p := range Vocabulary {
		valid[p] = true
	}
	for _, p := range perms {
		if !valid[Permission(p)] {
			return fmt.Errorf("%w: unknown permission %q", domain.ErrInvalidRole, p)
		}
	}
	return nil
}

// Registry holds the role to permission-set mapping. It is read-mostly
// state built once at startup and replaced only through explicit
// administrative mutation, never through ambient reloading.
type Registry struct {
	mu    sync.RWMutex
	perms map[string][]Permission
}

// NewRegistry returns a registry seeded with the built-in roles.
func NewRegistry() *Registry {
	r := &Registry{perms: make(map[string][]Permission, len(builtinRolePermissions))}
	for name, perms := range builtinRolePermissions {
		r.perms[name] = perms
	}
	return r
}

// Load merges persisted roles (including custom ones) into the registry.
// Built-in entries cannot be overridden.
func (r *Registry) Load(roles []*domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range roles {
		if IsBuiltinRole(role.Name) {
			continue
		}
		perms := make([]Permission, len(role.Permissions))
		for i, p := range role.Permissions {
			perms[i] = Permission(p)
		}
		r.perms[role.Name] = perms
	}
}

// SetRole registers or replaces a custom role's permission set.
func (r *Registry) SetRole(name string, perms []string) error {
	if IsBuiltinRole(name) {
		return domain.ErrBuiltInRole
	}
	if err := ValidatePermissions(perms); err != nil {
		return err
	}
	typed := make([]Permission, len(perms))
	for i, p := range perms {
		typed[i] = Permission(p)
	}
	r.mu.Lock()
	r.perms[name] = typed
	r.mu.Unlock()
	return nil
}

// RemoveRole drops a custom role from the registry.
func (r *Registry) RemoveRole(name string) error {
	if IsBuiltinRole(name) {
		return domain.ErrBuiltInRole
	}
	r.mu.Lock()
	delete(r.perms, name)
	r.mu.Unlock()
	return nil
}

// PermissionsFor returns a copy of the role's permission set, or
// ErrInvalidRole for names outside the registered set.
func (r *Registry) PermissionsFor(role string) ([]Permission, error) {
	r.mu.RLock()
	perms, ok := r.perms[role]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out, nil
}

// HasPermission reports whether the role carries the permission.
// Unknown roles fail with ErrInvalidRole rather than a silent false.
func (r *Registry) HasPermission(role string, perm Permission) (bool, error) {
	perms, err := r.PermissionsFor(role)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

// KnownRole reports whether the role exists in the registry.
func (r *Registry) KnownRole(role string) bool {
	r.mu.RLock()
	_, ok := r.perms[role]
	r.mu.RUnlock()
	return ok
}
