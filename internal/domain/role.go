package domain

import (
	"context"
	"time"
)

// Built-in role names. The set is closed: these three always exist and
// cannot be modified or removed.
const (
	RoleDeveloper  = "developer"
	RoleEditor     = "editor"
	RoleSuperadmin = "superadmin"
)

// Role is a named bundle of permissions. Built-in roles are seeded at
// startup; custom roles are created only by superadmins and must carry a
// non-empty permission subset drawn from the closed vocabulary.
type Role struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	BuiltIn     bool      `json:"built_in"`
	CreatedAt   time.Time `json:"created_at"`
	UserCount   int       `json:"user_count,omitempty"`
}

// RoleRepository defines the contract for role persistence.
type RoleRepository interface {
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Create(ctx context.Context, role *Role) error
	Update(ctx context.Context, role *Role) error

	// Delete removes a role. Implementations must fail with ErrRoleInUse
	// when any user still carries the role.
	Delete(ctx context.Context, name string) error

	// EnsureBuiltins seeds the built-in roles if they are absent.
	EnsureBuiltins(ctx context.Context, roles []*Role) error

	// UserCount reports how many users carry the role.
	UserCount(ctx context.Context, name string) (int, error)
}
