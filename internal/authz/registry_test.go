package authz

import (
	"errors"
	"testing"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

func TestBuiltinRoleMatrix(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		role string
		perm Permission
		want bool
	}{
		{domain.RoleDeveloper, PermGameCreate, true},
		{domain.RoleDeveloper, PermGameDelete, true},
		{domain.RoleDeveloper, PermStudioUpdate, true},
		{domain.RoleDeveloper, PermUserRead, false},
		{domain.RoleDeveloper, PermRoleCreate, false},
		{domain.RoleDeveloper, PermSyncLogRead, false},

		{domain.RoleEditor, PermGameUpdate, true},
		{domain.RoleEditor, PermGameDelete, true},
		{domain.RoleEditor, PermStudioRead, true},
		{domain.RoleEditor, PermStudioCreate, false},
		{domain.RoleEditor, PermStudioDelete, false},
		{domain.RoleEditor, PermUserDelete, false},
		{domain.RoleEditor, PermSyncLogRead, true},

		{domain.RoleSuperadmin, PermUserDelete, true},
		{domain.RoleSuperadmin, PermRoleDelete, true},
		{domain.RoleSuperadmin, PermGameCreate, true},
		{domain.RoleSuperadmin, PermStudioDelete, true},
		{domain.RoleSuperadmin, PermSyncLogRead, true},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+string(tt.perm), func(t *testing.T) {
			got, err := r.HasPermission(tt.role, tt.perm)
			if err != nil {
				t.Fatalf("HasPermission() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestHasPermissionUnknownRole(t *testing.T) {
	r := NewRegistry()
	_, err := r.HasPermission("ghost", PermGameRead)
	if !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("HasPermission(ghost) error = %v, want ErrInvalidRole", err)
	}
}

func TestSetRoleRejectsBuiltins(t *testing.T) {
	r := NewRegistry()
	err := r.SetRole(domain.RoleSuperadmin, []string{string(PermGameRead)})
	if !errors.Is(err, domain.ErrBuiltInRole) {
		t.Fatalf("SetRole(superadmin) error = %v, want ErrBuiltInRole", err)
	}
}

func TestSetRoleValidatesVocabulary(t *testing.T) {
	r := NewRegistry()

	if err := r.SetRole("qa", []string{"game:read", "game:update"}); err != nil {
		t.Fatalf("SetRole(qa) error: %v", err)
	}
	ok, err := r.HasPermission("qa", PermGameUpdate)
	if err != nil || !ok {
		t.Fatalf("HasPermission(qa, game:update) = %v, %v, want true", ok, err)
	}

	if err := r.SetRole("bad", []string{"game:fly"}); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("SetRole with unknown permission error = %v, want ErrInvalidRole", err)
	}
	if err := r.SetRole("empty", nil); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("SetRole with empty permission set error = %v, want ErrInvalidRole", err)
	}
}

func TestLoadSkipsBuiltinOverrides(t *testing.T) {
	r := NewRegistry()
	r.Load([]*domain.Role{
		{Name: domain.RoleDeveloper, Permissions: []string{"user:delete"}},
		{Name: "reviewer", Permissions: []string{"game:read"}},
	})

	if ok, _ := r.HasPermission(domain.RoleDeveloper, PermUserDelete); ok {
		t.Error("Load overrode a built-in role")
	}
	if ok, _ := r.HasPermission("reviewer", PermGameRead); !ok {
		t.Error("Load did not register the custom role")
	}
}

func TestRemoveRole(t *testing.T) {
	r := NewRegistry()
	if err := r.SetRole("temp", []string{"game:read"}); err != nil {
		t.Fatalf("SetRole() error: %v", err)
	}
	if err := r.RemoveRole("temp"); err != nil {
		t.Fatalf("RemoveRole() error: %v", err)
	}
	if r.KnownRole("temp") {
		t.Error("role still known after removal")
	}
	if err := r.RemoveRole(domain.RoleEditor); !errors.Is(err, domain.ErrBuiltInRole) {
		t.Fatalf("RemoveRole(editor) error = %v, want ErrBuiltInRole", err)
	}
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	r := NewRegistry()
	perms, err := r.PermissionsFor(domain.RoleEditor)
	if err != nil {
		t.Fatalf("PermissionsFor() error: %v", err)
	}
	perms[0] = "user:delete"

	again, _ := r.PermissionsFor(domain.RoleEditor)
	if again[0] == "user:delete" {
		t.Error("mutating the returned slice changed registry state")
	}
}
