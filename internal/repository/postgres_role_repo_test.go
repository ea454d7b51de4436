package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/FilipeAphrody/arcade-gateway/internal/domain"
)

func TestRoleGetByName(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRoleRepo(db)

	mock.ExpectQuery("SELECT name, description, permissions, built_in, created_at FROM roles").
		WithArgs("editor").
		WillReturnRows(sqlmock.NewRows([]string{"name", "description", "permissions", "built_in", "created_at"}).
			AddRow("editor", "editor role", []byte(`["game:read","game:update"]`), true, time.Now()))

	role, err := repo.GetByName(context.Background(), "editor")
	if err != nil {
		t.Fatalf("GetByName() error: %v", err)
	}
	if len(role.Permissions) != 2 || role.Permissions[0] != "game:read" {
		t.Errorf("permissions = %v", role.Permissions)
	}
	if !role.BuiltIn {
		t.Error("BuiltIn = false, want true")
	}
}

func TestRoleDeleteInUse(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRoleRepo(db)

	// Guarded delete matches nothing while a user still holds the role.
	mock.ExpectExec("DELETE FROM roles").
		WithArgs("qa").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name, description, permissions, built_in, created_at FROM roles").
		WithArgs("qa").
		WillReturnRows(sqlmock.NewRows([]string{"name", "description", "permissions", "built_in", "created_at"}).
			AddRow("qa", "", []byte(`["game:read"]`), false, time.Now()))

	err = repo.Delete(context.Background(), "qa")
	if !errors.Is(err, domain.ErrRoleInUse) {
		t.Fatalf("Delete() error = %v, want ErrRoleInUse", err)
	}
}

func TestRoleDeleteBuiltIn(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRoleRepo(db)

	mock.ExpectExec("DELETE FROM roles").
		WithArgs("superadmin").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name, description, permissions, built_in, created_at FROM roles").
		WithArgs("superadmin").
		WillReturnRows(sqlmock.NewRows([]string{"name", "description", "permissions", "built_in", "created_at"}).
			AddRow("superadmin", "", []byte(`[]`), true, time.Now()))

	err = repo.Delete(context.Background(), "superadmin")
	if !errors.Is(err, domain.ErrBuiltInRole) {
		t.Fatalf("Delete() error = %v, want ErrBuiltInRole", err)
	}
}

func TestRoleUpdateBuiltInRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRoleRepo(db)

	mock.ExpectExec("UPDATE roles SET description").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name, description, permissions, built_in, created_at FROM roles").
		WithArgs("developer").
		WillReturnRows(sqlmock.NewRows([]string{"name", "description", "permissions", "built_in", "created_at"}).
			AddRow("developer", "", []byte(`[]`), true, time.Now()))

	err = repo.Update(context.Background(), &domain.Role{Name: "developer", Permissions: []string{"game:read"}})
	if !errors.Is(err, domain.ErrBuiltInRole) {
		t.Fatalf("Update() error = %v, want ErrBuiltInRole", err)
	}
}

func TestEnsureBuiltinsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRoleRepo(db)

	roles := []*domain.Role{
		{Name: "developer", Permissions: []string{"game:read"}},
		{Name: "editor", Permissions: []string{"game:read"}},
	}
	for range roles {
		mock.ExpectExec("INSERT INTO roles").
			WillReturnResult(sqlmock.NewResult(0, 0)) // ON CONFLICT DO NOTHING
	}

	if err := repo.EnsureBuiltins(context.Background(), roles); err != nil {
		t.Fatalf("EnsureBuiltins() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestRoleList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRoleRepo(db)

	mock.ExpectQuery("SELECT r.name, r.description, r.permissions, r.built_in, r.created_at").
		WillReturnRows(sqlmock.NewRows([]string{"name", "description", "permissions", "built_in", "created_at", "count"}).
			AddRow("developer", "", []byte(`["game:read"]`), true, time.Now(), 4).
			AddRow("qa", "", []byte(`["game:read"]`), false, time.Now(), 0))

	roles, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("got %d roles, want 2", len(roles))
	}
	if roles[0].UserCount != 4 {
		t.Errorf("UserCount = %d, want 4", roles[0].UserCount)
	}
}
