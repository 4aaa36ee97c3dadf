package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"faceattend/internal/auth"
	"faceattend/internal/faceclient"
	"faceattend/internal/model"
	"faceattend/internal/store"
)

type failingGroup struct {
	faceclient.Stub
	calls int
}

func (f *failingGroup) CreateGroup(context.Context) error {
	f.calls++
	return errors.New("unreachable")
}

func TestRunCreatesAdminOnce(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewDB(ctx, "sqlite:///"+filepath.Join(t.TempDir(), "boot.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()
	users := store.NewUserRepository(db)
	log, hook := test.NewNullLogger()
	face := &failingGroup{}

	for i := 0; i < 2; i++ {
		if err := Run(ctx, users, face, "s3cret", log); err != nil {
			t.Fatalf("Run #%d: %v", i, err)
		}
	}

	admin, err := users.GetByUsername(ctx, AdminUsername)
	if err != nil {
		t.Fatalf("admin missing: %v", err)
	}
	if admin.Role != model.RoleAdmin {
		t.Errorf("role = %q", admin.Role)
	}
	if _, err := auth.Authenticate(ctx, users, "admin", "s3cret"); err != nil {
		t.Errorf("admin cannot log in: %v", err)
	}
	if face.calls != 2 {
		t.Errorf("CreateGroup called %d times", face.calls)
	}

	created := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "default admin account created" {
			created++
		}
	}
	if created != 1 {
		t.Errorf("admin created %d times, want 1", created)
	}
}
