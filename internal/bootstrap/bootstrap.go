package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"faceattend/internal/auth"
	"faceattend/internal/faceclient"
	"faceattend/internal/model"
	"faceattend/internal/store"
)

// AdminUsername is the account created on first start.
const AdminUsername = "admin"

// Users is what the startup routine needs from the user repository.
type Users interface {
	GetByUsername(ctx context.Context, username string) (model.User, error)
	Create(ctx context.Context, user model.User) (model.User, error)
}

// Run prepares a fresh installation: it creates the admin account when missing
// and makes sure the remote face group exists. A failing group creation is
// logged and does not stop startup.
func Run(ctx context.Context, users Users, face faceclient.Service, adminPassword string, log logrus.FieldLogger) error {
	if err := ensureAdmin(ctx, users, adminPassword, log); err != nil {
		return err
	}
	if err := face.CreateGroup(ctx); err != nil {
		log.WithError(err).Warn("face group creation failed")
	}
	return nil
}

func ensureAdmin(ctx context.Context, users Users, password string, log logrus.FieldLogger) error {
	_, err := users.GetByUsername(ctx, AdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	_, err = users.Create(ctx, model.User{Username: AdminUsername, PasswordHash: hash, Role: model.RoleAdmin})
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("create admin: %w", err)
	}
	log.WithField("username", AdminUsername).Info("default admin account created")
	return nil
}
