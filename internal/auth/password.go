package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"faceattend/internal/model"
	"faceattend/internal/store"
)

// ErrInvalidCredentials is returned for an unknown username or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// UserFinder looks accounts up by username.
type UserFinder interface {
	GetByUsername(ctx context.Context, username string) (model.User, error)
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticate returns the user when username exists and password matches its hash.
func Authenticate(ctx context.Context, users UserFinder, username, password string) (model.User, error) {
	if username == "" || password == "" {
		return model.User{}, ErrInvalidCredentials
	}
	user, err := users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.User{}, ErrInvalidCredentials
		}
		return model.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, password) {
		return model.User{}, ErrInvalidCredentials
	}
	return user, nil
}
