package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"faceattend/internal/model"
)

// UserRepository handles persistence for staff accounts.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db.Client}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (model.User, error) {
	const query = `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (model.User, error) {
	const query = `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE username = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

// Create inserts the user and fills in its id. A taken username yields ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user model.User) (model.User, error) {
	if user.Role == "" {
		user.Role = model.RoleTeacher
	}
	user.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(ctx, query,
		user.Username,
		user.PasswordHash,
		user.Role,
		user.CreatedAt,
	).Scan(&user.ID); err != nil {
		return model.User{}, classify(err)
	}
	return user, nil
}

func (r *UserRepository) scanOne(row *sql.Row) (model.User, error) {
	var user model.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, err
	}
	return user, nil
}
