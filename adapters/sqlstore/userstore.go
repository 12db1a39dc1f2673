package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/artpar/quotaguard/ports"
)

// UserStore implements ports.UserStore over SQL.
type UserStore struct {
	db *DB
}

// NewUserStore creates a new SQL user store.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, id string) (ports.User, error) {
	var (
		u         ports.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, email, name, plan, created_at FROM users WHERE id = ?
	`), id).Scan(&u.ID, &u.Email, &u.Name, &u.Plan, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.User{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// Create stores a new user.
func (s *UserStore) Create(ctx context.Context, u ports.User) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (id, email, name, plan, created_at) VALUES (?, ?, ?, ?, ?)
	`), u.ID, u.Email, u.Name, u.Plan, millis(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// List returns all users ordered by creation.
func (s *UserStore) List(ctx context.Context) ([]ports.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, plan, created_at FROM users ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []ports.User
	for rows.Next() {
		var (
			u         ports.User
			createdAt int64
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Plan, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = fromMillis(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// Ensure interface compliance.
var _ ports.UserStore = (*UserStore)(nil)
