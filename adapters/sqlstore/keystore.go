package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/quotaguard/domain/key"
	"github.com/artpar/quotaguard/ports"
)

const keyColumns = `id, user_id, name, hash, prefix, scopes,
	rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day,
	expires_at, is_active, created_at, updated_at, last_used_at`

// KeyStore implements ports.KeyStore over SQL.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new SQL key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

// Get retrieves keys matching a prefix.
func (s *KeyStore) Get(ctx context.Context, prefix string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE prefix = ?
	`), prefix)
	if err != nil {
		return nil, fmt.Errorf("query keys by prefix: %w", err)
	}
	defer rows.Close()

	return collectKeys(rows)
}

// GetByID retrieves a key by ID.
func (s *KeyStore) GetByID(ctx context.Context, id string) (key.Key, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE id = ?
	`), id)

	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return key.Key{}, ports.ErrNotFound
	}
	return k, err
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	return insertKey(ctx, s.db, s.db.Dialect, k)
}

// Deactivate marks a key inactive. Already-inactive keys are left untouched.
func (s *KeyStore) Deactivate(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ? AND is_active = ?
	`), false, millis(at), id, true)
	if err != nil {
		return fmt.Errorf("deactivate key: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT 1 FROM api_keys WHERE id = ?`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.ErrNotFound
	}
	return err
}

// Rotate deactivates oldID and inserts replacement in one transaction.
func (s *KeyStore) Rotate(ctx context.Context, oldID string, replacement key.Key, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ? AND is_active = ?
	`), false, millis(at), oldID, true)
	if err != nil {
		return fmt.Errorf("deactivate rotated key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, s.db.Rebind(`SELECT 1 FROM api_keys WHERE id = ?`), oldID).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ports.ErrNotFound
		case err != nil:
			return fmt.Errorf("check rotated key: %w", err)
		}
		return ports.ErrInactive
	}

	if err := insertKey(ctx, tx, s.db.Dialect, replacement); err != nil {
		return err
	}
	return tx.Commit()
}

// ListByUser returns all keys for a user, newest first.
func (s *KeyStore) ListByUser(ctx context.Context, userID string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	return collectKeys(rows)
}

// UpdateLastUsed updates the last used timestamp.
func (s *KeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE api_keys SET last_used_at = ? WHERE id = ?
	`), millis(at), id)
	if err != nil {
		return fmt.Errorf("update last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertKey(ctx context.Context, db execer, d Dialect, k key.Key) error {
	scopes, err := json.Marshal(k.Scopes)
	if err != nil {
		return err
	}
	if k.Scopes == nil {
		scopes = []byte("[]")
	}

	_, err = db.ExecContext(ctx, rebind(d, `
		INSERT INTO api_keys (`+keyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), k.ID, k.UserID, k.Name, k.Hash, k.Prefix, string(scopes),
		nullInt(k.RateLimitPerMinute), nullInt(k.RateLimitPerHour), nullInt(k.RateLimitPerDay),
		nullMillis(k.ExpiresAt), k.Active, millis(k.CreatedAt), millis(k.UpdatedAt), nullMillis(k.LastUsedAt))
	if err != nil {
		return fmt.Errorf("insert key: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (key.Key, error) {
	var (
		k                       key.Key
		scopes                  string
		perMin, perHour, perDay sql.NullInt64
		expiresAt, lastUsedAt   sql.NullInt64
		createdAt, updatedAt    int64
	)

	err := row.Scan(
		&k.ID, &k.UserID, &k.Name, &k.Hash, &k.Prefix, &scopes,
		&perMin, &perHour, &perDay,
		&expiresAt, &k.Active, &createdAt, &updatedAt, &lastUsedAt,
	)
	if err != nil {
		return key.Key{}, err
	}

	if scopes != "" && scopes != "null" {
		if err := json.Unmarshal([]byte(scopes), &k.Scopes); err != nil {
			return key.Key{}, fmt.Errorf("decode scopes: %w", err)
		}
	}

	k.RateLimitPerMinute = intPtr(perMin)
	k.RateLimitPerHour = intPtr(perHour)
	k.RateLimitPerDay = intPtr(perDay)
	k.ExpiresAt = timePtr(expiresAt)
	k.LastUsedAt = timePtr(lastUsedAt)
	k.CreatedAt = fromMillis(createdAt)
	k.UpdatedAt = fromMillis(updatedAt)

	return k, nil
}

func collectKeys(rows *sql.Rows) ([]key.Key, error) {
	var keys []key.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
