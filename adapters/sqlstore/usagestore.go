package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/quotaguard/domain/usage"
	"github.com/artpar/quotaguard/ports"
)

// UsageStore implements ports.UsageStore over SQL.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQL usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Append stores one usage record.
func (s *UsageStore) Append(ctx context.Context, r usage.Record) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO api_usage (id, key_id, endpoint, cost, ts)
		VALUES (?, ?, ?, ?, ?)
	`), r.ID, r.KeyID, r.Endpoint, r.Cost, millis(r.Timestamp))
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// SumSince returns the total cost for a key at or after since.
func (s *UsageStore) SumSince(ctx context.Context, keyID string, since time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT COALESCE(SUM(cost), 0)
		FROM api_usage
		WHERE key_id = ? AND ts >= ?
	`), keyID, millis(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

// EndpointStats returns per-endpoint usage since a time, ordered by count desc.
func (s *UsageStore) EndpointStats(ctx context.Context, keyID string, since time.Time) ([]usage.EndpointStats, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT endpoint, COALESCE(SUM(cost), 0) AS total, MAX(ts) AS last_used
		FROM api_usage
		WHERE key_id = ? AND ts >= ?
		GROUP BY endpoint
		ORDER BY total DESC, endpoint ASC
	`), keyID, millis(since))
	if err != nil {
		return nil, fmt.Errorf("query endpoint stats: %w", err)
	}
	defer rows.Close()

	var stats []usage.EndpointStats
	for rows.Next() {
		var (
			st       usage.EndpointStats
			lastUsed int64
		)
		if err := rows.Scan(&st.Endpoint, &st.Count, &lastUsed); err != nil {
			return nil, err
		}
		st.LastUsed = fromMillis(lastUsed)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
