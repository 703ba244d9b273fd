// ABOUTME: SQLite implementation of the per-credential hit counter
// ABOUTME: Upserts one row per (path, key name) and lists a key's counters

package store

import (
	"context"
	"fmt"
	"time"
)

// IncrementHit adds one to the counter for (path, keyName) and returns the
// new count. The first hit creates the row.
func (s *SQLiteStore) IncrementHit(ctx context.Context, path, keyName string) (int64, error) {
	if path == "" || keyName == "" {
		return 0, ErrInvalidHit
	}

	query := `
		INSERT INTO hits (path, key_name, count, last_seen)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (path, key_name) DO UPDATE SET
			count = count + 1,
			last_seen = excluded.last_seen
		RETURNING count
	`

	var count int64
	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.db.QueryRowContext(ctx, query, path, keyName, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("incrementing hit: %w", err)
	}

	s.logger.Debug("recorded hit", "path", path, "key_name", keyName, "count", count)
	return count, nil
}

// ListHits returns all counters for keyName ordered by path.
func (s *SQLiteStore) ListHits(ctx context.Context, keyName string) ([]Hit, error) {
	query := `
		SELECT path, key_name, count, last_seen
		FROM hits
		WHERE key_name = ?
		ORDER BY path
	`

	rows, err := s.db.QueryContext(ctx, query, keyName)
	if err != nil {
		return nil, fmt.Errorf("querying hits: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var lastSeen string
		if err := rows.Scan(&h.Path, &h.KeyName, &h.Count, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		h.LastSeen, err = time.Parse(time.RFC3339, lastSeen)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hits: %w", err)
	}

	return hits, nil
}
