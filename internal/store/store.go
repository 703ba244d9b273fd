// ABOUTME: Store interface and data types for llm-gateway persistence
// ABOUTME: Defines the per-credential hit counter kept for every API path

package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidHit is returned when a hit is recorded without a path or key name.
var ErrInvalidHit = errors.New("hit requires path and key name")

// Hit is the request counter for one (path, key name) pair.
type Hit struct {
	Path     string
	KeyName  string
	Count    int64
	LastSeen time.Time
}

// HitStore persists request counts per credential and path.
type HitStore interface {
	// IncrementHit adds one to the counter for (path, keyName) and returns
	// the new count.
	IncrementHit(ctx context.Context, path, keyName string) (int64, error)

	// ListHits returns every counter recorded for keyName, ordered by path.
	ListHits(ctx context.Context, keyName string) ([]Hit, error)

	Close() error
}
