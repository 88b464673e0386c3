package blocklist

import (
	"context"

	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
	"github.com/haukened/rr-blockscan/internal/blockscan/services/refresher"
)

// Storage is the key-value collaborator holding the snapshot and the user
// allow-list. Get reports ok=false for a missing key.
type Storage interface {
	Get(ctx context.Context, key domain.StorageKey) ([]byte, bool, error)
	Set(ctx context.Context, key domain.StorageKey, value []byte) error
}

// Refresher builds the snapshot that should replace cached.
type Refresher interface {
	Refresh(ctx context.Context, cached *domain.Snapshot) (refresher.Result, error)
}

// ErrorSink receives failures that are not returned to the caller.
type ErrorSink func(error)
