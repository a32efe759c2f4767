package ports

import (
	"context"

	"github.com/aretw0/stateful/pkg/domain"
)

// PassivationStore persists the snapshots of passivated instances.
// The instance key is the passivation token.
type PassivationStore interface {
	// Save persists the snapshot under key, replacing any previous one.
	Save(ctx context.Context, key string, snap *domain.Snapshot) error

	// Load retrieves the snapshot for key.
	// Returns domain.ErrSnapshotNotFound if there is none.
	Load(ctx context.Context, key string) (*domain.Snapshot, error)

	// Delete removes the snapshot for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys of all stored snapshots.
	List(ctx context.Context) ([]string, error)
}
