package sit

import (
	"context"
)

// Records is the system-of-record collaborator. It backs lazy backfill,
// initial warm-up, and maintenance reconciliation.
type Records interface {
	// FindSnapshotById returns (nil, nil) when the entity does not exist.
	// an error means the lookup itself failed and may succeed on retry.
	FindSnapshotById(ctx context.Context, kind EntityKind, id string) (Snapshot, error)
	FindAllActiveSnapshots(ctx context.Context, kind EntityKind) ([]Snapshot, error)
}
