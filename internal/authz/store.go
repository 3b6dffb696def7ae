package authz

import (
	"context"

	"sellergate.io/internal/audit"
)

// MutateFunc computes the next state of the targeted record. current is nil when
// the target does not exist. approvedCount is the seller's approved total, read
// while the seller's writes are serialized. Returning an error aborts the unit of
// work without persisting anything.
type MutateFunc func(current *Record, approvedCount int) (Record, audit.Entry, error)

// Store persists authorization records. Implementations must serialize Mutate per
// seller so that approved-count checks and the write they guard are atomic, and
// must persist the record and its audit entry together or not at all.
type Store interface {
	Get(ctx context.Context, id string) (Record, error)
	FindByPair(ctx context.Context, sellerID, productID string) (Record, error)
	CountApproved(ctx context.Context, sellerID string) (int, error)
	ListRejected(ctx context.Context, sellerID string) ([]Record, error)
	Mutate(ctx context.Context, target Target, fn MutateFunc) (Record, audit.Entry, error)
}
