package store

import "context"

// MutationStatus is the store-side progress of one submitted bulk mutation.
type MutationStatus struct {
	Pending int
	Done    bool
}

// Commander is the command surface of the columnar store. Mutations are
// asynchronous and partition-scoped; the store applies each one atomically
// per partition. This package only drives that surface.
type Commander interface {
	// ExecuteMutation submits one bulk mutation. Returning nil means the
	// store accepted it, not that it finished.
	ExecuteMutation(ctx context.Context, mutationSQL string) error

	// PollMutationStatus reports whether every mutation on the table whose
	// command contains the partition predicate has finished.
	PollMutationStatus(ctx context.Context, table, partitionPredicate string) (MutationStatus, error)

	// KillMutations terminates unfinished mutations whose command contains
	// the predicate.
	KillMutations(ctx context.Context, predicate string) error

	// CountRows counts rows matching the predicate, for progress reporting.
	CountRows(ctx context.Context, table, predicate string) (int64, error)

	// InFlightMutationCount is the store-wide number of unfinished
	// mutations across all tables and tenants.
	InFlightMutationCount(ctx context.Context) (int, error)
}
