package store

import (
	"context"

	"refinery/pkg/circuitbreaker"
)

// BreakerCommander shields the store from hammering while it is unhealthy.
// Every command flows through one shared breaker: a store refusing
// submissions is usually also refusing status queries.
type BreakerCommander struct {
	next    Commander
	breaker *circuitbreaker.Wrapper
}

func NewBreakerCommander(next Commander, breaker *circuitbreaker.Wrapper) *BreakerCommander {
	return &BreakerCommander{next: next, breaker: breaker}
}

func (b *BreakerCommander) ExecuteMutation(ctx context.Context, mutationSQL string) error {
	_, err := b.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, b.next.ExecuteMutation(ctx, mutationSQL)
	})
	return err
}

func (b *BreakerCommander) PollMutationStatus(ctx context.Context, table, partitionPredicate string) (MutationStatus, error) {
	result, err := b.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return b.next.PollMutationStatus(ctx, table, partitionPredicate)
	})
	if err != nil {
		return MutationStatus{}, err
	}
	return result.(MutationStatus), nil
}

func (b *BreakerCommander) KillMutations(ctx context.Context, predicate string) error {
	_, err := b.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, b.next.KillMutations(ctx, predicate)
	})
	return err
}

func (b *BreakerCommander) CountRows(ctx context.Context, table, predicate string) (int64, error) {
	result, err := b.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return b.next.CountRows(ctx, table, predicate)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (b *BreakerCommander) InFlightMutationCount(ctx context.Context) (int, error) {
	result, err := b.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return b.next.InFlightMutationCount(ctx)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}
