package backfill

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"refinery/internal/config"
	apperrors "refinery/pkg/errors"
	"refinery/pkg/metrics"
)

// InFlightCounter is the slice of the store surface admission control needs.
type InFlightCounter interface {
	InFlightMutationCount(ctx context.Context) (int, error)
}

// AdmissionController gates bulk-mutation submission against the store's
// shared capacity, across every workspace's processor in this process.
//
// Two layers. A counting semaphore with a soft capacity serializes the
// decision to submit: it is acquired, double-checked, and released before
// the mutation itself runs, never held for the mutation's duration. A hard
// ceiling on the store's global in-flight mutation count is read once before
// attempting the semaphore (fail fast under saturation) and once again right
// after acquiring it, closing the race between check and acquisition.
type AdmissionController struct {
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	store     InFlightCounter
	hardLimit int
	timeout   time.Duration
}

func NewAdmissionController(store InFlightCounter, cfg config.AdmissionConfig) *AdmissionController {
	var limiter *rate.Limiter
	if cfg.SubmissionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmissionsPerSecond), 1)
	}

	return &AdmissionController{
		sem:       semaphore.NewWeighted(int64(cfg.SoftSlots)),
		limiter:   limiter,
		store:     store,
		hardLimit: cfg.HardInFlightLimit,
		timeout:   cfg.AcquireTimeout,
	}
}

// AcquireSlot blocks cooperatively until the caller may submit one mutation,
// or fails with a capacity error. On return the semaphore slot is already
// released: the grant covers the submission decision, not the mutation.
func (a *AdmissionController) AcquireSlot(ctx context.Context) error {
	start := time.Now()

	inFlight, err := a.store.InFlightMutationCount(ctx)
	if err != nil {
		return apperrors.ErrServiceUnavailable.WithCause(err)
	}
	metrics.StoreInFlightMutations.Set(float64(inFlight))
	if inFlight >= a.hardLimit {
		metrics.AdmissionRejectionsTotal.WithLabelValues("hard_limit").Inc()
		return apperrors.ErrCapacityExhausted.WithDetail("in_flight", inFlight)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.AdmissionRejectionsTotal.WithLabelValues("acquire_timeout").Inc()
		return apperrors.ErrCapacityExhausted.WithCause(err).
			WithDetail("message", "timed out waiting for an admission slot")
	}
	defer a.sem.Release(1)

	// The count may have crossed the ceiling while we waited on the semaphore.
	inFlight, err = a.store.InFlightMutationCount(ctx)
	if err != nil {
		return apperrors.ErrServiceUnavailable.WithCause(err)
	}
	metrics.StoreInFlightMutations.Set(float64(inFlight))
	if inFlight >= a.hardLimit {
		metrics.AdmissionRejectionsTotal.WithLabelValues("hard_limit_post_acquire").Inc()
		return apperrors.ErrCapacityExhausted.WithDetail("in_flight", inFlight)
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	metrics.ObserveAdmissionWait(time.Since(start))
	return nil
}
