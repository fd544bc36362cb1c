package backfill

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refinery/internal/config"
	apperrors "refinery/pkg/errors"
)

type fakeCounter struct {
	counts []int
	calls  atomic.Int32
	err    error
}

func (f *fakeCounter) InFlightMutationCount(ctx context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	call := int(f.calls.Add(1)) - 1
	if call >= len(f.counts) {
		return f.counts[len(f.counts)-1], nil
	}
	return f.counts[call], nil
}

func admissionConfig() config.AdmissionConfig {
	return config.AdmissionConfig{
		SoftSlots:         2,
		HardInFlightLimit: 10,
		AcquireTimeout:    time.Second,
	}
}

func TestAcquireSlotGrants(t *testing.T) {
	ctrl := NewAdmissionController(&fakeCounter{counts: []int{0}}, admissionConfig())

	require.NoError(t, ctrl.AcquireSlot(context.Background()))
}

func TestAcquireSlotFailsFastAtHardLimit(t *testing.T) {
	counter := &fakeCounter{counts: []int{10}}
	ctrl := NewAdmissionController(counter, admissionConfig())

	err := ctrl.AcquireSlot(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCapacityExhausted(err))
	assert.Equal(t, int32(1), counter.calls.Load(), "must reject before touching the semaphore")
}

func TestAcquireSlotRechecksAfterAcquire(t *testing.T) {
	// Below the ceiling on the first read, at the ceiling by the time the
	// semaphore is held.
	counter := &fakeCounter{counts: []int{5, 10}}
	ctrl := NewAdmissionController(counter, admissionConfig())

	err := ctrl.AcquireSlot(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCapacityExhausted(err))
}

func TestAcquireSlotTimesOutWhenSaturated(t *testing.T) {
	cfg := admissionConfig()
	cfg.SoftSlots = 1
	cfg.AcquireTimeout = 50 * time.Millisecond
	ctrl := NewAdmissionController(&fakeCounter{counts: []int{0}}, cfg)

	// Exhaust the only slot from outside.
	require.NoError(t, ctrl.sem.Acquire(context.Background(), 1))
	defer ctrl.sem.Release(1)

	err := ctrl.AcquireSlot(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCapacityExhausted(err))
}

func TestAcquireSlotHonorsCallerCancellation(t *testing.T) {
	cfg := admissionConfig()
	cfg.SoftSlots = 1
	ctrl := NewAdmissionController(&fakeCounter{counts: []int{0}}, cfg)

	require.NoError(t, ctrl.sem.Acquire(context.Background(), 1))
	defer ctrl.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := ctrl.AcquireSlot(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, apperrors.IsCapacityExhausted(err), "caller cancellation is not a capacity signal")
}

func TestAcquireSlotSurfacesStoreErrors(t *testing.T) {
	ctrl := NewAdmissionController(&fakeCounter{err: errors.New("store down")}, admissionConfig())

	err := ctrl.AcquireSlot(context.Background())
	require.Error(t, err)
	assert.False(t, apperrors.IsCapacityExhausted(err))
}

func TestAcquireSlotReleasesBeforeReturning(t *testing.T) {
	ctrl := NewAdmissionController(&fakeCounter{counts: []int{0}}, admissionConfig())

	// If a grant leaked its slot, the soft capacity would drain in two calls
	// and the third would time out.
	for i := 0; i < 5; i++ {
		require.NoError(t, ctrl.AcquireSlot(context.Background()))
	}
}
