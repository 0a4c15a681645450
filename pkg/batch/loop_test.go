package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandler reports finished on the finishAt-th call and fails on the
// failAt-th call (zero disables either).
type stubHandler struct {
	err      error
	calls    int
	finishAt int
	failAt   int
}

func (h *stubHandler) Name() string { return "stub" }

func (h *stubHandler) ProcessBatch(ctx context.Context) (bool, error) {
	h.calls++
	if h.failAt > 0 && h.calls == h.failAt {
		return false, h.err
	}
	return h.finishAt > 0 && h.calls == h.finishAt, nil
}

// fakeClock starts at a fixed instant and advances by step on every read.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func mustCutOff(t *testing.T, s string) CutOff {
	t.Helper()
	c, err := ParseCutOff(s)
	require.NoError(t, err)
	return c
}

func TestNew_NilHandler(t *testing.T) {
	t.Parallel()

	_, err := New(nil, CutOff{})
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestLoop_FinishesAfterNBatches(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5} {
		handler := &stubHandler{finishAt: n}
		clock := &fakeClock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}

		loop, err := New(handler, mustCutOff(t, "23:00:00"), WithClock(clock.Now))
		require.NoError(t, err)

		require.NoError(t, loop.Run(context.Background()))
		assert.Equal(t, n, handler.calls, "finish on call %d", n)
		assert.Equal(t, StateFinished, loop.State())
		assert.Equal(t, n, loop.Batches())
	}
}

func TestLoop_DefersAtCutOff(t *testing.T) {
	t.Parallel()

	// The handler never finishes; the clock gains a minute per check, so the
	// loop must stop once the simulated time of day passes the cut-off.
	handler := &stubHandler{}
	clock := &fakeClock{
		now:  time.Date(2024, 3, 15, 22, 55, 0, 0, time.UTC),
		step: time.Minute,
	}

	loop, err := New(handler, mustCutOff(t, "23:00:00"), WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, StateDeferred, loop.State())
	// Checks at 22:55..22:59 pass, 23:00 stops the loop.
	assert.Equal(t, 5, handler.calls)
}

func TestLoop_PastCutOffAtEntry(t *testing.T) {
	t.Parallel()

	handler := &stubHandler{finishAt: 1}
	clock := &fakeClock{now: time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC)}

	loop, err := New(handler, mustCutOff(t, "23:00:00"), WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 0, handler.calls, "no batch may run past the cut-off")
	assert.Equal(t, StateDeferred, loop.State())
}

func TestLoop_ExactlyAtCutOffAtEntry(t *testing.T) {
	t.Parallel()

	handler := &stubHandler{finishAt: 1}
	clock := &fakeClock{now: time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC)}

	loop, err := New(handler, mustCutOff(t, "23:00:00"), WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 0, handler.calls)
	assert.Equal(t, StateDeferred, loop.State())
}

func TestLoop_BatchErrorPropagates(t *testing.T) {
	t.Parallel()

	batchErr := errors.New("deadlock detected")
	handler := &stubHandler{failAt: 3, err: batchErr}
	clock := &fakeClock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}

	loop, err := New(handler, mustCutOff(t, "23:00:00"), WithClock(clock.Now))
	require.NoError(t, err)

	err = loop.Run(context.Background())
	assert.ErrorIs(t, err, batchErr, "the batch error is re-raised, never swallowed")
	assert.Equal(t, 3, handler.calls, "the failing call is the last one")
	assert.Equal(t, StateFailed, loop.State())
	assert.Equal(t, 3, loop.Batches())
}

func TestLoop_ContextCancelled(t *testing.T) {
	t.Parallel()

	handler := &stubHandler{}
	clock := &fakeClock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}

	loop, err := New(handler, mustCutOff(t, "23:00:00"), WithClock(clock.Now))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, handler.calls)
	assert.Equal(t, StateFailed, loop.State())
}

func TestLoop_SingleUse(t *testing.T) {
	t.Parallel()

	handler := &stubHandler{finishAt: 1}
	clock := &fakeClock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}

	loop, err := New(handler, mustCutOff(t, "23:00:00"), WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, loop.Run(context.Background()))
	assert.ErrorIs(t, loop.Run(context.Background()), ErrAlreadyRan)
	assert.Equal(t, 1, handler.calls)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "not_started", StateNotStarted.String())
	assert.Equal(t, "looping", StateLooping.String())
	assert.Equal(t, "finished", StateFinished.String())
	assert.Equal(t, "deferred", StateDeferred.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}
