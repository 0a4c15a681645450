package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redgreat/orderhisclean/pkg/batch"
	"github.com/redgreat/orderhisclean/pkg/config"
	"github.com/redgreat/orderhisclean/pkg/registry"
)

// scriptedHandler finishes after finishAt batches, or fails immediately when
// err is set. It appends its name to ran on every batch.
type scriptedHandler struct {
	name     string
	err      error
	ran      *[]string
	finishAt int
	calls    int
}

func (h *scriptedHandler) Name() string { return h.name }

func (h *scriptedHandler) ProcessBatch(ctx context.Context) (bool, error) {
	h.calls++
	*h.ran = append(*h.ran, h.name)
	if h.err != nil {
		return false, h.err
	}
	return h.calls >= h.finishAt, nil
}

func (h *scriptedHandler) RowsProcessed() int64 { return int64(h.calls) * 10 }

func scriptedFactory(h *scriptedHandler) registry.Factory {
	return func(registry.Deps, config.Handler) (registry.Entry, error) {
		cutOff, err := batch.ParseCutOff("23:00:00")
		if err != nil {
			return registry.Entry{}, err
		}
		return registry.Entry{Handler: h, CutOff: cutOff}, nil
	}
}

func failingFactory(err error) registry.Factory {
	return func(registry.Deps, config.Handler) (registry.Entry, error) {
		return registry.Entry{}, err
	}
}

func testConfig(names ...string) *config.Config {
	return &config.Config{
		Scheduler: config.Scheduler{StartTime: "02:00", Handlers: names},
	}
}

func testDeps() registry.Deps {
	return registry.Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func noonClock() time.Time {
	return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, registry.New(), testDeps())
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = New(testConfig("a"), nil, testDeps())
	assert.ErrorIs(t, err, ErrNilRegistry)
}

func TestRunAll_FailureDoesNotStopSubsequentHandlers(t *testing.T) {
	t.Parallel()

	var ran []string
	first := &scriptedHandler{name: "first", finishAt: 1, ran: &ran}
	second := &scriptedHandler{name: "second", err: errors.New("connection reset"), ran: &ran}
	third := &scriptedHandler{name: "third", finishAt: 1, ran: &ran}

	reg := registry.New()
	require.NoError(t, reg.Register("first", scriptedFactory(first)))
	require.NoError(t, reg.Register("second", scriptedFactory(second)))
	require.NoError(t, reg.Register("third", scriptedFactory(third)))

	d, err := New(testConfig("first", "second", "third"), reg, testDeps(), WithClock(noonClock))
	require.NoError(t, err)

	d.RunAll(context.Background())

	assert.Equal(t, []string{"first", "second", "third"}, ran,
		"the second handler's failure must not prevent the third from running")
}

func TestRunAll_UnknownHandlerSkipped(t *testing.T) {
	t.Parallel()

	var ran []string
	known := &scriptedHandler{name: "known", finishAt: 1, ran: &ran}

	reg := registry.New()
	require.NoError(t, reg.Register("known", scriptedFactory(known)))

	d, err := New(testConfig("missing", "known"), reg, testDeps(), WithClock(noonClock))
	require.NoError(t, err)

	d.RunAll(context.Background())
	assert.Equal(t, []string{"known"}, ran)
}

func TestRunAll_ConstructionFailureSkipped(t *testing.T) {
	t.Parallel()

	var ran []string
	ok := &scriptedHandler{name: "ok", finishAt: 1, ran: &ran}

	reg := registry.New()
	require.NoError(t, reg.Register("broken", failingFactory(errors.New("cut-off unparseable"))))
	require.NoError(t, reg.Register("ok", scriptedFactory(ok)))

	d, err := New(testConfig("broken", "ok"), reg, testDeps(), WithClock(noonClock))
	require.NoError(t, err)

	d.RunAll(context.Background())
	assert.Equal(t, []string{"ok"}, ran)
}

func TestRunAll_RunsInConfiguredOrder(t *testing.T) {
	t.Parallel()

	var ran []string
	a := &scriptedHandler{name: "a", finishAt: 2, ran: &ran}
	b := &scriptedHandler{name: "b", finishAt: 1, ran: &ran}

	reg := registry.New()
	require.NoError(t, reg.Register("a", scriptedFactory(a)))
	require.NoError(t, reg.Register("b", scriptedFactory(b)))

	// Config order b, a — not the registry's sorted order.
	d, err := New(testConfig("b", "a"), reg, testDeps(), WithClock(noonClock))
	require.NoError(t, err)

	d.RunAll(context.Background())
	assert.Equal(t, []string{"b", "a", "a"}, ran)
}

func TestRunAll_PastCutOffRunsNoBatches(t *testing.T) {
	t.Parallel()

	var ran []string
	h := &scriptedHandler{name: "late", finishAt: 1, ran: &ran}

	reg := registry.New()
	require.NoError(t, reg.Register("late", scriptedFactory(h)))

	midnightBefore := func() time.Time {
		return time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC)
	}
	d, err := New(testConfig("late"), reg, testDeps(), WithClock(midnightBefore))
	require.NoError(t, err)

	d.RunAll(context.Background())
	assert.Empty(t, ran, "a handler past its cut-off is deferred without a single batch")
}

func TestRowsOf(t *testing.T) {
	t.Parallel()

	var ran []string
	counted := &scriptedHandler{name: "counted", finishAt: 2, ran: &ran}
	counted.calls = 3
	assert.Equal(t, int64(30), rowsOf(counted))

	assert.Zero(t, rowsOf(plainHandler{}))
}

type plainHandler struct{}

func (plainHandler) Name() string { return "plain" }

func (plainHandler) ProcessBatch(context.Context) (bool, error) { return true, nil }
