// Package dispatch runs the day's configured handlers in order. Each handler
// gets a fresh instance and its own batch loop; a handler that fails mid-run
// is logged and recorded, and the dispatcher moves on to the next one — one
// broken cleanup must never starve the rest of the nightly work.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redgreat/orderhisclean/pkg/batch"
	"github.com/redgreat/orderhisclean/pkg/config"
	"github.com/redgreat/orderhisclean/pkg/registry"
)

var (
	// ErrNilConfig is returned when the dispatcher is built without config.
	ErrNilConfig = errors.New("dispatch: config is required")

	// ErrNilRegistry is returned when the dispatcher is built without a
	// handler registry.
	ErrNilRegistry = errors.New("dispatch: registry is required")
)

// rowCounter is implemented by handlers that track how many rows they
// touched; the count feeds the run log.
type rowCounter interface {
	RowsProcessed() int64
}

// Dispatcher constructs and runs every configured handler once per day.
type Dispatcher struct {
	cfg   *config.Config
	reg   *registry.Registry
	deps  registry.Deps
	log   *slog.Logger
	book  *pgxpool.Pool
	clock func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRunLog enables outcome bookkeeping into the cleanup_run_log table.
func WithRunLog(pool *pgxpool.Pool) Option {
	return func(d *Dispatcher) {
		d.book = pool
	}
}

// WithClock overrides the wall-clock source for the loops and timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.clock = now
	}
}

// New builds a dispatcher over the registry using the shared handler deps.
func New(cfg *config.Config, reg *registry.Registry, deps registry.Deps, opts ...Option) (*Dispatcher, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if reg == nil {
		return nil, ErrNilRegistry
	}

	d := &Dispatcher{
		cfg:   cfg,
		reg:   reg,
		deps:  deps,
		log:   deps.Logger,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d, nil
}

// RunAll executes every configured handler in order. Handler-level failures
// are contained here: an unknown name, a construction error or a failed run
// is logged and skipped, never raised. The daily schedule is the only retry.
func (d *Dispatcher) RunAll(ctx context.Context) {
	runID := uuid.NewString()
	log := d.log.With(slog.String("run_id", runID))

	log.InfoContext(ctx, "daily run started",
		slog.Int("handlers", len(d.cfg.Scheduler.Handlers)))

	for _, name := range d.cfg.Scheduler.Handlers {
		d.runOne(ctx, log, runID, name)
	}

	log.InfoContext(ctx, "daily run ended")
}

func (d *Dispatcher) runOne(ctx context.Context, log *slog.Logger, runID, name string) {
	factory, ok := d.reg.Lookup(name)
	if !ok {
		log.ErrorContext(ctx, "unknown handler, skipping",
			slog.String("handler", name),
			slog.Any("registered", d.reg.Names()))
		return
	}

	// Hand the handler the run-scoped logger so its batch lines carry run_id.
	deps := d.deps
	deps.Logger = log

	entry, err := factory(deps, d.cfg.HandlerConfig(name))
	if err != nil {
		log.ErrorContext(ctx, "handler construction failed, skipping",
			slog.String("handler", name),
			slog.String("error", err.Error()))
		return
	}

	loop, err := batch.New(entry.Handler, entry.CutOff,
		batch.WithLogger(log), batch.WithClock(d.clock))
	if err != nil {
		log.ErrorContext(ctx, "loop construction failed, skipping",
			slog.String("handler", name),
			slog.String("error", err.Error()))
		return
	}

	started := d.clock()
	runErr := loop.Run(ctx)
	if runErr != nil {
		log.ErrorContext(ctx, "handler run failed, continuing with next handler",
			slog.String("handler", name),
			slog.String("error", runErr.Error()))
	}

	d.record(ctx, log, outcome{
		runID:    runID,
		handler:  name,
		state:    loop.State(),
		batches:  loop.Batches(),
		rows:     rowsOf(entry.Handler),
		err:      runErr,
		started:  started,
		finished: d.clock(),
	})
}

func rowsOf(h batch.Handler) int64 {
	if counter, ok := h.(rowCounter); ok {
		return counter.RowsProcessed()
	}
	return 0
}

type outcome struct {
	started  time.Time
	finished time.Time
	err      error
	runID    string
	handler  string
	state    batch.State
	batches  int
	rows     int64
}

// record persists one handler outcome. Bookkeeping is best-effort: a failed
// insert is logged and otherwise ignored so observability cannot break a run.
func (d *Dispatcher) record(ctx context.Context, log *slog.Logger, o outcome) {
	if d.book == nil {
		return
	}

	var errText *string
	if o.err != nil {
		s := o.err.Error()
		errText = &s
	}

	_, err := d.book.Exec(ctx, `
		INSERT INTO cleanup_run_log
			(run_id, handler, state, batches, rows_processed, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.runID, o.handler, o.state.String(), o.batches, o.rows, errText, o.started, o.finished)
	if err != nil {
		log.WarnContext(ctx, "failed to record run outcome",
			slog.String("handler", o.handler),
			slog.String("error", err.Error()))
	}
}
