package batch

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Handler is one batch-processing algorithm. ProcessBatch performs at most
// one batch-size bounded unit of work atomically and reports finished=true
// when no candidate work remains today. The boolean is the only signal the
// loop reads; there is no resumption token — handlers must be safe to re-run,
// re-querying candidates on every call.
//
// A non-nil error means the batch was rolled back; handlers must never report
// finished=true to paper over an error, since that would end the day's
// processing while work remains.
type Handler interface {
	Name() string
	ProcessBatch(ctx context.Context) (finished bool, err error)
}

// State is the lifecycle of a single Run call.
type State int

const (
	StateNotStarted State = iota
	StateLooping
	StateFinished // handler reported no work left today
	StateDeferred // cut-off reached before the work was exhausted
	StateFailed   // a batch returned an error
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateLooping:
		return "looping"
	case StateFinished:
		return "finished"
	case StateDeferred:
		return "deferred"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Loop drives a Handler until it finishes for the day, the cut-off time is
// reached, or a batch fails. Loops are single-use: one Run per instance.
type Loop struct {
	handler Handler
	log     *slog.Logger
	now     func() time.Time
	cutOff  CutOff
	state   State
	batches int
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		l.log = log
	}
}

// WithClock overrides the wall-clock source used for the cut-off check.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// New builds a loop for one handler and one day's cut-off.
func New(h Handler, cutOff CutOff, opts ...Option) (*Loop, error) {
	if h == nil {
		return nil, ErrNilHandler
	}

	l := &Loop{
		handler: h,
		cutOff:  cutOff,
		now:     time.Now,
		state:   StateNotStarted,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l, nil
}

// State returns the loop's current state. Finished, Deferred and Failed are
// terminal for this instance.
func (l *Loop) State() State { return l.state }

// Batches returns how many times the handler was invoked.
func (l *Loop) Batches() int { return l.batches }

// Run executes batches until the handler reports finished, the cut-off is
// reached, the context is cancelled, or a batch fails. A batch error is
// logged and returned as-is; Run never converts it into a success. The start
// and teardown log lines are emitted exactly once per call on every exit path.
func (l *Loop) Run(ctx context.Context) error {
	if l.state != StateNotStarted {
		return ErrAlreadyRan
	}
	l.state = StateLooping

	log := l.log.With(
		slog.String("handler", l.handler.Name()),
		slog.String("cut_off", l.cutOff.String()),
	)
	log.InfoContext(ctx, "handler run started")
	defer func() {
		log.InfoContext(ctx, "handler run ended",
			slog.String("state", l.state.String()),
			slog.Int("batches", l.batches))
	}()

	for !l.cutOff.Reached(l.now()) {
		if err := ctx.Err(); err != nil {
			l.state = StateFailed
			log.ErrorContext(ctx, "run cancelled",
				slog.Int("batches", l.batches),
				slog.String("error", err.Error()))
			return err
		}

		finished, err := l.handler.ProcessBatch(ctx)
		l.batches++
		if err != nil {
			l.state = StateFailed
			log.ErrorContext(ctx, "batch failed",
				slog.Int("batch", l.batches),
				slog.String("error", err.Error()))
			return err
		}
		if finished {
			l.state = StateFinished
			log.InfoContext(ctx, "all tasks completed for today")
			return nil
		}
	}

	l.state = StateDeferred
	log.WarnContext(ctx, "cut-off time reached, remaining work deferred to tomorrow")
	return nil
}
