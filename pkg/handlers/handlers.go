package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redgreat/orderhisclean/pkg/batch"
	"github.com/redgreat/orderhisclean/pkg/config"
	"github.com/redgreat/orderhisclean/pkg/registry"
)

var (
	// ErrBadConfig is returned by a factory when its configuration section
	// cannot produce a runnable handler. The dispatcher skips the handler.
	ErrBadConfig = errors.New("handlers: invalid handler configuration")

	// ErrNoSourcePool is returned when the shared source pool is missing.
	ErrNoSourcePool = errors.New("handlers: source database pool is required")

	// ErrNoTargetPool is returned by the migration factory when no target
	// database is configured.
	ErrNoTargetPool = errors.New("handlers: target database pool is required")
)

// Register adds every built-in handler factory to the registry.
func Register(r *registry.Registry) error {
	factories := map[string]registry.Factory{
		nameWorkflowPurge: newWorkflowPurge,
		nameActorCleanup:  newActorCleanup,
		nameResourcePurge: newResourcePurge,
		nameMigration:     newMigration,
	}
	for name, f := range factories {
		if err := r.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// common holds the settings every handler resolves the same way.
type common struct {
	batchSize int
	retention int
	pause     time.Duration
}

// resolveCommon merges the config section over per-handler defaults. Zero
// config values mean "use the default", matching how absent sections behave.
func resolveCommon(cfg config.Handler, defaults common) (common, error) {
	out := defaults
	if cfg.BatchSize > 0 {
		out.batchSize = cfg.BatchSize
	}
	if cfg.RetentionDays > 0 {
		out.retention = cfg.RetentionDays
	}
	if cfg.Pause > 0 {
		out.pause = cfg.Pause.Std()
	}
	if out.batchSize <= 0 {
		return common{}, fmt.Errorf("%w: batch size must be positive", ErrBadConfig)
	}
	return out, nil
}

// resolveCutOff parses the configured cut-off time, falling back to the
// handler's default when the section leaves it empty.
func resolveCutOff(cfg config.Handler, fallback string) (batch.CutOff, error) {
	s := cfg.CutOffTime
	if s == "" {
		s = fallback
	}
	cutOff, err := batch.ParseCutOff(s)
	if err != nil {
		return batch.CutOff{}, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	return cutOff, nil
}

// pauseBetweenBatches sleeps to shed database load after a committed batch.
// The sleep is the handler's own policy; the loop's cut-off check runs only
// after it returns.
func pauseBetweenBatches(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
