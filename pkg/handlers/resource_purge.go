package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redgreat/orderhisclean/pkg/config"
	"github.com/redgreat/orderhisclean/pkg/db"
	"github.com/redgreat/orderhisclean/pkg/registry"
)

const nameResourcePurge = "resource_purge"

// ResourcePurge deletes soft-deleted work-resource rows older than the
// retention window, together with the resource items they reference. The
// reference is nullable, so only non-null resource ids feed the second delete.
type ResourcePurge struct {
	pool      *pgxpool.Pool
	log       *slog.Logger
	batchSize int
	retention int
	pause     time.Duration
	rows      int64
}

func newResourcePurge(deps registry.Deps, cfg config.Handler) (registry.Entry, error) {
	if deps.Source == nil {
		return registry.Entry{}, ErrNoSourcePool
	}

	c, err := resolveCommon(cfg, common{batchSize: 100, retention: 30})
	if err != nil {
		return registry.Entry{}, err
	}
	cutOff, err := resolveCutOff(cfg, "23:00:00")
	if err != nil {
		return registry.Entry{}, err
	}

	h := &ResourcePurge{
		pool:      deps.Source,
		log:       deps.Logger.With(slog.String("handler", nameResourcePurge)),
		batchSize: c.batchSize,
		retention: c.retention,
		pause:     c.pause,
	}
	return registry.Entry{Handler: h, CutOff: cutOff}, nil
}

func (h *ResourcePurge) Name() string { return nameResourcePurge }

// RowsProcessed returns the total rows deleted across batches so far.
func (h *ResourcePurge) RowsProcessed() int64 { return h.rows }

type workResource struct {
	ID         int64
	ResourceID *int64
}

func (h *ResourcePurge) ProcessBatch(ctx context.Context) (bool, error) {
	var (
		candidates []workResource
		deleted    int64
	)

	err := db.WithTx(ctx, h.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, resource_id FROM work_resource_info
			WHERE deleted
			  AND created_at < now() - make_interval(days => $1)
			ORDER BY id
			LIMIT $2
			FOR UPDATE`, h.retention, h.batchSize)
		if err != nil {
			return fmt.Errorf("select candidate work resources: %w", err)
		}
		candidates, err = pgx.CollectRows(rows, pgx.RowToStructByPos[workResource])
		if err != nil {
			return fmt.Errorf("collect candidate work resources: %w", err)
		}
		if len(candidates) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(candidates))
		resourceIDs := make([]int64, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.ID)
			if c.ResourceID != nil {
				resourceIDs = append(resourceIDs, *c.ResourceID)
			}
		}

		if len(resourceIDs) > 0 {
			tag, err := tx.Exec(ctx,
				`DELETE FROM resource_items WHERE id = ANY($1)`, resourceIDs)
			if err != nil {
				return fmt.Errorf("delete resource items %v: %w", resourceIDs, err)
			}
			deleted += tag.RowsAffected()
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM work_resource_info WHERE id = ANY($1)`, ids)
		if err != nil {
			return fmt.Errorf("delete work resources %v: %w", ids, err)
		}
		deleted += tag.RowsAffected()
		return nil
	})
	if err != nil {
		h.log.ErrorContext(ctx, "resource purge batch rolled back", slog.String("error", err.Error()))
		return false, err
	}

	if len(candidates) == 0 {
		h.log.InfoContext(ctx, "no more work resources to purge today")
		return true, nil
	}

	h.rows += deleted
	h.log.InfoContext(ctx, "resource purge batch committed",
		slog.Int("work_resources", len(candidates)),
		slog.Int64("rows_deleted", deleted))

	// A short batch drained the remaining candidates.
	if len(candidates) < h.batchSize {
		return true, nil
	}
	if err := pauseBetweenBatches(ctx, h.pause); err != nil {
		return false, err
	}
	return false, nil
}
