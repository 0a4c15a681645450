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

const nameWorkflowPurge = "workflow_purge"

// WorkflowPurge removes soft-deleted workflow runtime items older than the
// retention window, cascading through their steps and actors. Children are
// resolved per level with one membership query over the batch's parent ids,
// and deleted innermost-first so referential constraints hold at every point
// inside the transaction.
type WorkflowPurge struct {
	pool      *pgxpool.Pool
	log       *slog.Logger
	batchSize int
	retention int
	pause     time.Duration
	rows      int64
}

func newWorkflowPurge(deps registry.Deps, cfg config.Handler) (registry.Entry, error) {
	if deps.Source == nil {
		return registry.Entry{}, ErrNoSourcePool
	}

	c, err := resolveCommon(cfg, common{batchSize: 100, retention: 30, pause: 30 * time.Second})
	if err != nil {
		return registry.Entry{}, err
	}
	cutOff, err := resolveCutOff(cfg, "23:00:00")
	if err != nil {
		return registry.Entry{}, err
	}

	h := &WorkflowPurge{
		pool:      deps.Source,
		log:       deps.Logger.With(slog.String("handler", nameWorkflowPurge)),
		batchSize: c.batchSize,
		retention: c.retention,
		pause:     c.pause,
	}
	return registry.Entry{Handler: h, CutOff: cutOff}, nil
}

func (h *WorkflowPurge) Name() string { return nameWorkflowPurge }

// RowsProcessed returns the total rows deleted across all batches so far.
func (h *WorkflowPurge) RowsProcessed() int64 { return h.rows }

func (h *WorkflowPurge) ProcessBatch(ctx context.Context) (bool, error) {
	var (
		itemIDs []int64
		deleted int64
	)

	err := db.WithTx(ctx, h.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id FROM workflow_runtime_items
			WHERE deleted
			  AND created_at < now() - make_interval(days => $1)
			ORDER BY id
			LIMIT $2
			FOR UPDATE`, h.retention, h.batchSize)
		if err != nil {
			return fmt.Errorf("select candidate items: %w", err)
		}
		itemIDs, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("collect candidate items: %w", err)
		}
		if len(itemIDs) == 0 {
			return nil
		}

		// Grandchildren first: actors hang off steps, steps off items.
		stepRows, err := tx.Query(ctx,
			`SELECT id FROM workflow_runtime_steps WHERE runtime_item_id = ANY($1)`, itemIDs)
		if err != nil {
			return fmt.Errorf("select steps for items %v: %w", itemIDs, err)
		}
		stepIDs, err := pgx.CollectRows(stepRows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("collect steps for items %v: %w", itemIDs, err)
		}

		if len(stepIDs) > 0 {
			tag, err := tx.Exec(ctx,
				`DELETE FROM workflow_runtime_actors WHERE runtime_step_id = ANY($1)`, stepIDs)
			if err != nil {
				return fmt.Errorf("delete actors for steps %v: %w", stepIDs, err)
			}
			deleted += tag.RowsAffected()

			tag, err = tx.Exec(ctx,
				`DELETE FROM workflow_runtime_steps WHERE runtime_item_id = ANY($1)`, itemIDs)
			if err != nil {
				return fmt.Errorf("delete steps for items %v: %w", itemIDs, err)
			}
			deleted += tag.RowsAffected()
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM workflow_runtime_items WHERE id = ANY($1)`, itemIDs)
		if err != nil {
			return fmt.Errorf("delete items %v: %w", itemIDs, err)
		}
		deleted += tag.RowsAffected()
		return nil
	})
	if err != nil {
		h.log.ErrorContext(ctx, "workflow purge batch rolled back", slog.String("error", err.Error()))
		return false, err
	}

	if len(itemIDs) == 0 {
		h.log.InfoContext(ctx, "no more workflow runtime items to purge today")
		return true, nil
	}

	h.rows += deleted
	h.log.InfoContext(ctx, "workflow purge batch committed",
		slog.Int("items", len(itemIDs)),
		slog.Int64("rows_deleted", deleted))

	// A short batch drained the remaining candidates.
	if len(itemIDs) < h.batchSize {
		return true, nil
	}
	if err := pauseBetweenBatches(ctx, h.pause); err != nil {
		return false, err
	}
	return false, nil
}
