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

const nameActorCleanup = "actor_cleanup"

// ActorCleanup deletes actors stuck in PROCESSING under workflow items that
// were accepted longer ago than the retention window. Items and steps stay in
// place; only the orphaned actor rows go, so the workflow history remains
// readable while the stuck in-flight markers disappear.
type ActorCleanup struct {
	pool      *pgxpool.Pool
	log       *slog.Logger
	batchSize int
	retention int
	pause     time.Duration
	rows      int64
}

func newActorCleanup(deps registry.Deps, cfg config.Handler) (registry.Entry, error) {
	if deps.Source == nil {
		return registry.Entry{}, ErrNoSourcePool
	}

	c, err := resolveCommon(cfg, common{batchSize: 100, retention: 90, pause: 30 * time.Second})
	if err != nil {
		return registry.Entry{}, err
	}
	cutOff, err := resolveCutOff(cfg, "23:00:00")
	if err != nil {
		return registry.Entry{}, err
	}

	h := &ActorCleanup{
		pool:      deps.Source,
		log:       deps.Logger.With(slog.String("handler", nameActorCleanup)),
		batchSize: c.batchSize,
		retention: c.retention,
		pause:     c.pause,
	}
	return registry.Entry{Handler: h, CutOff: cutOff}, nil
}

func (h *ActorCleanup) Name() string { return nameActorCleanup }

// RowsProcessed returns the total actor rows deleted across batches so far.
func (h *ActorCleanup) RowsProcessed() int64 { return h.rows }

func (h *ActorCleanup) ProcessBatch(ctx context.Context) (bool, error) {
	var (
		itemIDs []int64
		deleted int64
	)

	err := db.WithTx(ctx, h.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT i.id FROM workflow_runtime_items i
			WHERE i.status = 'ACCEPTED'
			  AND i.created_at < now() - make_interval(days => $1)
			  AND EXISTS (
			      SELECT 1
			      FROM workflow_runtime_steps s
			      JOIN workflow_runtime_actors a
			        ON a.runtime_step_id = s.id
			       AND a.status = 'PROCESSING'
			       AND a.active
			       AND NOT a.deleted
			      WHERE s.runtime_item_id = i.id
			        AND s.status = 'ACCEPTED'
			        AND NOT s.deleted)
			ORDER BY i.id
			LIMIT $2
			FOR UPDATE`, h.retention, h.batchSize)
		if err != nil {
			return fmt.Errorf("select items with stuck actors: %w", err)
		}
		itemIDs, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("collect items with stuck actors: %w", err)
		}
		if len(itemIDs) == 0 {
			return nil
		}

		stepRows, err := tx.Query(ctx, `
			SELECT id FROM workflow_runtime_steps
			WHERE status = 'ACCEPTED'
			  AND runtime_item_id = ANY($1)`, itemIDs)
		if err != nil {
			return fmt.Errorf("select steps for items %v: %w", itemIDs, err)
		}
		stepIDs, err := pgx.CollectRows(stepRows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("collect steps for items %v: %w", itemIDs, err)
		}
		if len(stepIDs) == 0 {
			return nil
		}

		tag, err := tx.Exec(ctx, `
			DELETE FROM workflow_runtime_actors
			WHERE runtime_step_id = ANY($1)
			  AND active
			  AND status = 'PROCESSING'`, stepIDs)
		if err != nil {
			return fmt.Errorf("delete stuck actors for steps %v: %w", stepIDs, err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		h.log.ErrorContext(ctx, "actor cleanup batch rolled back", slog.String("error", err.Error()))
		return false, err
	}

	if len(itemIDs) == 0 {
		h.log.InfoContext(ctx, "no more stuck actors to clean up today")
		return true, nil
	}

	h.rows += deleted
	h.log.InfoContext(ctx, "actor cleanup batch committed",
		slog.Int("items", len(itemIDs)),
		slog.Int64("actors_deleted", deleted))

	// A short batch drained the remaining candidates.
	if len(itemIDs) < h.batchSize {
		return true, nil
	}
	if err := pauseBetweenBatches(ctx, h.pause); err != nil {
		return false, err
	}
	return false, nil
}
