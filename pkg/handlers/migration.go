package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redgreat/orderhisclean/pkg/config"
	"github.com/redgreat/orderhisclean/pkg/db"
	"github.com/redgreat/orderhisclean/pkg/registry"
)

const nameMigration = "migration"

// Migration moves rows matching a status predicate from a source table to an
// identically-shaped table on the target database, then deletes them from the
// source. Each batch holds one source transaction: candidates are selected
// FOR UPDATE, copied into the target in its own transaction, then deleted
// from the source. The target insert ignores key conflicts, so a crash
// between the target commit and the source commit re-copies nothing and the
// retried batch converges instead of erroring.
type Migration struct {
	source *pgxpool.Pool
	target *pgxpool.Pool
	log    *slog.Logger

	sourceTable string
	targetTable string
	keyColumn   string
	whereClause string
	batchSize   int
	pause       time.Duration
	rows        int64
}

func newMigration(deps registry.Deps, cfg config.Handler) (registry.Entry, error) {
	if deps.Source == nil {
		return registry.Entry{}, ErrNoSourcePool
	}
	if deps.Target == nil {
		return registry.Entry{}, ErrNoTargetPool
	}
	if cfg.SourceTable == "" || cfg.TargetTable == "" {
		return registry.Entry{}, fmt.Errorf("%w: migration requires source_table and target_table", ErrBadConfig)
	}

	c, err := resolveCommon(cfg, common{batchSize: 3000})
	if err != nil {
		return registry.Entry{}, err
	}
	cutOff, err := resolveCutOff(cfg, "22:30:00")
	if err != nil {
		return registry.Entry{}, err
	}

	keyColumn := cfg.KeyColumn
	if keyColumn == "" {
		keyColumn = "id"
	}
	whereClause := cfg.WhereClause
	if whereClause == "" {
		whereClause = "status = 'COMPLETED'"
	}

	h := &Migration{
		source:      deps.Source,
		target:      deps.Target,
		log:         deps.Logger.With(slog.String("handler", nameMigration)),
		sourceTable: cfg.SourceTable,
		targetTable: cfg.TargetTable,
		keyColumn:   keyColumn,
		whereClause: whereClause,
		batchSize:   c.batchSize,
		pause:       c.pause,
	}
	return registry.Entry{Handler: h, CutOff: cutOff}, nil
}

func (h *Migration) Name() string { return nameMigration }

// RowsProcessed returns the total rows migrated across batches so far.
func (h *Migration) RowsProcessed() int64 { return h.rows }

func (h *Migration) ProcessBatch(ctx context.Context) (bool, error) {
	var (
		selected int
		migrated int64
	)

	err := db.WithTx(ctx, h.source, func(tx pgx.Tx) error {
		selectSQL := fmt.Sprintf(`SELECT * FROM %s WHERE %s ORDER BY %s LIMIT %d FOR UPDATE`,
			pgx.Identifier{h.sourceTable}.Sanitize(), h.whereClause,
			pgx.Identifier{h.keyColumn}.Sanitize(), h.batchSize)

		rows, err := tx.Query(ctx, selectSQL)
		if err != nil {
			return fmt.Errorf("select candidate rows: %w", err)
		}

		var (
			columns []string
			records [][]any
		)
		keyIndex := -1
		for rows.Next() {
			if columns == nil {
				for i, fd := range rows.FieldDescriptions() {
					columns = append(columns, fd.Name)
					if fd.Name == h.keyColumn {
						keyIndex = i
					}
				}
			}
			values, err := rows.Values()
			if err != nil {
				rows.Close()
				return fmt.Errorf("read candidate row: %w", err)
			}
			records = append(records, values)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("select candidate rows: %w", err)
		}
		selected = len(records)
		if selected == 0 {
			return nil
		}
		if keyIndex < 0 {
			return fmt.Errorf("%w: key column %q not in table %q", ErrBadConfig, h.keyColumn, h.sourceTable)
		}

		keys := make([]any, 0, len(records))
		for _, rec := range records {
			keys = append(keys, rec[keyIndex])
		}

		// Copy into the target first; the source rows stay locked until the
		// delete below commits.
		if err := h.copyToTarget(ctx, columns, records); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, buildDeleteSQL(h.sourceTable, h.keyColumn, len(keys)), keys...)
		if err != nil {
			return fmt.Errorf("delete migrated rows: %w", err)
		}
		migrated = tag.RowsAffected()
		return nil
	})
	if err != nil {
		h.log.ErrorContext(ctx, "migration batch rolled back", slog.String("error", err.Error()))
		return false, err
	}

	if selected == 0 {
		h.log.InfoContext(ctx, "no more rows to migrate today",
			slog.String("source_table", h.sourceTable),
			slog.String("target_table", h.targetTable))
		return true, nil
	}

	h.rows += migrated
	h.log.InfoContext(ctx, "migration batch committed",
		slog.String("source_table", h.sourceTable),
		slog.String("target_table", h.targetTable),
		slog.Int64("rows_migrated", migrated))

	// A short batch drained the remaining candidates.
	if selected < h.batchSize {
		return true, nil
	}
	if err := pauseBetweenBatches(ctx, h.pause); err != nil {
		return false, err
	}
	return false, nil
}

// copyToTarget inserts the batch into the target table in one transaction,
// ignoring rows whose key already exists there.
func (h *Migration) copyToTarget(ctx context.Context, columns []string, records [][]any) error {
	insertSQL := buildInsertSQL(h.targetTable, columns, h.keyColumn)

	return db.WithTx(ctx, h.target, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, rec := range records {
			b.Queue(insertSQL, rec...)
		}

		results := tx.SendBatch(ctx, b)
		for range records {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert into target table: %w", err)
			}
		}
		return results.Close()
	})
}

// buildInsertSQL renders an insert for one row with a conflict-ignoring key,
// so re-copying an already-migrated row is a no-op.
func buildInsertSQL(table string, columns []string, keyColumn string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pgx.Identifier{col}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		pgx.Identifier{keyColumn}.Sanitize())
}

// buildDeleteSQL renders a membership delete with one placeholder per key.
// Keys keep whatever type the source column has, so they are bound
// individually rather than as a typed array.
func buildDeleteSQL(table, keyColumn string, n int) string {
	placeholders := make([]string, n)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{keyColumn}.Sanitize(),
		strings.Join(placeholders, ", "))
}
