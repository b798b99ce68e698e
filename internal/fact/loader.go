// Package fact loads the three fact tables from OLTP, resolving dimension
// surrogate keys through an immutable per-run lookup snapshot.
package fact

import (
	"context"
	"database/sql"
	"math"

	"dwflow/internal/audit"
	"dwflow/internal/observability"
	"dwflow/pkg/errors"
	"dwflow/pkg/models"
)

// checkpointSQL is executed after every checkpoint interval to let the
// warehouse reclaim transaction log space during long fact loads. It is
// best-effort: not every engine supports it, and a failure only warns.
const checkpointSQL = "CHECKPOINT"

// Loader streams fact rows out of OLTP and batch-inserts them into the
// warehouse.
type Loader struct {
	oltp   *sql.DB
	dw     *sql.DB
	audit  *audit.Logger
	log    *observability.Logger
	tuning models.TuningConfig
}

// NewLoader creates a fact loader.
func NewLoader(oltp, dw *sql.DB, auditLogger *audit.Logger, tuning models.TuningConfig) *Loader {
	return &Loader{
		oltp:   oltp,
		dw:     dw,
		audit:  auditLogger,
		log:    observability.Default(),
		tuning: tuning.Normalize(),
	}
}

type factStep struct {
	name    string
	process string
	table   string
	load    func(context.Context, *Lookups) (models.LoadCount, error)
}

// LoadAll snapshots the dimension lookups once, then loads the three fact
// tables in order. A failed fact aborts the remaining loads.
func (l *Loader) LoadAll(ctx context.Context) (map[string]models.LoadCount, error) {
	lookups, err := LoadLookups(ctx, l.dw)
	if err != nil {
		return nil, err
	}

	steps := []factStep{
		{"fact_ventas", "LOAD_FACT_VENTAS", "fact_ventas", l.loadVentas},
		{"fact_comportamiento_web", "LOAD_FACT_COMPORTAMIENTO_WEB", "fact_comportamiento_web", l.loadComportamientoWeb},
		{"fact_busquedas", "LOAD_FACT_BUSQUEDAS", "fact_busquedas", l.loadBusquedas},
	}

	results := make(map[string]models.LoadCount, len(steps))
	for _, step := range steps {
		count, err := l.runStep(ctx, step, lookups)
		if err != nil {
			return results, err
		}
		results[step.name] = count
	}

	return results, nil
}

func (l *Loader) runStep(ctx context.Context, step factStep, lookups *Lookups) (models.LoadCount, error) {
	runID, err := l.audit.Start(ctx, step.process, step.table)
	if err != nil {
		return models.LoadCount{}, err
	}

	count, err := step.load(ctx, lookups)
	if err != nil {
		loadErr := errors.Wrap(err, errors.ErrCodeFactLoad,
			"Failed to load "+step.table).WithContext("table", step.table)
		if auditErr := l.audit.Fail(ctx, runID, loadErr.Error(), count.Extracted); auditErr != nil {
			return count, auditErr
		}
		return count, loadErr
	}

	if err := l.audit.Finish(ctx, runID, audit.Counts{
		Extracted: count.Extracted,
		Inserted:  count.Inserted,
	}); err != nil {
		return count, err
	}

	l.log.WithFields(map[string]interface{}{
		"step":      step.process,
		"table":     step.table,
		"extracted": count.Extracted,
		"inserted":  count.Inserted,
	}).Info("fact loaded")

	return count, nil
}

// cleanTable empties one fact table before its reload, so a fact stage run
// on its own is as idempotent as the full pipeline.
func (l *Loader) cleanTable(ctx context.Context, table string) error {
	if _, err := l.dw.ExecContext(ctx, "TRUNCATE TABLE "+table); err == nil {
		return nil
	}
	if _, err := l.dw.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return errors.CleanupError(table, err)
	}
	return nil
}

// insertFacts writes rows reusing one prepared statement per transaction,
// committing every CommitInterval rows and running the best-effort
// checkpoint every CheckpointInterval rows. The tail commits at the end.
func (l *Loader) insertFacts(ctx context.Context, table, insertSQL string, rows [][]interface{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var (
		tx   *sql.Tx
		stmt *sql.Stmt
	)
	open := func() error {
		var err error
		tx, err = l.dw.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to begin fact transaction")
		}
		stmt, err = tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			tx.Rollback()
			return errors.SQLError("Failed to prepare fact insert", insertSQL, err)
		}
		return nil
	}

	if err := open(); err != nil {
		return 0, err
	}

	inserted := 0
	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			tx.Rollback()
			return inserted, errors.SQLError("Failed to insert fact row", insertSQL, err)
		}

		n := i + 1
		if n%l.tuning.FactBatchSize == 0 {
			l.log.WithField("table", table).Debug("inserted %d/%d rows", n, len(rows))
		}
		if n%l.tuning.CommitInterval == 0 {
			stmt.Close()
			if err := tx.Commit(); err != nil {
				return inserted, errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to commit fact batch")
			}
			inserted = n
			l.log.WithFields(map[string]interface{}{
				"table": table,
				"rows":  inserted,
			}).Info("fact batch committed")

			if n%l.tuning.CheckpointInterval == 0 {
				l.reclaimLog(ctx, table)
			}

			if n == len(rows) {
				return inserted, nil
			}
			if err := open(); err != nil {
				return inserted, err
			}
		}
	}

	stmt.Close()
	if err := tx.Commit(); err != nil {
		return inserted, errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to commit fact batch")
	}
	return len(rows), nil
}

func (l *Loader) reclaimLog(ctx context.Context, table string) {
	if _, err := l.dw.ExecContext(ctx, checkpointSQL); err != nil {
		l.log.WithFields(map[string]interface{}{
			"table": table,
			"error": err.Error(),
		}).Warn("log reclamation checkpoint failed")
		return
	}
	l.log.WithField("table", table).Debug("log reclaimed (checkpoint)")
}

// roundMoney coerces a nullable decimal measure: NULL and NaN become 0,
// values round to two places.
func roundMoney(v sql.NullFloat64) float64 {
	if !v.Valid || math.IsNaN(v.Float64) {
		return 0
	}
	return math.Round(v.Float64*100) / 100
}

// nullInt coerces a nullable integer or flag column: NULL becomes 0.
func nullInt(v sql.NullInt64) int64 {
	if !v.Valid {
		return 0
	}
	return v.Int64
}
