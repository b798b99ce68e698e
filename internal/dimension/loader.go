// Package dimension reloads the warehouse dimension tables from the OLTP
// schema. Every run is a full truncate-and-reload: surrogate keys are
// reassigned, so fact loads in the same run must resolve against the
// snapshot this package just wrote.
package dimension

import (
	"context"
	"database/sql"

	"dwflow/internal/audit"
	"dwflow/internal/observability"
	"dwflow/pkg/errors"
	"dwflow/pkg/models"
)

// FactTables are cleaned first: they carry the outgoing foreign keys.
var FactTables = []string{
	"fact_ventas",
	"fact_comportamiento_web",
	"fact_busquedas",
}

// DimensionTables in cleanup order.
var DimensionTables = []string{
	"dim_tiempo",
	"dim_producto",
	"dim_cliente",
	"dim_geografia",
	"dim_almacen",
	"dim_dispositivo",
	"dim_navegador",
	"dim_tipo_evento",
	"dim_estado_venta",
	"dim_metodo_pago",
}

// Loader extracts dimensions from OLTP and bulk-inserts them into the
// warehouse.
type Loader struct {
	oltp      *sql.DB
	dw        *sql.DB
	audit     *audit.Logger
	log       *observability.Logger
	batchSize int
}

// NewLoader creates a dimension loader.
func NewLoader(oltp, dw *sql.DB, auditLogger *audit.Logger, tuning models.TuningConfig) *Loader {
	tuning = tuning.Normalize()
	return &Loader{
		oltp:      oltp,
		dw:        dw,
		audit:     auditLogger,
		log:       observability.Default(),
		batchSize: tuning.DimensionBatchSize,
	}
}

// CleanAll empties fact tables first, then dimension tables, so no
// referential constraint blocks the truncates. Each table tries TRUNCATE
// and falls back to DELETE; both failing aborts the load phase. Cleanups
// commit per table, so tables already cleaned stay empty if a later one
// fails.
func (l *Loader) CleanAll(ctx context.Context) error {
	for _, table := range append(append([]string{}, FactTables...), DimensionTables...) {
		if err := l.cleanTable(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) cleanTable(ctx context.Context, table string) error {
	if _, err := l.dw.ExecContext(ctx, "TRUNCATE TABLE "+table); err == nil {
		l.log.WithField("table", table).Debug("table cleaned (TRUNCATE)")
		return nil
	}

	// TRUNCATE can fail on permissions or FK policy; DELETE is slower but
	// needs only row-level privileges.
	if _, err := l.dw.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return errors.CleanupError(table, err)
	}
	l.log.WithField("table", table).Debug("table cleaned (DELETE)")
	return nil
}

type dimensionStep struct {
	name    string
	process string
	table   string
	load    func(context.Context) (models.LoadCount, error)
}

// LoadAll cleans every warehouse table and reloads all dimensions in
// dependency order. A failed dimension aborts the remaining loads.
func (l *Loader) LoadAll(ctx context.Context) (map[string]models.LoadCount, error) {
	if err := l.CleanAll(ctx); err != nil {
		return nil, err
	}

	steps := []dimensionStep{
		{"dim_tiempo", "LOAD_DIM_TIEMPO", "dim_tiempo", l.loadTiempo},
		{"dim_geografia", "LOAD_DIM_GEOGRAFIA", "dim_geografia", l.loadGeografia},
		{"dim_producto", "LOAD_DIM_PRODUCTO", "dim_producto", l.loadProducto},
		{"dim_cliente", "LOAD_DIM_CLIENTE", "dim_cliente", l.loadCliente},
		{"dim_almacen", "LOAD_DIM_ALMACEN", "dim_almacen", l.loadAlmacen},
		{"dim_dispositivo", "LOAD_DIM_DISPOSITIVO", "dim_dispositivo", l.loadDispositivo},
		{"dim_navegador", "LOAD_DIM_NAVEGADOR", "dim_navegador", l.loadNavegador},
		{"dim_tipo_evento", "LOAD_DIM_TIPO_EVENTO", "dim_tipo_evento", l.loadTipoEvento},
		{"dim_estado_venta", "LOAD_DIM_ESTADO_VENTA", "dim_estado_venta", l.loadEstadoVenta},
		{"dim_metodo_pago", "LOAD_DIM_METODO_PAGO", "dim_metodo_pago", l.loadMetodoPago},
	}

	results := make(map[string]models.LoadCount, len(steps))
	for _, step := range steps {
		count, err := l.runStep(ctx, step)
		if err != nil {
			return results, err
		}
		results[step.name] = count
	}

	return results, nil
}

// runStep wraps one dimension load with its audit record.
func (l *Loader) runStep(ctx context.Context, step dimensionStep) (models.LoadCount, error) {
	runID, err := l.audit.Start(ctx, step.process, step.table)
	if err != nil {
		return models.LoadCount{}, err
	}

	count, err := step.load(ctx)
	if err != nil {
		loadErr := errors.Wrap(err, errors.ErrCodeDimensionLoad,
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
	}).Info("dimension loaded")

	return count, nil
}

// insertRows writes rows in transaction-sized chunks. batchSize <= 0 means
// a single transaction for all rows.
func (l *Loader) insertRows(ctx context.Context, insertSQL string, rows [][]interface{}, batchSize int) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = len(rows)
	}

	inserted := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		tx, err := l.dw.BeginTx(ctx, nil)
		if err != nil {
			return inserted, errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to begin batch transaction")
		}

		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			tx.Rollback()
			return inserted, errors.SQLError("Failed to prepare insert", insertSQL, err)
		}

		for _, row := range rows[start:end] {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				stmt.Close()
				tx.Rollback()
				return inserted, errors.SQLError("Failed to insert row", insertSQL, err)
			}
		}

		stmt.Close()
		if err := tx.Commit(); err != nil {
			return inserted, errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to commit batch")
		}

		inserted += end - start
		if len(rows) > batchSize {
			l.log.Debug("inserted %d/%d rows", inserted, len(rows))
		}
	}

	return inserted, nil
}

// copyTable is the common path for dimensions that are straight extractions:
// query OLTP, carry every column across unchanged.
func (l *Loader) copyTable(ctx context.Context, query, insertSQL string, columns int) (models.LoadCount, error) {
	rows, err := l.oltp.QueryContext(ctx, query)
	if err != nil {
		return models.LoadCount{}, errors.SQLError("Failed to extract from OLTP", query, err)
	}
	defer rows.Close()

	var extracted [][]interface{}
	for rows.Next() {
		values := make([]interface{}, columns)
		ptrs := make([]interface{}, columns)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return models.LoadCount{}, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan OLTP row")
		}
		extracted = append(extracted, values)
	}
	if err := rows.Err(); err != nil {
		return models.LoadCount{}, errors.SQLError("Failed reading OLTP rows", query, err)
	}

	inserted, err := l.insertRows(ctx, insertSQL, extracted, 0)
	if err != nil {
		return models.LoadCount{Extracted: len(extracted), Inserted: inserted}, err
	}

	return models.LoadCount{Extracted: len(extracted), Inserted: inserted}, nil
}
