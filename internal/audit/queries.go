package audit

import (
	"context"
	"database/sql"

	"dwflow/pkg/errors"
	"dwflow/pkg/models"
)

const recentRunsSQL = `
	SELECT log_id, proceso_nombre, tabla_destino, fecha_inicio, fecha_fin,
	       duracion_segundos, registros_extraidos, registros_insertados,
	       registros_actualizados, registros_error, estado, mensaje_error
	FROM etl_logs
	ORDER BY fecha_inicio DESC
	LIMIT ?`

const lastFullRunSQL = `
	SELECT fecha_inicio
	FROM etl_logs
	WHERE proceso_nombre = ?
	ORDER BY fecha_inicio DESC
	LIMIT 1`

const runSummarySQL = `
	SELECT COUNT(*),
	       COALESCE(SUM(registros_extraidos), 0),
	       COALESCE(SUM(registros_insertados), 0),
	       COALESCE(SUM(registros_actualizados), 0),
	       COALESCE(SUM(registros_error), 0),
	       COALESCE(SUM(duracion_segundos), 0),
	       MIN(fecha_inicio),
	       MAX(fecha_fin),
	       COALESCE(SUM(CASE WHEN estado = 'ERROR' THEN 1 ELSE 0 END), 0)
	FROM etl_logs
	WHERE fecha_inicio >= ?`

// RecentRuns returns the most recent audit records, newest first. This is
// the read surface the dashboard consumes.
func RecentRuns(ctx context.Context, db *sql.DB, limit int) ([]models.LoadRun, error) {
	rows, err := db.QueryContext(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, errors.SQLError("Failed to query recent runs", recentRunsSQL, err)
	}
	defer rows.Close()

	var runs []models.LoadRun
	for rows.Next() {
		var (
			run      models.LoadRun
			status   string
			endTime  sql.NullTime
			duration sql.NullInt64
			message  sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &run.ProcessName, &run.TargetTable, &run.StartTime,
			&endTime, &duration,
			&run.Extracted, &run.Inserted, &run.Updated, &run.Errored,
			&status, &message,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan run record")
		}

		if endTime.Valid {
			t := endTime.Time
			run.EndTime = &t
		}
		run.DurationSeconds = int(duration.Int64)
		run.Status = models.RunStatus(status)
		run.ErrorMessage = message.String
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// RunSummary aggregates every audit record since the most recent
// full-pipeline run. Returns nil when no full run exists yet.
func RunSummary(ctx context.Context, db *sql.DB) (*models.RunSummary, error) {
	var since sql.NullTime
	err := db.QueryRowContext(ctx, lastFullRunSQL, ProcessFullPipeline).Scan(&since)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.SQLError("Failed to find last full run", lastFullRunSQL, err)
	}

	var (
		summary models.RunSummary
		start   sql.NullTime
		end     sql.NullTime
	)
	err = db.QueryRowContext(ctx, runSummarySQL, since.Time).Scan(
		&summary.TotalProcesses,
		&summary.TotalExtracted,
		&summary.TotalInserted,
		&summary.TotalUpdated,
		&summary.TotalErrored,
		&summary.TotalSeconds,
		&start,
		&end,
		&summary.FailedSteps,
	)
	if err != nil {
		return nil, errors.SQLError("Failed to aggregate run summary", runSummarySQL, err)
	}

	summary.StartTime = start.Time
	if end.Valid {
		t := end.Time
		summary.EndTime = &t
	}

	return &summary, nil
}
