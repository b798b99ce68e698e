// Package audit persists one LoadRun record per named load step into the
// warehouse etl_logs table. The audit trail is part of the pipeline
// contract: persistence failures propagate to the caller instead of being
// swallowed.
package audit

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"dwflow/internal/observability"
	"dwflow/pkg/errors"
	"dwflow/pkg/models"
)

// ProcessFullPipeline is the process name of the top-level run record; the
// run summary aggregates everything since the most recent one.
const ProcessFullPipeline = "ETL_COMPLETO"

const insertRunSQL = `
	INSERT INTO etl_logs (proceso_nombre, tabla_destino, fecha_inicio, estado)
	VALUES (?, ?, ?, ?)`

const finalizeRunSQL = `
	UPDATE etl_logs
	SET fecha_fin = ?,
	    duracion_segundos = ?,
	    registros_extraidos = ?,
	    registros_insertados = ?,
	    registros_actualizados = ?,
	    registros_error = ?,
	    estado = ?,
	    mensaje_error = ?
	WHERE log_id = ?`

// Counts carries the record counters reported when a step finalizes.
type Counts struct {
	Extracted int
	Inserted  int
	Updated   int
	Errored   int
}

// Logger writes LoadRun records. One Logger serves the whole pipeline run;
// it remembers start timestamps so Finish can compute durations.
type Logger struct {
	db  *sql.DB
	log *observability.Logger

	mu     sync.Mutex
	starts map[int64]time.Time
}

// NewLogger creates an audit logger over the warehouse connection.
func NewLogger(db *sql.DB) *Logger {
	return &Logger{
		db:     db,
		log:    observability.Default(),
		starts: make(map[int64]time.Time),
	}
}

// Start records the beginning of a load step and returns the run id to pass
// to the matching Finish or Fail call.
func (l *Logger) Start(ctx context.Context, processName, targetTable string) (int64, error) {
	startTime := time.Now()

	res, err := l.db.ExecContext(ctx, insertRunSQL,
		processName, targetTable, startTime, string(models.StatusStarted))
	if err != nil {
		return 0, errors.AuditError("Failed to record step start", err).
			WithContext("process", processName)
	}

	runID, err := res.LastInsertId()
	if err != nil || runID == 0 {
		// Drivers without insert-id support (e.g. the warehouse side) fall
		// back to reading the key back; the pipeline is the only writer.
		if qerr := l.db.QueryRowContext(ctx,
			"SELECT MAX(log_id) FROM etl_logs").Scan(&runID); qerr != nil {
			return 0, errors.AuditError("Failed to resolve run id", qerr).
				WithContext("process", processName)
		}
	}

	l.mu.Lock()
	l.starts[runID] = startTime
	l.mu.Unlock()

	l.log.WithFields(map[string]interface{}{
		"step":   processName,
		"table":  targetTable,
		"run_id": runID,
	}).Info("step started")

	return runID, nil
}

// Finish finalizes a run as COMPLETADO. Calling it for a run id that was
// never started logs a warning and writes nothing.
func (l *Logger) Finish(ctx context.Context, runID int64, counts Counts) error {
	return l.finalize(ctx, runID, counts, models.StatusCompleted, "")
}

// Fail finalizes a run as ERROR with the given message.
func (l *Logger) Fail(ctx context.Context, runID int64, errorMessage string, extracted int) error {
	return l.finalize(ctx, runID, Counts{Extracted: extracted}, models.StatusError, errorMessage)
}

func (l *Logger) finalize(ctx context.Context, runID int64, counts Counts, status models.RunStatus, errorMessage string) error {
	l.mu.Lock()
	startTime, ok := l.starts[runID]
	if ok {
		delete(l.starts, runID)
	}
	l.mu.Unlock()

	if !ok {
		l.log.WithField("run_id", runID).Warn("cannot finalize step: run was never started")
		return nil
	}

	endTime := time.Now()
	duration := int(endTime.Sub(startTime).Seconds())

	var message interface{}
	if errorMessage != "" {
		message = errorMessage
	}

	_, err := l.db.ExecContext(ctx, finalizeRunSQL,
		endTime, duration,
		counts.Extracted, counts.Inserted, counts.Updated, counts.Errored,
		string(status), message, runID)
	if err != nil {
		return errors.AuditError("Failed to record step end", err).
			WithContext("run_id", runID)
	}

	entry := l.log.WithFields(map[string]interface{}{
		"run_id":    runID,
		"status":    string(status),
		"duration":  duration,
		"extracted": counts.Extracted,
		"inserted":  counts.Inserted,
		"updated":   counts.Updated,
		"errored":   counts.Errored,
	})
	if status == models.StatusError {
		entry.Error("step failed: %s", errorMessage)
	} else {
		entry.Info("step completed")
	}

	return nil
}
