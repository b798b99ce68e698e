// Package pipeline orchestrates a full warehouse reload: connect, validate,
// load dimensions, load facts, reconcile, disconnect. The run is a typed
// state machine and every failure surfaces as an error value on the result,
// never as a panic.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"dwflow/internal/audit"
	"dwflow/internal/db"
	"dwflow/internal/dimension"
	"dwflow/internal/fact"
	"dwflow/internal/observability"
	"dwflow/pkg/errors"
	"dwflow/pkg/models"
)

// oltpTables are the source tables the pipeline reads; all twelve must
// exist before anything is truncated.
var oltpTables = []string{
	"tiempo", "provincias", "cantones", "distritos",
	"productos", "categorias", "clientes", "almacenes",
	"ventas", "detalles_venta", "eventos_web", "busquedas_web",
}

// minWarehouseTables is the combined dim_/fact_ table count the warehouse
// schema must expose.
const minWarehouseTables = 14

// Pipeline runs the full OLTP-to-warehouse reload.
type Pipeline struct {
	oltp   *db.Service
	dw     *db.Service
	tuning models.TuningConfig
	log    *observability.Logger
	state  State
}

// New builds a pipeline from configuration. Connections open in Run.
func New(cfg *models.Config) *Pipeline {
	return &Pipeline{
		oltp:   db.NewService("oltp", cfg.OLTP),
		dw:     db.NewService("warehouse", cfg.Warehouse),
		tuning: cfg.Tuning.Normalize(),
		log:    observability.Default(),
		state:  StateInit,
	}
}

// NewWithServices wires a pipeline onto existing connections.
func NewWithServices(oltp, dw *db.Service, tuning models.TuningConfig) *Pipeline {
	return &Pipeline{
		oltp:   oltp,
		dw:     dw,
		tuning: tuning.Normalize(),
		log:    observability.Default(),
		state:  StateInit,
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return p.state
}

func (p *Pipeline) advance(to State) {
	if !p.state.CanAdvanceTo(to) {
		// A skipped state is a programming error; record it loudly but keep
		// the run's error reporting on the result.
		p.log.WithFields(map[string]interface{}{
			"from": string(p.state),
			"to":   string(to),
		}).Error("illegal pipeline state transition")
	}
	p.log.WithFields(map[string]interface{}{
		"from": string(p.state),
		"to":   string(to),
	}).Debug("pipeline state transition")
	p.state = to
}

// Run executes the whole pipeline. It never panics; the result carries
// success, per-table counts and collected errors, and connections are
// closed no matter where the run stops.
func (p *Pipeline) Run(ctx context.Context) *models.RunResult {
	result := &models.RunResult{
		StartTime:  time.Now(),
		Dimensions: make(map[string]models.LoadCount),
		Facts:      make(map[string]models.LoadCount),
	}

	defer p.teardown()
	defer func() {
		result.EndTime = time.Now()
		result.DurationSeconds = int(result.EndTime.Sub(result.StartTime).Seconds())
	}()

	if err := p.connect(); err != nil {
		return p.fail(ctx, result, nil, 0, err)
	}
	p.advance(StateConnected)

	auditLog := audit.NewLogger(p.dw.DB())
	runID, err := auditLog.Start(ctx, audit.ProcessFullPipeline, "ALL")
	if err != nil {
		return p.fail(ctx, result, nil, 0, err)
	}

	if err := p.validatePrerequisites(ctx); err != nil {
		return p.fail(ctx, result, auditLog, runID, err)
	}
	p.advance(StateValidated)

	dimLoader := dimension.NewLoader(p.oltp.DB(), p.dw.DB(), auditLog, p.tuning)
	dimCounts, err := dimLoader.LoadAll(ctx)
	for name, count := range dimCounts {
		result.Dimensions[name] = count
	}
	if err != nil {
		return p.fail(ctx, result, auditLog, runID, err)
	}
	p.advance(StateDimensionsLoaded)
	p.logPhaseSummary("dimensions", result.Dimensions)

	factLoader := fact.NewLoader(p.oltp.DB(), p.dw.DB(), auditLog, p.tuning)
	factCounts, err := factLoader.LoadAll(ctx)
	for name, count := range factCounts {
		result.Facts[name] = count
	}
	if err != nil {
		return p.fail(ctx, result, auditLog, runID, err)
	}
	p.advance(StateFactsLoaded)
	p.logPhaseSummary("facts", result.Facts)

	// Result validation only warns; the loaded data stays either way.
	p.validateResults(ctx)
	p.advance(StateValidatedResults)

	if err := auditLog.Finish(ctx, runID, audit.Counts{
		Extracted: result.TotalExtracted(),
		Inserted:  result.TotalInserted(),
	}); err != nil {
		return p.fail(ctx, result, nil, 0, err)
	}

	result.Success = true
	p.log.WithFields(map[string]interface{}{
		"extracted": result.TotalExtracted(),
		"inserted":  result.TotalInserted(),
	}).Info("pipeline completed")

	return result
}

func (p *Pipeline) logPhaseSummary(phase string, counts map[string]models.LoadCount) {
	totalExtracted, totalInserted := 0, 0
	for name, c := range counts {
		totalExtracted += c.Extracted
		totalInserted += c.Inserted
		p.log.WithFields(map[string]interface{}{
			"phase":     phase,
			"table":     name,
			"extracted": c.Extracted,
			"inserted":  c.Inserted,
		}).Info("table loaded")
	}
	p.log.WithFields(map[string]interface{}{
		"phase":     phase,
		"extracted": totalExtracted,
		"inserted":  totalInserted,
	}).Info("phase completed")
}

func (p *Pipeline) connect() error {
	if err := p.oltp.Connect(); err != nil {
		return err
	}
	return p.dw.Connect()
}

func (p *Pipeline) teardown() {
	if err := p.oltp.Close(); err != nil {
		p.log.WithField("error", err.Error()).Warn("failed to close oltp connection")
	}
	if err := p.dw.Close(); err != nil {
		p.log.WithField("error", err.Error()).Warn("failed to close warehouse connection")
	}
	if p.state == StateValidatedResults {
		p.advance(StateDisconnected)
	}
}

func (p *Pipeline) fail(ctx context.Context, result *models.RunResult, auditLog *audit.Logger, runID int64, err error) *models.RunResult {
	p.advance(StateError)
	result.Success = false
	result.Errors = append(result.Errors, err.Error())

	if auditLog != nil {
		if auditErr := auditLog.Fail(ctx, runID, err.Error(), result.TotalExtracted()); auditErr != nil {
			result.Errors = append(result.Errors, auditErr.Error())
		}
	}

	p.log.WithField("error", err.Error()).Error("pipeline failed")
	return result
}

// ValidatePrerequisites runs the pre-flight checks without loading
// anything, for the standalone validate command.
func (p *Pipeline) ValidatePrerequisites(ctx context.Context) error {
	if err := p.connect(); err != nil {
		return err
	}
	defer p.teardown()
	p.advance(StateConnected)

	if err := p.validatePrerequisites(ctx); err != nil {
		p.advance(StateError)
		return err
	}
	p.advance(StateValidated)
	return nil
}

func (p *Pipeline) validatePrerequisites(ctx context.Context) error {
	found, err := p.oltp.CountTables(ctx, oltpTables)
	if err != nil {
		return err
	}
	p.log.WithFields(map[string]interface{}{
		"found":    found,
		"expected": len(oltpTables),
	}).Info("oltp tables checked")
	if found < len(oltpTables) {
		return errors.ValidationError(fmt.Sprintf(
			"OLTP schema incomplete: found %d of %d required tables", found, len(oltpTables))).
			WithSuggestions("Run the OLTP schema creation script before loading")
	}

	// Plain LIKE patterns: Snowflake has no default escape character, so
	// an escaped underscore would match nothing there. The unescaped _
	// wildcard can only over-match, never miss a real dim_/fact_ table.
	dwFound, err := p.dw.CountTablesLike(ctx, "dim_%", "fact_%")
	if err != nil {
		return err
	}
	p.log.WithFields(map[string]interface{}{
		"found":    dwFound,
		"expected": minWarehouseTables,
	}).Info("warehouse tables checked")
	if dwFound < minWarehouseTables {
		return errors.ValidationError(fmt.Sprintf(
			"warehouse schema incomplete: found %d dim_/fact_ tables, need %d",
			dwFound, minWarehouseTables)).
			WithSuggestions("Run the warehouse schema creation script before loading")
	}

	// tiempo drives every time key; an empty calendar makes every fact
	// unresolvable, so it is the one emptiness that aborts the run.
	tiempoRows, err := p.oltp.RowCount(ctx, "tiempo")
	if err != nil {
		return err
	}
	if tiempoRows == 0 {
		return errors.New(errors.ErrCodeEmptyTable, "OLTP calendar table 'tiempo' is empty").
			WithSuggestions("Populate the tiempo table before running the pipeline")
	}

	for _, table := range []string{"productos", "clientes", "ventas"} {
		rows, err := p.oltp.RowCount(ctx, table)
		if err != nil {
			return err
		}
		if rows == 0 {
			p.log.WithField("table", table).Warn("oltp table is empty; dependent loads will produce no rows")
		}
	}

	return nil
}

// validateResults logs warehouse row counts and reconciles the revenue
// total between OLTP and the warehouse. Discrepancies never fail the run.
func (p *Pipeline) validateResults(ctx context.Context) {
	for _, table := range append(append([]string{}, dimension.DimensionTables...), dimension.FactTables...) {
		count, err := p.dw.RowCount(ctx, table)
		if err != nil {
			p.log.WithFields(map[string]interface{}{
				"table": table,
				"error": err.Error(),
			}).Warn("failed to count warehouse table")
			continue
		}
		p.log.WithFields(map[string]interface{}{
			"table": table,
			"rows":  count,
		}).Info("warehouse table loaded")
	}

	p.reconcileRevenue(ctx)
}

func (p *Pipeline) reconcileRevenue(ctx context.Context) {
	var oltpTotal, dwTotal float64

	err := p.oltp.DB().QueryRowContext(ctx,
		"SELECT COALESCE(SUM(monto_total), 0) FROM detalles_venta").Scan(&oltpTotal)
	if err != nil {
		p.log.WithField("error", err.Error()).Warn("failed to total oltp revenue")
		return
	}

	err = p.dw.DB().QueryRowContext(ctx,
		"SELECT COALESCE(SUM(monto_total), 0) FROM fact_ventas WHERE venta_cancelada = 0").Scan(&dwTotal)
	if err != nil {
		p.log.WithField("error", err.Error()).Warn("failed to total warehouse revenue")
		return
	}

	difference := math.Abs(oltpTotal - dwTotal)
	fields := map[string]interface{}{
		"oltp_total":      oltpTotal,
		"warehouse_total": dwTotal,
		"difference":      difference,
	}
	if difference < p.tuning.ReconcileTolerance {
		p.log.WithFields(fields).Info("revenue totals reconciled")
		return
	}
	p.log.WithFields(fields).Warn("revenue totals do not reconcile")
}
