package models

import "time"

// RunStatus is the terminal (or initial) state of an audited load step.
type RunStatus string

const (
	StatusStarted   RunStatus = "INICIADO"
	StatusCompleted RunStatus = "COMPLETADO"
	StatusError     RunStatus = "ERROR"
)

// LoadRun is one audit record in the etl_logs table. A run is created in
// STARTED state and finalized exactly once; after finalization EndTime is
// set and DurationSeconds equals the whole-second difference from StartTime.
type LoadRun struct {
	ID              int64
	ProcessName     string
	TargetTable     string
	StartTime       time.Time
	EndTime         *time.Time
	DurationSeconds int
	Extracted       int
	Inserted        int
	Updated         int
	Errored         int
	Status          RunStatus
	ErrorMessage    string
}

// RunSummary aggregates all audit records belonging to the most recent
// full-pipeline execution.
type RunSummary struct {
	TotalProcesses int
	TotalExtracted int
	TotalInserted  int
	TotalUpdated   int
	TotalErrored   int
	TotalSeconds   int
	StartTime      time.Time
	EndTime        *time.Time
	FailedSteps    int
}

// LoadCount is the (extracted, inserted) pair reported per table load.
type LoadCount struct {
	Extracted int
	Inserted  int
}

// RunResult is the structured outcome of a full pipeline run.
type RunResult struct {
	Success         bool
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds int
	Dimensions      map[string]LoadCount
	Facts           map[string]LoadCount
	Errors          []string
}

// TotalExtracted sums extracted counts across dimensions and facts.
func (r *RunResult) TotalExtracted() int {
	total := 0
	for _, c := range r.Dimensions {
		total += c.Extracted
	}
	for _, c := range r.Facts {
		total += c.Extracted
	}
	return total
}

// TotalInserted sums inserted counts across dimensions and facts.
func (r *RunResult) TotalInserted() int {
	total := 0
	for _, c := range r.Dimensions {
		total += c.Inserted
	}
	for _, c := range r.Facts {
		total += c.Inserted
	}
	return total
}
