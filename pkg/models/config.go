package models

import "time"

// Config is the on-disk configuration for dwflow.
type Config struct {
	OLTP      ConnectionConfig `yaml:"oltp"`
	Warehouse ConnectionConfig `yaml:"warehouse"`
	Tuning    TuningConfig     `yaml:"tuning"`
}

// ConnectionConfig describes one database/sql connection.
type ConnectionConfig struct {
	Driver   string        `yaml:"driver"` // "mysql" or "snowflake"
	DSN      string        `yaml:"dsn"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TuningConfig holds the batching and checkpoint knobs. The defaults are
// the values observed to keep transaction-log growth bounded on the
// reference dataset; they are tunables, not requirements.
type TuningConfig struct {
	DimensionBatchSize   int     `yaml:"dimension_batch_size"`
	FactBatchSize        int     `yaml:"fact_batch_size"`
	CommitInterval       int     `yaml:"commit_interval"`
	CheckpointInterval   int     `yaml:"checkpoint_interval"`
	ReconcileTolerance   float64 `yaml:"reconcile_tolerance"`
}

// DefaultTuning returns the default tuning values.
func DefaultTuning() TuningConfig {
	return TuningConfig{
		DimensionBatchSize: 1000,
		FactBatchSize:      5000,
		CommitInterval:     10000,
		CheckpointInterval: 20000,
		ReconcileTolerance: 0.01,
	}
}

// Normalize fills zero-valued tuning fields with defaults.
func (t TuningConfig) Normalize() TuningConfig {
	def := DefaultTuning()
	if t.DimensionBatchSize <= 0 {
		t.DimensionBatchSize = def.DimensionBatchSize
	}
	if t.FactBatchSize <= 0 {
		t.FactBatchSize = def.FactBatchSize
	}
	if t.CommitInterval <= 0 {
		t.CommitInterval = def.CommitInterval
	}
	if t.CheckpointInterval <= 0 {
		t.CheckpointInterval = def.CheckpointInterval
	}
	if t.ReconcileTolerance <= 0 {
		t.ReconcileTolerance = def.ReconcileTolerance
	}
	return t
}
