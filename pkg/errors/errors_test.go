package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeValidationFailed, "missing tables")

	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, "missing tables", err.Message)
	assert.Equal(t, SeverityError, err.Severity)
	assert.False(t, err.Recoverable)
	assert.NotEmpty(t, err.Stack)
}

func TestWrap(t *testing.T) {
	t.Run("wraps plain error", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := Wrap(cause, ErrCodeConnectionFailed, "cannot reach warehouse")

		assert.Equal(t, cause, err.Cause)
		assert.Equal(t, cause, errors.Unwrap(err))
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("nil cause returns nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, ErrCodeInternal, "whatever"))
	})

	t.Run("inherits context from wrapped AppError", func(t *testing.T) {
		inner := New(ErrCodeSQLExecution, "insert failed").WithContext("table", "fact_ventas")
		outer := Wrap(inner, ErrCodeFactLoad, "fact load aborted")

		assert.Equal(t, "fact_ventas", outer.Context["table"])
	})
}

func TestErrorIs(t *testing.T) {
	a := New(ErrCodeCleanupFailed, "first")
	b := New(ErrCodeCleanupFailed, "second")
	c := New(ErrCodeFactLoad, "other")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWithBuilders(t *testing.T) {
	err := New(ErrCodeMissingTable, "table not found").
		WithContext("table", "dim_tiempo").
		WithSeverity(SeverityCritical).
		WithSuggestions("create the warehouse schema first").
		AsRecoverable()

	assert.Equal(t, "dim_tiempo", err.Context["table"])
	assert.Equal(t, SeverityCritical, err.Severity)
	assert.Len(t, err.Suggestions, 1)
	assert.True(t, err.Recoverable)
	assert.Contains(t, err.Error(), "create the warehouse schema first")
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     ErrorCode
		severity ErrorSeverity
	}{
		{
			name:     "connection",
			err:      ConnectionError("cannot open OLTP connection", fmt.Errorf("dial tcp: refused")),
			code:     ErrCodeConnectionFailed,
			severity: SeverityCritical,
		},
		{
			name:     "validation",
			err:      ValidationError("tiempo table is empty"),
			code:     ErrCodeValidationFailed,
			severity: SeverityCritical,
		},
		{
			name:     "cleanup",
			err:      CleanupError("dim_cliente", fmt.Errorf("permission denied")),
			code:     ErrCodeCleanupFailed,
			severity: SeverityCritical,
		},
		{
			name:     "audit",
			err:      AuditError("cannot persist run record", fmt.Errorf("disk full")),
			code:     ErrCodeAuditWrite,
			severity: SeverityError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.severity, tt.err.Severity)
		})
	}
}

func TestSQLErrorTimeoutDetection(t *testing.T) {
	err := SQLError("query failed", "SELECT COUNT(*) FROM ventas", fmt.Errorf("i/o timeout"))
	assert.Equal(t, ErrCodeSQLTimeout, err.Code)
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeFactLoad, GetErrorCode(New(ErrCodeFactLoad, "x")))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(fmt.Errorf("plain")))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(New(ErrCodeTimeout, "x").AsRecoverable()))
	assert.False(t, IsRecoverable(New(ErrCodeTimeout, "x")))
	assert.False(t, IsRecoverable(fmt.Errorf("plain")))
}

func TestCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("warehouse", 2, 50*time.Millisecond)
	failing := func() error { return fmt.Errorf("boom") }

	// Two failures open the circuit.
	assert.Error(t, cb.Execute(t.Context(), failing))
	assert.Error(t, cb.Execute(t.Context(), failing))
	assert.Equal(t, "open", cb.GetState())

	// While open, calls are rejected without executing.
	err := cb.Execute(t.Context(), func() error {
		t.Fatal("should not run while circuit is open")
		return nil
	})
	assert.Equal(t, ErrCodeServiceUnavailable, GetErrorCode(err))

	// After the reset timeout the circuit half-opens and recovers on success.
	time.Sleep(60 * time.Millisecond)
	assert.NoError(t, cb.Execute(t.Context(), func() error { return nil }))
	assert.Equal(t, "closed", cb.GetState())
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := &RetryConfig{
		MaxRetries:     3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		RetryableError: func(error) bool { return true },
	}

	attempts := 0
	err := Retry(t.Context(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond

	attempts := 0
	err := Retry(t.Context(), cfg, func(ctx context.Context) error {
		attempts++
		return New(ErrCodeValidationFailed, "fatal")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
