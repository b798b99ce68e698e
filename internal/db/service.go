package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/snowflakedb/gosnowflake"

	"dwflow/pkg/errors"
	"dwflow/pkg/models"
)

// Service wraps one database/sql connection (OLTP or warehouse) with the
// helpers the pipeline needs: guarded connect, existence checks and row
// counts for prerequisite validation.
type Service struct {
	db             *sql.DB
	config         models.ConnectionConfig
	role           string
	connected      bool
	circuitBreaker *errors.CircuitBreaker
}

// NewService creates a service for the given connection. The role string
// ("oltp" or "warehouse") only labels errors and the circuit breaker.
func NewService(role string, config models.ConnectionConfig) *Service {
	return &Service{
		config:         config,
		role:           role,
		circuitBreaker: errors.NewCircuitBreaker(role, 5, 30*time.Second),
	}
}

// NewServiceWithDB wraps an existing handle, used by tests and by callers
// that manage the connection themselves.
func NewServiceWithDB(role string, db *sql.DB) *Service {
	s := NewService(role, models.ConnectionConfig{})
	s.db = db
	s.connected = true
	return s
}

// Connect opens and pings the connection.
func (s *Service) Connect() error {
	if s.connected {
		return nil
	}

	return s.circuitBreaker.Execute(context.Background(), func() error {
		return errors.RetryWithBackoff(context.Background(), func(ctx context.Context) error {
			db, err := sql.Open(s.config.Driver, s.config.DSN)
			if err != nil {
				return errors.ConnectionError(
					fmt.Sprintf("Failed to open %s connection", s.role), err).
					WithContext("driver", s.config.Driver)
			}

			// Single sequential pipeline run; one connection is enough and
			// keeps table-level truncate locks predictable.
			db.SetMaxOpenConns(1)
			db.SetConnMaxLifetime(time.Hour)

			pingCtx, cancel := s.getContext()
			defer cancel()

			if err := db.PingContext(pingCtx); err != nil {
				db.Close()

				if strings.Contains(err.Error(), "Access denied") ||
					strings.Contains(err.Error(), "authentication") {
					return errors.New(errors.ErrCodeAuthenticationFailed,
						fmt.Sprintf("Authentication failed for %s connection", s.role)).
						WithSuggestions(
							"Verify the username and password in the config",
							"Check that the database role grants access",
						)
				}

				return errors.ConnectionError(
					fmt.Sprintf("Failed to connect to %s database", s.role), err).
					AsRecoverable()
			}

			s.db = db
			s.connected = true
			return nil
		})
	})
}

// Close closes the database connection.
func (s *Service) Close() error {
	if !s.connected {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close %s connection: %w", s.role, err)
	}

	s.connected = false
	return nil
}

// Connected reports whether Connect succeeded.
func (s *Service) Connected() bool {
	return s.connected
}

// DB returns the underlying handle for the loaders.
func (s *Service) DB() *sql.DB {
	return s.db
}

// Ping verifies the connection is alive.
func (s *Service) Ping(ctx context.Context) error {
	if !s.connected {
		return errors.New(errors.ErrCodeConnectionFailed,
			fmt.Sprintf("%s connection not established", s.role))
	}
	return s.db.PingContext(ctx)
}

// CountTables returns how many of the named tables exist in the current
// database, via INFORMATION_SCHEMA.
func (s *Service) CountTables(ctx context.Context, names []string) (int, error) {
	if !s.connected {
		return 0, errors.New(errors.ErrCodeConnectionFailed,
			fmt.Sprintf("%s connection not established", s.role))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME IN (%s)",
		placeholders,
	)

	args := make([]interface{}, len(names))
	for i, n := range names {
		args[i] = n
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.SQLError("Failed to query INFORMATION_SCHEMA", query, err)
	}
	return count, nil
}

// CountTablesLike returns how many tables match any of the LIKE patterns.
func (s *Service) CountTablesLike(ctx context.Context, patterns ...string) (int, error) {
	if !s.connected {
		return 0, errors.New(errors.ErrCodeConnectionFailed,
			fmt.Sprintf("%s connection not established", s.role))
	}

	conds := make([]string, len(patterns))
	args := make([]interface{}, len(patterns))
	for i, p := range patterns {
		conds[i] = "TABLE_NAME LIKE ?"
		args[i] = p
	}
	query := "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE " +
		strings.Join(conds, " OR ")

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.SQLError("Failed to query INFORMATION_SCHEMA", query, err)
	}
	return count, nil
}

// RowCount counts rows in a table. Table names come from the fixed schema
// lists in this repository, never from user input.
func (s *Service) RowCount(ctx context.Context, table string) (int, error) {
	if !s.connected {
		return 0, errors.New(errors.ErrCodeConnectionFailed,
			fmt.Sprintf("%s connection not established", s.role))
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errors.SQLError("Failed to count rows", query, err).
			WithContext("table", table)
	}
	return count, nil
}

func (s *Service) getContext() (context.Context, context.CancelFunc) {
	timeout := s.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
