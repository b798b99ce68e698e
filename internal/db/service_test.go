package db

import (
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwflow/pkg/models"
)

func TestNewService(t *testing.T) {
	service := NewService("oltp", testConnConfig())

	assert.NotNil(t, service)
	assert.False(t, service.connected)
	assert.Nil(t, service.DB())
}

func TestCountTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewServiceWithDB("oltp", db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME IN").
		WithArgs("tiempo", "ventas", "clientes").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := service.CountTables(t.Context(), []string{"tiempo", "ventas", "clientes"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountTablesLike(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewServiceWithDB("warehouse", db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME LIKE \\? OR TABLE_NAME LIKE \\?").
		WithArgs("dim_%", "fact_%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(14))

	count, err := service.CountTablesLike(t.Context(), "dim_%", "fact_%")
	require.NoError(t, err)
	assert.Equal(t, 14, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewServiceWithDB("oltp", db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM tiempo").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1461))

	count, err := service.RowCount(t.Context(), "tiempo")
	require.NoError(t, err)
	assert.Equal(t, 1461, count)
}

func TestRowCountError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewServiceWithDB("oltp", db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ventas").
		WillReturnError(fmt.Errorf("table gone"))

	_, err = service.RowCount(t.Context(), "ventas")
	assert.Error(t, err)
}

func TestHelpersRequireConnection(t *testing.T) {
	service := NewService("oltp", testConnConfig())

	_, err := service.CountTables(t.Context(), []string{"tiempo"})
	assert.Error(t, err)

	_, err = service.RowCount(t.Context(), "tiempo")
	assert.Error(t, err)

	assert.Error(t, service.Ping(t.Context()))
}

func TestCloseWithoutConnect(t *testing.T) {
	service := NewService("warehouse", testConnConfig())
	assert.NoError(t, service.Close())
}

func testConnConfig() models.ConnectionConfig {
	return models.ConnectionConfig{
		Driver: "mysql",
		DSN:    "user:pw@tcp(localhost:3306)/test",
	}
}
