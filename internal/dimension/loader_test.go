package dimension

import (
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwflow/internal/audit"
	"dwflow/pkg/errors"
	"dwflow/pkg/models"
)

func newTestLoader(t *testing.T) (*Loader, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()

	oltp, oltpMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { oltp.Close() })

	dw, dwMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { dw.Close() })

	loader := NewLoader(oltp, dw, audit.NewLogger(dw), models.DefaultTuning())
	return loader, oltpMock, dwMock
}

func TestCleanTableTruncates(t *testing.T) {
	loader, _, dwMock := newTestLoader(t)

	dwMock.ExpectExec("TRUNCATE TABLE dim_producto").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := loader.cleanTable(t.Context(), "dim_producto")
	require.NoError(t, err)
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestCleanTableFallsBackToDelete(t *testing.T) {
	loader, _, dwMock := newTestLoader(t)

	dwMock.ExpectExec("TRUNCATE TABLE dim_geografia").
		WillReturnError(fmt.Errorf("TRUNCATE permission denied"))
	dwMock.ExpectExec("DELETE FROM dim_geografia").
		WillReturnResult(sqlmock.NewResult(0, 84))

	err := loader.cleanTable(t.Context(), "dim_geografia")
	require.NoError(t, err)
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestCleanTableBothFail(t *testing.T) {
	loader, _, dwMock := newTestLoader(t)

	dwMock.ExpectExec("TRUNCATE TABLE fact_ventas").
		WillReturnError(fmt.Errorf("no truncate for you"))
	dwMock.ExpectExec("DELETE FROM fact_ventas").
		WillReturnError(fmt.Errorf("table is locked"))

	err := loader.cleanTable(t.Context(), "fact_ventas")
	require.Error(t, err)

	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeCleanupFailed, appErr.Code)
	assert.Equal(t, "fact_ventas", appErr.Context["table"])
}

func TestCleanAllOrdersFactsBeforeDimensions(t *testing.T) {
	loader, _, dwMock := newTestLoader(t)
	dwMock.MatchExpectationsInOrder(true)

	for _, table := range FactTables {
		dwMock.ExpectExec("TRUNCATE TABLE " + table).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for _, table := range DimensionTables {
		dwMock.ExpectExec("TRUNCATE TABLE " + table).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	err := loader.CleanAll(t.Context())
	require.NoError(t, err)
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestCleanAllStopsOnFirstFailure(t *testing.T) {
	loader, _, dwMock := newTestLoader(t)

	dwMock.ExpectExec("TRUNCATE TABLE fact_ventas").
		WillReturnError(fmt.Errorf("truncate denied"))
	dwMock.ExpectExec("DELETE FROM fact_ventas").
		WillReturnError(fmt.Errorf("delete denied"))

	err := loader.CleanAll(t.Context())
	require.Error(t, err)
	// No further cleanup statements expected past the failing table.
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestInsertRowsBatches(t *testing.T) {
	loader, _, dwMock := newTestLoader(t)

	rows := [][]interface{}{
		{"A"}, {"B"}, {"C"}, {"D"}, {"E"},
	}

	// Five rows with batch size two means three transactions.
	for _, batch := range [][]string{{"A", "B"}, {"C", "D"}, {"E"}} {
		dwMock.ExpectBegin()
		prep := dwMock.ExpectPrepare("INSERT INTO dim_navegador")
		for _, v := range batch {
			prep.ExpectExec().WithArgs(v).WillReturnResult(sqlmock.NewResult(0, 1))
		}
		dwMock.ExpectCommit()
	}

	inserted, err := loader.insertRows(t.Context(), "INSERT INTO dim_navegador (navegador) VALUES (?)", rows, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, inserted)
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestInsertRowsRollsBackFailedBatch(t *testing.T) {
	loader, _, dwMock := newTestLoader(t)

	dwMock.ExpectBegin()
	prep := dwMock.ExpectPrepare("INSERT INTO dim_navegador")
	prep.ExpectExec().WithArgs("A").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("B").WillReturnError(fmt.Errorf("duplicate key"))
	dwMock.ExpectRollback()

	inserted, err := loader.insertRows(t.Context(),
		"INSERT INTO dim_navegador (navegador) VALUES (?)",
		[][]interface{}{{"A"}, {"B"}}, 0)
	require.Error(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, errors.ErrCodeSQLExecution, errors.GetErrorCode(err))
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestLoadMetodoPago(t *testing.T) {
	loader, oltpMock, dwMock := newTestLoader(t)

	oltpMock.ExpectQuery("SELECT DISTINCT").
		WillReturnRows(sqlmock.NewRows([]string{"metodo_pago"}).
			AddRow("TARJETA_CREDITO").
			AddRow("SINPE_MOVIL").
			AddRow("PAYPAL"))

	dwMock.ExpectBegin()
	prep := dwMock.ExpectPrepare("INSERT INTO dim_metodo_pago")
	prep.ExpectExec().WithArgs("TARJETA_CREDITO", nil, "Tarjeta").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("SINPE_MOVIL", nil, "Transferencia").WillReturnResult(sqlmock.NewResult(2, 1))
	prep.ExpectExec().WithArgs("PAYPAL", nil, "Digital").WillReturnResult(sqlmock.NewResult(3, 1))
	dwMock.ExpectCommit()

	count, err := loader.loadMetodoPago(t.Context())
	require.NoError(t, err)
	assert.Equal(t, models.LoadCount{Extracted: 3, Inserted: 3}, count)
	assert.NoError(t, oltpMock.ExpectationsWereMet())
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestLoadEstadoVentaClassifies(t *testing.T) {
	loader, oltpMock, dwMock := newTestLoader(t)

	oltpMock.ExpectQuery("SELECT DISTINCT").
		WillReturnRows(sqlmock.NewRows([]string{"estado_venta"}).
			AddRow("COMPLETADA").
			AddRow("CANCELADA"))

	dwMock.ExpectBegin()
	prep := dwMock.ExpectPrepare("INSERT INTO dim_estado_venta")
	prep.ExpectExec().WithArgs("COMPLETADA", nil, 1).WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("CANCELADA", nil, 0).WillReturnResult(sqlmock.NewResult(2, 1))
	dwMock.ExpectCommit()

	count, err := loader.loadEstadoVenta(t.Context())
	require.NoError(t, err)
	assert.Equal(t, models.LoadCount{Extracted: 2, Inserted: 2}, count)
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestLoadTipoEventoClassifies(t *testing.T) {
	loader, oltpMock, dwMock := newTestLoader(t)

	oltpMock.ExpectQuery("SELECT DISTINCT").
		WillReturnRows(sqlmock.NewRows([]string{"tipo_evento"}).
			AddRow("VENTA_COMPLETADA").
			AddRow("PAGINA_VISTA"))

	dwMock.ExpectBegin()
	prep := dwMock.ExpectPrepare("INSERT INTO dim_tipo_evento")
	prep.ExpectExec().WithArgs("VENTA_COMPLETADA", "Transacción", nil, 1).WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("PAGINA_VISTA", "Navegación", nil, 0).WillReturnResult(sqlmock.NewResult(2, 1))
	dwMock.ExpectCommit()

	count, err := loader.loadTipoEvento(t.Context())
	require.NoError(t, err)
	assert.Equal(t, models.LoadCount{Extracted: 2, Inserted: 2}, count)
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestLoadDispositivoDeduplicates(t *testing.T) {
	loader, oltpMock, dwMock := newTestLoader(t)

	oltpMock.ExpectQuery("SELECT DISTINCT").
		WillReturnRows(sqlmock.NewRows([]string{"tipo_dispositivo", "dispositivo", "sistema_operativo"}).
			AddRow("MOVIL", "IPHONE 15", "IOS").
			AddRow("MOVIL", "IPHONE 15", "IOS").
			AddRow("ESCRITORIO", "PC", "WINDOWS"))

	dwMock.ExpectBegin()
	prep := dwMock.ExpectPrepare("INSERT INTO dim_dispositivo")
	prep.ExpectExec().WithArgs("MOVIL", "IPHONE 15", "IOS").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("ESCRITORIO", "PC", "WINDOWS").WillReturnResult(sqlmock.NewResult(2, 1))
	dwMock.ExpectCommit()

	count, err := loader.loadDispositivo(t.Context())
	require.NoError(t, err)
	assert.Equal(t, models.LoadCount{Extracted: 2, Inserted: 2}, count)
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestLoadNavegadorSetsWebType(t *testing.T) {
	loader, oltpMock, dwMock := newTestLoader(t)

	oltpMock.ExpectQuery("SELECT DISTINCT").
		WillReturnRows(sqlmock.NewRows([]string{"navegador"}).
			AddRow("CHROME").
			AddRow("FIREFOX"))

	dwMock.ExpectBegin()
	prep := dwMock.ExpectPrepare("INSERT INTO dim_navegador")
	prep.ExpectExec().WithArgs("CHROME", "Web").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("FIREFOX", "Web").WillReturnResult(sqlmock.NewResult(2, 1))
	dwMock.ExpectCommit()

	count, err := loader.loadNavegador(t.Context())
	require.NoError(t, err)
	assert.Equal(t, models.LoadCount{Extracted: 2, Inserted: 2}, count)
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestLoadClienteNormalizesSentinelDates(t *testing.T) {
	loader, oltpMock, dwMock := newTestLoader(t)

	registered := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	firstBuy := time.Date(2023, 7, 4, 0, 0, 0, 0, time.UTC)
	sentinel := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

	oltpMock.ExpectQuery("FROM clientes c").
		WillReturnRows(sqlmock.NewRows([]string{
			"cliente_id", "nombre_cliente", "apellido_cliente",
			"correo_electronico", "telefono", "numero_cedula",
			"provincia_id", "canton_id", "distrito_id",
			"provincia", "canton", "distrito", "direccion",
			"fecha_creacion", "fecha_primer_compra", "fecha_ultimo_compra", "activo",
		}).
			AddRow(1, "ANA", "MORA", "ANA@EXAMPLE.COM", "8888-1111", "1-1111-1111",
				1, 101, 10101, "SAN JOSÉ", "CENTRAL", "CARMEN", "Avenida 2",
				registered, firstBuy, firstBuy, 1).
			AddRow(2, "LUIS", "SOTO", "LUIS@EXAMPLE.COM", nil, nil,
				2, 201, 20101, "ALAJUELA", "CENTRAL", "ALAJUELA", nil,
				registered, sentinel, nil, 1).
			AddRow(3, "RITA", "VEGA", "RITA@EXAMPLE.COM", nil, nil,
				3, 301, 30101, "CARTAGO", "CENTRAL", "ORIENTAL", nil,
				nil, nil, nil, 1))

	dwMock.ExpectBegin()
	prep := dwMock.ExpectPrepare("INSERT INTO dim_cliente")
	prep.ExpectExec().
		WithArgs(int64(1), "ANA", "MORA", "ANA@EXAMPLE.COM", "8888-1111", "1-1111-1111",
			int64(1), int64(101), int64(10101), "SAN JOSÉ", "CENTRAL", "CARMEN", "Avenida 2",
			registered, firstBuy, firstBuy, true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(int64(2), "LUIS", "SOTO", "LUIS@EXAMPLE.COM", nil, nil,
			int64(2), int64(201), int64(20101), "ALAJUELA", "CENTRAL", "ALAJUELA", nil,
			registered, nil, nil, true).
		WillReturnResult(sqlmock.NewResult(2, 1))
	// A NULL fecha_creacion must stay NULL, not collapse to the zero time.
	prep.ExpectExec().
		WithArgs(int64(3), "RITA", "VEGA", "RITA@EXAMPLE.COM", nil, nil,
			int64(3), int64(301), int64(30101), "CARTAGO", "CENTRAL", "ORIENTAL", nil,
			nil, nil, nil, true).
		WillReturnResult(sqlmock.NewResult(3, 1))
	dwMock.ExpectCommit()

	count, err := loader.loadCliente(t.Context())
	require.NoError(t, err)
	assert.Equal(t, models.LoadCount{Extracted: 3, Inserted: 3}, count)
	assert.NoError(t, oltpMock.ExpectationsWereMet())
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestRunStepRecordsAuditFailure(t *testing.T) {
	loader, oltpMock, dwMock := newTestLoader(t)

	dwMock.ExpectExec("INSERT INTO etl_logs").
		WithArgs("LOAD_DIM_METODO_PAGO", "dim_metodo_pago", sqlmock.AnyArg(), "INICIADO").
		WillReturnResult(sqlmock.NewResult(11, 1))

	oltpMock.ExpectQuery("SELECT DISTINCT").
		WillReturnError(fmt.Errorf("connection reset"))

	dwMock.ExpectExec("UPDATE etl_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 0, 0, 0, 0, "ERROR", sqlmock.AnyArg(), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := loader.runStep(t.Context(), dimensionStep{
		name:    "dim_metodo_pago",
		process: "LOAD_DIM_METODO_PAGO",
		table:   "dim_metodo_pago",
		load:    loader.loadMetodoPago,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDimensionLoad, errors.GetErrorCode(err))
	assert.NoError(t, dwMock.ExpectationsWereMet())
}

func TestRunStepRecordsAuditSuccess(t *testing.T) {
	loader, oltpMock, dwMock := newTestLoader(t)

	dwMock.ExpectExec("INSERT INTO etl_logs").
		WithArgs("LOAD_DIM_NAVEGADOR", "dim_navegador", sqlmock.AnyArg(), "INICIADO").
		WillReturnResult(sqlmock.NewResult(5, 1))

	oltpMock.ExpectQuery("SELECT DISTINCT").
		WillReturnRows(sqlmock.NewRows([]string{"navegador"}).AddRow("CHROME"))

	dwMock.ExpectBegin()
	prep := dwMock.ExpectPrepare("INSERT INTO dim_navegador")
	prep.ExpectExec().WithArgs("CHROME", "Web").WillReturnResult(sqlmock.NewResult(1, 1))
	dwMock.ExpectCommit()

	dwMock.ExpectExec("UPDATE etl_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 1, 1, 0, 0, "COMPLETADO", nil, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := loader.runStep(t.Context(), dimensionStep{
		name:    "dim_navegador",
		process: "LOAD_DIM_NAVEGADOR",
		table:   "dim_navegador",
		load:    loader.loadNavegador,
	})
	require.NoError(t, err)
	assert.Equal(t, models.LoadCount{Extracted: 1, Inserted: 1}, count)
	assert.NoError(t, dwMock.ExpectationsWereMet())
}
