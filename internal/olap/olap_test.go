package olap

import (
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwflow/pkg/errors"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewService(db), mock
}

func summaryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"dimension_value", "cantidad_ordenes", "clientes_unicos", "total_unidades",
		"total_ventas", "promedio_por_orden", "total_margen", "margen_porcentaje", "total_impuesto",
	})
}

func TestSalesByProvinceBindsFilterValue(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("WHERE g.provincia = \\?").
		WithArgs("SAN JOSÉ").
		WillReturnRows(summaryRows().
			AddRow("SAN JOSÉ", 120, 75, 600, 45000.50, 375.0, 9000.10, 20.0, 5850.07))

	summary, err := svc.SalesByProvince(t.Context(), "SAN JOSÉ")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "SAN JOSÉ", summary.Dimension)
	assert.Equal(t, 120, summary.Orders)
	assert.Equal(t, 75, summary.UniqueCustomers)
	assert.Equal(t, 45000.50, summary.TotalSales)
	assert.Equal(t, 20.0, summary.MarginPercent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSalesByCategoryNoRows(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("WHERE pr.categoria = \\?").
		WithArgs("NO EXISTE").
		WillReturnRows(summaryRows())

	summary, err := svc.SalesByCategory(t.Context(), "NO EXISTE")
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSalesByWarehouseQueryError(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("WHERE a.nombre_almacen = \\?").
		WithArgs("BODEGA CENTRAL").
		WillReturnError(fmt.Errorf("table not found"))

	_, err := svc.SalesByWarehouse(t.Context(), "BODEGA CENTRAL")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSQLExecution, errors.GetErrorCode(err))
}

func TestSalesByYearBindsYear(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("WHERE t.anio_cal = \\?").
		WithArgs(2024).
		WillReturnRows(summaryRows().
			AddRow("2024", 900, 400, 4500, 310000.0, 344.44, 62000.0, 20.0, 40300.0))

	summary, err := svc.SalesByYear(t.Context(), 2024)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "2024", summary.Dimension)
	assert.Equal(t, 900, summary.Orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMonthlySales(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("GROUP BY t.mes_cal, t.mes_nombre").
		WithArgs(2024).
		WillReturnRows(sqlmock.NewRows([]string{
			"mes_cal", "mes_nombre", "cantidad_ordenes", "total_unidades", "total_ventas", "total_margen",
		}).
			AddRow(1, "ENERO", 80, 400, 26000.0, 5200.0).
			AddRow(2, "FEBRERO", 95, 470, 31000.0, 6100.0))

	months, err := svc.MonthlySales(t.Context(), 2024)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, "ENERO", months[0].MonthName)
	assert.Equal(t, 1, months[0].MonthNumber)
	assert.Equal(t, 31000.0, months[1].TotalSales)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversionFunnel(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("FROM fact_comportamiento_web fc").
		WithArgs(2024).
		WillReturnRows(sqlmock.NewRows([]string{
			"tipo_evento", "categoria_evento", "es_conversion", "eventos", "clientes",
		}).
			AddRow("PAGINA_VISTA", "Navegación", false, 10000, 2500).
			AddRow("VENTA_COMPLETADA", "Transacción", true, 800, 600))

	funnel, err := svc.ConversionFunnel(t.Context(), 2024)
	require.NoError(t, err)
	require.Len(t, funnel, 2)
	assert.False(t, funnel[0].IsConversion)
	assert.True(t, funnel[1].IsConversion)
	assert.Equal(t, 800, funnel[1].Events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopSearchActivityBindsYearAndLimit(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("FROM fact_busquedas fb").
		WithArgs(2024, 5).
		WillReturnRows(sqlmock.NewRows([]string{
			"tipo_dispositivo", "busquedas", "resultados_promedio", "tasa_reconocidos", "tasa_conversion",
		}).
			AddRow("MOVIL", 5400, 11.3, 62.5, 4.1))

	activity, err := svc.TopSearchActivity(t.Context(), 2024, 5)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, "MOVIL", activity[0].DeviceType)
	assert.Equal(t, 5400, activity[0].Searches)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSalesByPaymentMethod(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("FROM dim_metodo_pago mp|INNER JOIN dim_metodo_pago mp").
		WillReturnRows(sqlmock.NewRows([]string{"tipo_pago", "cantidad_ordenes", "total_ventas"}).
			AddRow("Tarjeta", 600, 180000.0).
			AddRow("Transferencia", 250, 70000.0).
			AddRow("Digital", 90, 20000.0))

	payments, err := svc.SalesByPaymentMethod(t.Context())
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, "Tarjeta", payments[0].PaymentType)
	assert.Equal(t, 180000.0, payments[0].TotalSales)
	assert.NoError(t, mock.ExpectationsWereMet())
}
