package fact

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectLookupQueries(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT estado_venta_id, estado_venta FROM dim_estado_venta").
		WillReturnRows(sqlmock.NewRows([]string{"estado_venta_id", "estado_venta"}).
			AddRow(1, "COMPLETADA").
			AddRow(2, "CANCELADA"))
	mock.ExpectQuery("SELECT metodo_pago_id, metodo_pago FROM dim_metodo_pago").
		WillReturnRows(sqlmock.NewRows([]string{"metodo_pago_id", "metodo_pago"}).
			AddRow(1, "TARJETA_CREDITO"))
	mock.ExpectQuery("SELECT navegador_id, navegador FROM dim_navegador").
		WillReturnRows(sqlmock.NewRows([]string{"navegador_id", "navegador"}).
			AddRow(1, "CHROME"))
	mock.ExpectQuery("SELECT tipo_evento_id, tipo_evento FROM dim_tipo_evento").
		WillReturnRows(sqlmock.NewRows([]string{"tipo_evento_id", "tipo_evento"}).
			AddRow(1, "VENTA_COMPLETADA"))
	mock.ExpectQuery("SELECT dispositivo_id, tipo_dispositivo, dispositivo, sistema_operativo FROM dim_dispositivo").
		WillReturnRows(sqlmock.NewRows([]string{"dispositivo_id", "tipo_dispositivo", "dispositivo", "sistema_operativo"}).
			AddRow(1, "MOVIL", "IPHONE 15", "IOS").
			AddRow(2, "ESCRITORIO", nil, "WINDOWS"))
}

func TestLoadLookups(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectLookupQueries(mock)

	lk, err := LoadLookups(t.Context(), db)
	require.NoError(t, err)

	id, ok := lk.EstadoVenta("completada")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	id, ok = lk.MetodoPago("TARJETA_CREDITO")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	_, ok = lk.MetodoPago("BITCOIN")
	assert.False(t, ok)

	id, ok = lk.Navegador("chrome")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	id, ok = lk.TipoEvento("venta_completada")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)

	// NULL device name in the dimension still resolves via empty string.
	id, ok = lk.Dispositivo(DeviceKey{TipoDispositivo: "ESCRITORIO", SistemaOperativo: "WINDOWS"})
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDeviceKey(t *testing.T) {
	key := NewDeviceKey(
		sql.NullString{String: "movil", Valid: true},
		sql.NullString{},
		sql.NullString{String: "Android", Valid: true},
	)

	assert.Equal(t, DeviceKey{
		TipoDispositivo:  "MOVIL",
		Dispositivo:      "",
		SistemaOperativo: "ANDROID",
	}, key)
}
