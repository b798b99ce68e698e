package fact

import (
	"context"
	"database/sql"
	"strings"

	"dwflow/pkg/errors"
)

// DeviceKey identifies one dim_dispositivo row by its natural key. NULL
// components collapse to the empty string on both sides of the lookup.
type DeviceKey struct {
	TipoDispositivo  string
	Dispositivo      string
	SistemaOperativo string
}

// NewDeviceKey builds a lookup key from nullable OLTP columns.
func NewDeviceKey(tipo, dispositivo, sistemaOperativo sql.NullString) DeviceKey {
	return DeviceKey{
		TipoDispositivo:  strings.ToUpper(tipo.String),
		Dispositivo:      strings.ToUpper(dispositivo.String),
		SistemaOperativo: strings.ToUpper(sistemaOperativo.String),
	}
}

// Lookups is a read-only snapshot of the dimension surrogate keys taken
// after the dimension load. Facts in the same run must resolve against this
// snapshot: surrogate keys are reassigned on every reload, so a stale or
// live lookup would mix key generations.
type Lookups struct {
	estadoVenta map[string]int64
	metodoPago  map[string]int64
	dispositivo map[DeviceKey]int64
	navegador   map[string]int64
	tipoEvento  map[string]int64
}

// LoadLookups reads the five lookup dimensions from the warehouse.
func LoadLookups(ctx context.Context, dw *sql.DB) (*Lookups, error) {
	lk := &Lookups{
		estadoVenta: make(map[string]int64),
		metodoPago:  make(map[string]int64),
		dispositivo: make(map[DeviceKey]int64),
		navegador:   make(map[string]int64),
		tipoEvento:  make(map[string]int64),
	}

	stringMaps := []struct {
		query string
		dest  map[string]int64
	}{
		{"SELECT estado_venta_id, estado_venta FROM dim_estado_venta", lk.estadoVenta},
		{"SELECT metodo_pago_id, metodo_pago FROM dim_metodo_pago", lk.metodoPago},
		{"SELECT navegador_id, navegador FROM dim_navegador", lk.navegador},
		{"SELECT tipo_evento_id, tipo_evento FROM dim_tipo_evento", lk.tipoEvento},
	}
	for _, m := range stringMaps {
		if err := loadStringMap(ctx, dw, m.query, m.dest); err != nil {
			return nil, err
		}
	}

	rows, err := dw.QueryContext(ctx,
		"SELECT dispositivo_id, tipo_dispositivo, dispositivo, sistema_operativo FROM dim_dispositivo")
	if err != nil {
		return nil, errors.SQLError("Failed to load dispositivo lookup", "dim_dispositivo", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var tipo, dispositivo, so sql.NullString
		if err := rows.Scan(&id, &tipo, &dispositivo, &so); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan dispositivo lookup row")
		}
		lk.dispositivo[NewDeviceKey(tipo, dispositivo, so)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, errors.SQLError("Failed reading dispositivo lookup", "dim_dispositivo", err)
	}

	return lk, nil
}

func loadStringMap(ctx context.Context, dw *sql.DB, query string, dest map[string]int64) error {
	rows, err := dw.QueryContext(ctx, query)
	if err != nil {
		return errors.SQLError("Failed to load dimension lookup", query, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan lookup row")
		}
		dest[strings.ToUpper(value)] = id
	}
	return rows.Err()
}

// EstadoVenta resolves a sale status to its surrogate key.
func (lk *Lookups) EstadoVenta(estado string) (int64, bool) {
	id, ok := lk.estadoVenta[strings.ToUpper(estado)]
	return id, ok
}

// MetodoPago resolves a payment method to its surrogate key.
func (lk *Lookups) MetodoPago(metodo string) (int64, bool) {
	id, ok := lk.metodoPago[strings.ToUpper(metodo)]
	return id, ok
}

// Dispositivo resolves a device tuple to its surrogate key.
func (lk *Lookups) Dispositivo(key DeviceKey) (int64, bool) {
	id, ok := lk.dispositivo[key]
	return id, ok
}

// Navegador resolves a browser name to its surrogate key.
func (lk *Lookups) Navegador(navegador string) (int64, bool) {
	id, ok := lk.navegador[strings.ToUpper(navegador)]
	return id, ok
}

// TipoEvento resolves an event type to its surrogate key.
func (lk *Lookups) TipoEvento(tipoEvento string) (int64, bool) {
	id, ok := lk.tipoEvento[strings.ToUpper(tipoEvento)]
	return id, ok
}
