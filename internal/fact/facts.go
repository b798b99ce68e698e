package fact

import (
	"context"
	"database/sql"
	"time"

	"dwflow/internal/dimension"
	"dwflow/pkg/errors"
	"dwflow/pkg/models"
)

const extractVentasSQL = `
SELECT
    v.fecha_venta,
    dv.producto_id,
    v.cliente_id,
    c.provincia_id,
    c.canton_id,
    c.distrito_id,
    v.almacen_id,
    v.estado_venta,
    v.metodo_pago,
    v.venta_id,
    dv.detalle_venta_id,
    dv.cantidad,
    dv.precio_unitario,
    dv.costo_unitario,
    dv.descuento_porcentaje,
    dv.descuento_monto,
    dv.subtotal,
    dv.impuesto,
    dv.monto_total,
    dv.margen,
    CASE WHEN v.fecha_venta = c.fecha_primer_compra THEN 1 ELSE 0 END AS es_primera_compra,
    CASE WHEN v.estado_venta LIKE '%CANCELAD%' OR v.estado_venta LIKE '%ANULAD%' THEN 1 ELSE 0 END AS venta_cancelada
FROM detalles_venta dv
INNER JOIN ventas v ON dv.venta_id = v.venta_id
INNER JOIN clientes c ON v.cliente_id = c.cliente_id`

const insertVentasSQL = `
INSERT INTO fact_ventas (
    tiempo_key, producto_id, cliente_id,
    provincia_id, canton_id, distrito_id,
    almacen_id, estado_venta_id, metodo_pago_id,
    venta_id, detalle_venta_id,
    cantidad, precio_unitario, costo_unitario,
    descuento_porcentaje, descuento_monto,
    subtotal, impuesto, monto_total, margen,
    es_primera_compra, venta_cancelada
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// loadVentas loads one row per sale line. Status and payment lookups that
// miss keep the row with a NULL key: a sale line must never disappear from
// revenue because a lookup value drifted.
func (l *Loader) loadVentas(ctx context.Context, lookups *Lookups) (models.LoadCount, error) {
	if err := l.cleanTable(ctx, "fact_ventas"); err != nil {
		return models.LoadCount{}, err
	}

	rows, err := l.oltp.QueryContext(ctx, extractVentasSQL)
	if err != nil {
		return models.LoadCount{}, errors.SQLError("Failed to extract sale lines", extractVentasSQL, err)
	}
	defer rows.Close()

	var (
		batch      [][]interface{}
		nullEstado int
		nullMetodo int
	)
	for rows.Next() {
		var (
			fechaVenta                        time.Time
			productoID, clienteID             int64
			provinciaID, cantonID, distritoID int64
			almacenID                         int64
			estadoVenta, metodoPago           string
			ventaID, detalleID                int64
			cantidad                          sql.NullInt64
			precioUnitario, costoUnitario     sql.NullFloat64
			descuentoPct, descuentoMonto      sql.NullFloat64
			subtotal, impuesto                sql.NullFloat64
			montoTotal, margen                sql.NullFloat64
			esPrimeraCompra, ventaCancelada   int
		)
		if err := rows.Scan(
			&fechaVenta, &productoID, &clienteID,
			&provinciaID, &cantonID, &distritoID,
			&almacenID, &estadoVenta, &metodoPago,
			&ventaID, &detalleID, &cantidad,
			&precioUnitario, &costoUnitario,
			&descuentoPct, &descuentoMonto,
			&subtotal, &impuesto, &montoTotal, &margen,
			&esPrimeraCompra, &ventaCancelada,
		); err != nil {
			return models.LoadCount{}, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan sale line")
		}

		var estadoID, metodoID interface{}
		if id, ok := lookups.EstadoVenta(estadoVenta); ok {
			estadoID = id
		} else {
			nullEstado++
		}
		if id, ok := lookups.MetodoPago(metodoPago); ok {
			metodoID = id
		} else {
			nullMetodo++
		}

		batch = append(batch, []interface{}{
			dimension.TimeKey(fechaVenta), productoID, clienteID,
			provinciaID, cantonID, distritoID,
			almacenID, estadoID, metodoID,
			ventaID, detalleID,
			nullInt(cantidad), roundMoney(precioUnitario), roundMoney(costoUnitario),
			roundMoney(descuentoPct), roundMoney(descuentoMonto),
			roundMoney(subtotal), roundMoney(impuesto), roundMoney(montoTotal), roundMoney(margen),
			esPrimeraCompra, ventaCancelada,
		})
	}
	if err := rows.Err(); err != nil {
		return models.LoadCount{}, errors.SQLError("Failed reading sale lines", extractVentasSQL, err)
	}

	if nullEstado > 0 || nullMetodo > 0 {
		l.log.WithFields(map[string]interface{}{
			"null_estado_venta_id": nullEstado,
			"null_metodo_pago_id":  nullMetodo,
		}).Warn("sale lines inserted with unresolved dimension keys")
	}

	inserted, err := l.insertFacts(ctx, "fact_ventas", insertVentasSQL, batch)
	return models.LoadCount{Extracted: len(batch), Inserted: inserted}, err
}

const extractEventosSQL = `
SELECT
    fecha_hora_evento,
    cliente_id,
    producto_id,
    tipo_dispositivo,
    dispositivo,
    sistema_operativo,
    navegador,
    tipo_evento,
    evento_id,
    numero_evento_en_sesion AS numero_evento_sesion,
    venta_id,
    COALESCE(tiempo_pagina_segundos, 0) AS tiempo_pagina_segundos,
    cliente_reconocido,
    genero_venta
FROM eventos_web`

const insertEventosSQL = `
INSERT INTO fact_comportamiento_web (
    tiempo_key, cliente_id, producto_id,
    dispositivo_id, navegador_id, tipo_evento_id,
    evento_id, numero_evento_sesion, venta_id,
    tiempo_pagina_segundos, eventos_sesion,
    cliente_reconocido, genero_venta
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// loadComportamientoWeb loads one row per web event. Rows whose device,
// browser, or event type cannot be resolved are dropped: an event without
// its behavioral dimensions has no analytical value.
func (l *Loader) loadComportamientoWeb(ctx context.Context, lookups *Lookups) (models.LoadCount, error) {
	if err := l.cleanTable(ctx, "fact_comportamiento_web"); err != nil {
		return models.LoadCount{}, err
	}

	rows, err := l.oltp.QueryContext(ctx, extractEventosSQL)
	if err != nil {
		return models.LoadCount{}, errors.SQLError("Failed to extract web events", extractEventosSQL, err)
	}
	defer rows.Close()

	var (
		batch     [][]interface{}
		extracted int
		dropped   int
	)
	for rows.Next() {
		var (
			fechaHora             time.Time
			clienteID, productoID sql.NullInt64
			tipoDisp, disp, so    sql.NullString
			navegador, tipoEvento sql.NullString
			eventoID              int64
			numeroEvento, ventaID sql.NullInt64
			tiempoPagina          int64
			reconocido, genero    sql.NullInt64
		)
		if err := rows.Scan(
			&fechaHora, &clienteID, &productoID,
			&tipoDisp, &disp, &so, &navegador, &tipoEvento,
			&eventoID, &numeroEvento, &ventaID,
			&tiempoPagina, &reconocido, &genero,
		); err != nil {
			return models.LoadCount{}, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan web event")
		}
		extracted++

		dispositivoID, okDisp := lookups.Dispositivo(NewDeviceKey(tipoDisp, disp, so))
		navegadorID, okNav := lookups.Navegador(navegador.String)
		tipoEventoID, okEvento := lookups.TipoEvento(tipoEvento.String)
		if !okDisp || !okNav || !okEvento {
			dropped++
			continue
		}

		batch = append(batch, []interface{}{
			dimension.TimeKey(fechaHora), nullInt(clienteID), nullInt(productoID),
			dispositivoID, navegadorID, tipoEventoID,
			eventoID, nullInt(numeroEvento), nullInt(ventaID),
			tiempoPagina, 1,
			nullInt(reconocido), nullInt(genero),
		})
	}
	if err := rows.Err(); err != nil {
		return models.LoadCount{}, errors.SQLError("Failed reading web events", extractEventosSQL, err)
	}

	if dropped > 0 {
		l.log.WithFields(map[string]interface{}{
			"table":   "fact_comportamiento_web",
			"dropped": dropped,
		}).Warn("web events dropped on unresolved dimension keys")
	}

	inserted, err := l.insertFacts(ctx, "fact_comportamiento_web", insertEventosSQL, batch)
	return models.LoadCount{Extracted: extracted, Inserted: inserted}, err
}

const extractBusquedasSQL = `
SELECT
    fecha_hora_busqueda,
    cliente_id,
    producto_visualizado_id AS producto_id,
    tipo_dispositivo,
    dispositivo,
    sistema_operativo,
    navegador,
    busqueda_id,
    venta_id,
    COALESCE(cantidad_resultados, 0) AS cantidad_resultados,
    cliente_reconocido,
    genero_venta
FROM busquedas_web`

const insertBusquedasSQL = `
INSERT INTO fact_busquedas (
    tiempo_key, cliente_id, producto_id,
    dispositivo_id, navegador_id,
    busqueda_id, venta_id,
    cantidad_resultados, total_busquedas,
    cliente_reconocido, genero_venta
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// loadBusquedas loads one row per search, dropping rows with unresolved
// device or browser keys like the web events load.
func (l *Loader) loadBusquedas(ctx context.Context, lookups *Lookups) (models.LoadCount, error) {
	if err := l.cleanTable(ctx, "fact_busquedas"); err != nil {
		return models.LoadCount{}, err
	}

	rows, err := l.oltp.QueryContext(ctx, extractBusquedasSQL)
	if err != nil {
		return models.LoadCount{}, errors.SQLError("Failed to extract searches", extractBusquedasSQL, err)
	}
	defer rows.Close()

	var (
		batch     [][]interface{}
		extracted int
		dropped   int
	)
	for rows.Next() {
		var (
			fechaHora             time.Time
			clienteID, productoID sql.NullInt64
			tipoDisp, disp, so    sql.NullString
			navegador             sql.NullString
			busquedaID            int64
			ventaID               sql.NullInt64
			cantidadResultados    int64
			reconocido, genero    sql.NullInt64
		)
		if err := rows.Scan(
			&fechaHora, &clienteID, &productoID,
			&tipoDisp, &disp, &so, &navegador,
			&busquedaID, &ventaID,
			&cantidadResultados, &reconocido, &genero,
		); err != nil {
			return models.LoadCount{}, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan search")
		}
		extracted++

		dispositivoID, okDisp := lookups.Dispositivo(NewDeviceKey(tipoDisp, disp, so))
		navegadorID, okNav := lookups.Navegador(navegador.String)
		if !okDisp || !okNav {
			dropped++
			continue
		}

		batch = append(batch, []interface{}{
			dimension.TimeKey(fechaHora), nullInt(clienteID), nullInt(productoID),
			dispositivoID, navegadorID,
			busquedaID, nullInt(ventaID),
			cantidadResultados, 1,
			nullInt(reconocido), nullInt(genero),
		})
	}
	if err := rows.Err(); err != nil {
		return models.LoadCount{}, errors.SQLError("Failed reading searches", extractBusquedasSQL, err)
	}

	if dropped > 0 {
		l.log.WithFields(map[string]interface{}{
			"table":   "fact_busquedas",
			"dropped": dropped,
		}).Warn("searches dropped on unresolved dimension keys")
	}

	inserted, err := l.insertFacts(ctx, "fact_busquedas", insertBusquedasSQL, batch)
	return models.LoadCount{Extracted: extracted, Inserted: inserted}, err
}
