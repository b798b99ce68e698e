package dimension

import (
	"context"
	"database/sql"

	"dwflow/pkg/errors"
	"dwflow/pkg/models"
)

const extractTiempoSQL = `
SELECT
    id_fecha,
    fecha_cal,
    dia_cal,
    dia_sem_num,
    UPPER(dia_sem_abrv) AS dia_sem_abrv,
    UPPER(dia_sem_nombre) AS dia_sem_nombre,
    mes_cal,
    UPPER(mes_nombre) AS mes_nombre,
    UPPER(mes_cal_abrv) AS mes_cal_abrv,
    mes_cal_fecha_inic,
    mes_cal_fecha_fin,
    anio_cal,
    anio_cal_fecha_inic,
    anio_cal_fecha_fin,
    CAST(REPLACE(anio_mes_cal_num, '-', '') AS UNSIGNED) AS anio_mes_cal_num,
    UPPER(anio_mes_cal_descr) AS anio_mes_cal_descr,
    trimestre,
    sem_cal_num,
    fecha_inic_sem,
    fecha_fin_sem
FROM tiempo`

const insertTiempoSQL = `
INSERT INTO dim_tiempo (
    id_fecha, fecha_cal, dia_cal, dia_sem_num, dia_sem_abrv,
    dia_sem_nombre, mes_cal, mes_nombre, mes_cal_abrv,
    mes_cal_fecha_inic, mes_cal_fecha_fin, anio_cal,
    anio_cal_fecha_inic, anio_cal_fecha_fin, anio_mes_cal_num,
    anio_mes_cal_descr, trimestre, sem_cal_num,
    fecha_inic_sem, fecha_fin_sem
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// loadTiempo copies the OLTP calendar into dim_tiempo. id_fecha is the
// YYYYMMDD key every fact table joins on, so this load always runs first.
func (l *Loader) loadTiempo(ctx context.Context) (models.LoadCount, error) {
	count, err := l.copyTable(ctx, extractTiempoSQL, insertTiempoSQL, 20)
	if err != nil {
		return count, err
	}
	if count.Extracted == 0 {
		l.log.Warn("tiempo table is empty in OLTP; facts will have no time keys to resolve")
	}
	return count, nil
}

const extractGeografiaSQL = `
SELECT DISTINCT
    d.provincia_id,
    d.canton_id,
    d.distrito_id,
    UPPER(p.nombre_provincia) AS provincia,
    UPPER(c.nombre_canton) AS canton,
    UPPER(d.nombre_distrito) AS distrito
FROM distritos d
INNER JOIN provincias p ON d.provincia_id = p.provincia_id
INNER JOIN cantones c ON d.canton_id = c.canton_id
ORDER BY d.provincia_id, d.canton_id, d.distrito_id`

const insertGeografiaSQL = `
INSERT INTO dim_geografia (
    provincia_id, canton_id, distrito_id,
    provincia, canton, distrito
) VALUES (?, ?, ?, ?, ?, ?)`

func (l *Loader) loadGeografia(ctx context.Context) (models.LoadCount, error) {
	return l.copyTable(ctx, extractGeografiaSQL, insertGeografiaSQL, 6)
}

const extractProductoSQL = `
SELECT
    p.producto_id,
    UPPER(p.codigo_producto) AS codigo_producto,
    UPPER(p.nombre_producto) AS nombre_producto,
    p.categoria_id,
    UPPER(c.nombre_categoria) AS categoria,
    p.descripcion,
    UPPER(p.marca) AS marca,
    p.precio_unitario,
    p.costo_unitario,
    p.activo,
    p.fecha_creacion,
    p.fecha_actualizacion
FROM productos p
INNER JOIN categorias c ON p.categoria_id = c.categoria_id`

const insertProductoSQL = `
INSERT INTO dim_producto (
    producto_id, codigo_producto, nombre_producto,
    categoria_id, categoria, descripcion, marca,
    precio_unitario, costo_unitario, activo,
    fecha_creacion, fecha_actualizacion
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (l *Loader) loadProducto(ctx context.Context) (models.LoadCount, error) {
	return l.copyTable(ctx, extractProductoSQL, insertProductoSQL, 12)
}

const extractClienteSQL = `
SELECT
    c.cliente_id,
    UPPER(c.nombre_cliente) AS nombre_cliente,
    UPPER(c.apellido_cliente) AS apellido_cliente,
    UPPER(c.correo_electronico) AS correo_electronico,
    c.telefono,
    c.numero_cedula,
    c.provincia_id,
    c.canton_id,
    c.distrito_id,
    UPPER(p.nombre_provincia) AS provincia,
    UPPER(ca.nombre_canton) AS canton,
    UPPER(d.nombre_distrito) AS distrito,
    c.direccion,
    c.fecha_creacion,
    c.fecha_primer_compra,
    c.fecha_ultimo_compra,
    c.activo
FROM clientes c
INNER JOIN provincias p ON c.provincia_id = p.provincia_id
INNER JOIN cantones ca ON c.canton_id = ca.canton_id
INNER JOIN distritos d ON c.distrito_id = d.distrito_id`

const insertClienteSQL = `
INSERT INTO dim_cliente (
    cliente_id, nombre_cliente, apellido_cliente,
    correo_electronico, telefono, numero_cedula,
    provincia_id, canton_id, distrito_id,
    provincia, canton, distrito, direccion,
    fecha_registro, fecha_primer_compra, fecha_ultimo_compra, activo
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// loadCliente is the one dimension large enough to batch. Purchase dates
// carry pre-1753 sentinel values in OLTP, normalized to NULL before insert.
func (l *Loader) loadCliente(ctx context.Context) (models.LoadCount, error) {
	rows, err := l.oltp.QueryContext(ctx, extractClienteSQL)
	if err != nil {
		return models.LoadCount{}, errors.SQLError("Failed to extract clientes", extractClienteSQL, err)
	}
	defer rows.Close()

	var batch [][]interface{}
	for rows.Next() {
		var (
			clienteID                       int64
			nombre, apellido, correo        string
			telefono, cedula                sql.NullString
			provinciaID, cantonID, distritoID int64
			provincia, canton, distrito     string
			direccion                       sql.NullString
			fechaCreacion                   sql.NullTime
			fechaPrimera, fechaUltima       sql.NullTime
			activo                          bool
		)
		if err := rows.Scan(
			&clienteID, &nombre, &apellido, &correo, &telefono, &cedula,
			&provinciaID, &cantonID, &distritoID,
			&provincia, &canton, &distrito, &direccion,
			&fechaCreacion, &fechaPrimera, &fechaUltima, &activo,
		); err != nil {
			return models.LoadCount{}, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan cliente row")
		}

		batch = append(batch, []interface{}{
			clienteID, nombre, apellido, correo, telefono, cedula,
			provinciaID, cantonID, distritoID,
			provincia, canton, distrito, direccion,
			fechaCreacion,
			NormalizeDate(fechaPrimera),
			NormalizeDate(fechaUltima),
			activo,
		})
	}
	if err := rows.Err(); err != nil {
		return models.LoadCount{}, errors.SQLError("Failed reading clientes", extractClienteSQL, err)
	}

	inserted, err := l.insertRows(ctx, insertClienteSQL, batch, l.batchSize)
	return models.LoadCount{Extracted: len(batch), Inserted: inserted}, err
}

const extractAlmacenSQL = `
SELECT
    almacen_id,
    UPPER(codigo_almacen) AS codigo_almacen,
    UPPER(nombre_almacen) AS nombre_almacen,
    UPPER(tipo_almacen) AS tipo_almacen,
    UPPER(responsable_almacen) AS responsable,
    provincia_id,
    canton_id,
    distrito_id,
    direccion,
    telefono,
    correo_electronico AS correo,
    latitud,
    longitud,
    activo,
    fecha_apertura
FROM almacenes`

const insertAlmacenSQL = `
INSERT INTO dim_almacen (
    almacen_id, codigo_almacen, nombre_almacen, tipo_almacen,
    responsable, provincia_id, canton_id, distrito_id,
    direccion, telefono, correo, latitud, longitud,
    activo, fecha_apertura
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (l *Loader) loadAlmacen(ctx context.Context) (models.LoadCount, error) {
	return l.copyTable(ctx, extractAlmacenSQL, insertAlmacenSQL, 15)
}

const extractDispositivoSQL = `
SELECT DISTINCT
    UPPER(tipo_dispositivo) AS tipo_dispositivo,
    UPPER(dispositivo) AS dispositivo,
    UPPER(sistema_operativo) AS sistema_operativo
FROM eventos_web
WHERE tipo_dispositivo IS NOT NULL

UNION

SELECT DISTINCT
    UPPER(tipo_dispositivo) AS tipo_dispositivo,
    UPPER(dispositivo) AS dispositivo,
    UPPER(sistema_operativo) AS sistema_operativo
FROM busquedas_web
WHERE tipo_dispositivo IS NOT NULL`

const insertDispositivoSQL = `
INSERT INTO dim_dispositivo (
    tipo_dispositivo, dispositivo, sistema_operativo
) VALUES (?, ?, ?)`

// loadDispositivo derives devices from the union of both web sources. The
// UNION already deduplicates, but a map guards against collation quirks
// where the sources disagree.
func (l *Loader) loadDispositivo(ctx context.Context) (models.LoadCount, error) {
	rows, err := l.oltp.QueryContext(ctx, extractDispositivoSQL)
	if err != nil {
		return models.LoadCount{}, errors.SQLError("Failed to extract dispositivos", extractDispositivoSQL, err)
	}
	defer rows.Close()

	seen := make(map[[3]string]struct{})
	var batch [][]interface{}
	for rows.Next() {
		var tipo, dispositivo, so sql.NullString
		if err := rows.Scan(&tipo, &dispositivo, &so); err != nil {
			return models.LoadCount{}, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan dispositivo row")
		}
		key := [3]string{tipo.String, dispositivo.String, so.String}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		batch = append(batch, []interface{}{tipo, dispositivo, so})
	}
	if err := rows.Err(); err != nil {
		return models.LoadCount{}, errors.SQLError("Failed reading dispositivos", extractDispositivoSQL, err)
	}

	inserted, err := l.insertRows(ctx, insertDispositivoSQL, batch, 0)
	return models.LoadCount{Extracted: len(batch), Inserted: inserted}, err
}

const extractNavegadorSQL = `
SELECT DISTINCT
    UPPER(navegador) AS navegador
FROM eventos_web
WHERE navegador IS NOT NULL

UNION

SELECT DISTINCT
    UPPER(navegador) AS navegador
FROM busquedas_web
WHERE navegador IS NOT NULL`

const insertNavegadorSQL = `
INSERT INTO dim_navegador (navegador, tipo_navegador) VALUES (?, ?)`

func (l *Loader) loadNavegador(ctx context.Context) (models.LoadCount, error) {
	values, err := l.distinctValues(ctx, extractNavegadorSQL)
	if err != nil {
		return models.LoadCount{}, err
	}

	batch := make([][]interface{}, 0, len(values))
	for _, navegador := range values {
		// Every source today is a browser session; the column exists for
		// future app traffic.
		batch = append(batch, []interface{}{navegador, "Web"})
	}

	inserted, err := l.insertRows(ctx, insertNavegadorSQL, batch, 0)
	return models.LoadCount{Extracted: len(batch), Inserted: inserted}, err
}

const extractTipoEventoSQL = `
SELECT DISTINCT
    UPPER(tipo_evento) AS tipo_evento
FROM eventos_web
WHERE tipo_evento IS NOT NULL`

const insertTipoEventoSQL = `
INSERT INTO dim_tipo_evento (
    tipo_evento, categoria_evento, descripcion, es_conversion
) VALUES (?, ?, ?, ?)`

func (l *Loader) loadTipoEvento(ctx context.Context) (models.LoadCount, error) {
	values, err := l.distinctValues(ctx, extractTipoEventoSQL)
	if err != nil {
		return models.LoadCount{}, err
	}

	batch := make([][]interface{}, 0, len(values))
	for _, tipoEvento := range values {
		batch = append(batch, []interface{}{
			tipoEvento,
			ClassifyEventCategory(tipoEvento),
			nil,
			boolToBit(IsConversionEvent(tipoEvento)),
		})
	}

	inserted, err := l.insertRows(ctx, insertTipoEventoSQL, batch, 0)
	return models.LoadCount{Extracted: len(batch), Inserted: inserted}, err
}

const extractEstadoVentaSQL = `
SELECT DISTINCT
    UPPER(estado_venta) AS estado_venta
FROM ventas
WHERE estado_venta IS NOT NULL`

const insertEstadoVentaSQL = `
INSERT INTO dim_estado_venta (
    estado_venta, descripcion, es_exitosa
) VALUES (?, ?, ?)`

func (l *Loader) loadEstadoVenta(ctx context.Context) (models.LoadCount, error) {
	values, err := l.distinctValues(ctx, extractEstadoVentaSQL)
	if err != nil {
		return models.LoadCount{}, err
	}

	batch := make([][]interface{}, 0, len(values))
	for _, estado := range values {
		batch = append(batch, []interface{}{
			estado,
			nil,
			boolToBit(IsSuccessfulStatus(estado)),
		})
	}

	inserted, err := l.insertRows(ctx, insertEstadoVentaSQL, batch, 0)
	return models.LoadCount{Extracted: len(batch), Inserted: inserted}, err
}

const extractMetodoPagoSQL = `
SELECT DISTINCT
    UPPER(metodo_pago) AS metodo_pago
FROM ventas
WHERE metodo_pago IS NOT NULL`

const insertMetodoPagoSQL = `
INSERT INTO dim_metodo_pago (
    metodo_pago, descripcion, tipo_pago
) VALUES (?, ?, ?)`

func (l *Loader) loadMetodoPago(ctx context.Context) (models.LoadCount, error) {
	values, err := l.distinctValues(ctx, extractMetodoPagoSQL)
	if err != nil {
		return models.LoadCount{}, err
	}

	batch := make([][]interface{}, 0, len(values))
	for _, metodo := range values {
		batch = append(batch, []interface{}{
			metodo,
			nil,
			ClassifyPaymentType(metodo),
		})
	}

	inserted, err := l.insertRows(ctx, insertMetodoPagoSQL, batch, 0)
	return models.LoadCount{Extracted: len(batch), Inserted: inserted}, err
}

// distinctValues runs a single-column DISTINCT extraction, deduplicating
// once more in memory.
func (l *Loader) distinctValues(ctx context.Context, query string) ([]string, error) {
	rows, err := l.oltp.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.SQLError("Failed to extract distinct values", query, err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan distinct value")
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.SQLError("Failed reading distinct values", query, err)
	}

	return values, nil
}
