// Package olap answers analytical questions over the star schema. Sale
// measures are first re-grouped per venta_id so that order-level numbers
// (order count, average ticket) are not inflated by sale lines.
//
// Every filter value binds as a query parameter; no caller input is ever
// spliced into SQL text.
package olap

import (
	"context"
	"database/sql"

	"dwflow/internal/observability"
	"dwflow/pkg/errors"
)

// Service runs analytical queries against the warehouse.
type Service struct {
	db  *sql.DB
	log *observability.Logger
}

// NewService creates an OLAP service over a warehouse handle.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, log: observability.Default()}
}

// SalesSummary is one aggregated slice of fact_ventas.
type SalesSummary struct {
	Dimension       string
	Orders          int
	UniqueCustomers int
	Units           int
	TotalSales      float64
	AvgPerOrder     float64
	TotalMargin     float64
	MarginPercent   float64
	TotalTax        float64
}

const salesByProvinceSQL = `
WITH ventas_agrupadas AS (
    SELECT
        fv.venta_id,
        fv.provincia_id,
        fv.canton_id,
        fv.distrito_id,
        fv.cliente_id,
        SUM(fv.cantidad) AS total_unidades,
        SUM(fv.monto_total) AS monto_venta,
        SUM(fv.margen) AS margen_venta,
        SUM(fv.impuesto) AS impuesto_venta
    FROM fact_ventas fv
    WHERE fv.venta_cancelada = 0
    GROUP BY fv.venta_id, fv.provincia_id, fv.canton_id, fv.distrito_id, fv.cliente_id
)
SELECT
    g.provincia AS dimension_value,
    COUNT(DISTINCT va.venta_id) AS cantidad_ordenes,
    COUNT(DISTINCT va.cliente_id) AS clientes_unicos,
    SUM(va.total_unidades) AS total_unidades,
    SUM(va.monto_venta) AS total_ventas,
    AVG(va.monto_venta) AS promedio_por_orden,
    SUM(va.margen_venta) AS total_margen,
    ROUND(100.0 * SUM(va.margen_venta) / NULLIF(SUM(va.monto_venta), 0), 2) AS margen_porcentaje,
    SUM(va.impuesto_venta) AS total_impuesto
FROM ventas_agrupadas va
INNER JOIN dim_geografia g ON va.provincia_id = g.provincia_id
    AND va.canton_id = g.canton_id AND va.distrito_id = g.distrito_id
WHERE g.provincia = ?
GROUP BY g.provincia`

// SalesByProvince aggregates uncancelled sales for one province.
func (s *Service) SalesByProvince(ctx context.Context, provincia string) (*SalesSummary, error) {
	return s.querySummary(ctx, salesByProvinceSQL, provincia)
}

const salesByCategorySQL = `
WITH ventas_agrupadas AS (
    SELECT
        fv.venta_id,
        fv.producto_id,
        fv.cliente_id,
        SUM(fv.cantidad) AS total_unidades,
        SUM(fv.monto_total) AS monto_venta,
        SUM(fv.margen) AS margen_venta,
        SUM(fv.impuesto) AS impuesto_venta
    FROM fact_ventas fv
    WHERE fv.venta_cancelada = 0
    GROUP BY fv.venta_id, fv.producto_id, fv.cliente_id
)
SELECT
    pr.categoria AS dimension_value,
    COUNT(DISTINCT va.venta_id) AS cantidad_ordenes,
    COUNT(DISTINCT va.cliente_id) AS clientes_unicos,
    SUM(va.total_unidades) AS total_unidades,
    SUM(va.monto_venta) AS total_ventas,
    AVG(va.monto_venta) AS promedio_por_orden,
    SUM(va.margen_venta) AS total_margen,
    ROUND(100.0 * SUM(va.margen_venta) / NULLIF(SUM(va.monto_venta), 0), 2) AS margen_porcentaje,
    SUM(va.impuesto_venta) AS total_impuesto
FROM ventas_agrupadas va
INNER JOIN dim_producto pr ON va.producto_id = pr.producto_id
WHERE pr.categoria = ?
GROUP BY pr.categoria`

// SalesByCategory aggregates uncancelled sales for one product category.
func (s *Service) SalesByCategory(ctx context.Context, categoria string) (*SalesSummary, error) {
	return s.querySummary(ctx, salesByCategorySQL, categoria)
}

const salesByWarehouseSQL = `
WITH ventas_agrupadas AS (
    SELECT
        fv.venta_id,
        fv.almacen_id,
        fv.cliente_id,
        SUM(fv.cantidad) AS total_unidades,
        SUM(fv.monto_total) AS monto_venta,
        SUM(fv.margen) AS margen_venta,
        SUM(fv.impuesto) AS impuesto_venta
    FROM fact_ventas fv
    WHERE fv.venta_cancelada = 0
    GROUP BY fv.venta_id, fv.almacen_id, fv.cliente_id
)
SELECT
    a.nombre_almacen AS dimension_value,
    COUNT(DISTINCT va.venta_id) AS cantidad_ordenes,
    COUNT(DISTINCT va.cliente_id) AS clientes_unicos,
    SUM(va.total_unidades) AS total_unidades,
    SUM(va.monto_venta) AS total_ventas,
    AVG(va.monto_venta) AS promedio_por_orden,
    SUM(va.margen_venta) AS total_margen,
    ROUND(100.0 * SUM(va.margen_venta) / NULLIF(SUM(va.monto_venta), 0), 2) AS margen_porcentaje,
    SUM(va.impuesto_venta) AS total_impuesto
FROM ventas_agrupadas va
INNER JOIN dim_almacen a ON va.almacen_id = a.almacen_id
WHERE a.nombre_almacen = ?
GROUP BY a.nombre_almacen`

// SalesByWarehouse aggregates uncancelled sales for one warehouse.
func (s *Service) SalesByWarehouse(ctx context.Context, nombreAlmacen string) (*SalesSummary, error) {
	return s.querySummary(ctx, salesByWarehouseSQL, nombreAlmacen)
}

const salesByYearSQL = `
WITH ventas_agrupadas AS (
    SELECT
        fv.venta_id,
        fv.tiempo_key,
        fv.cliente_id,
        SUM(fv.cantidad) AS total_unidades,
        SUM(fv.monto_total) AS monto_venta,
        SUM(fv.margen) AS margen_venta,
        SUM(fv.impuesto) AS impuesto_venta
    FROM fact_ventas fv
    WHERE fv.venta_cancelada = 0
    GROUP BY fv.venta_id, fv.tiempo_key, fv.cliente_id
)
SELECT
    CAST(t.anio_cal AS CHAR) AS dimension_value,
    COUNT(DISTINCT va.venta_id) AS cantidad_ordenes,
    COUNT(DISTINCT va.cliente_id) AS clientes_unicos,
    SUM(va.total_unidades) AS total_unidades,
    SUM(va.monto_venta) AS total_ventas,
    AVG(va.monto_venta) AS promedio_por_orden,
    SUM(va.margen_venta) AS total_margen,
    ROUND(100.0 * SUM(va.margen_venta) / NULLIF(SUM(va.monto_venta), 0), 2) AS margen_porcentaje,
    SUM(va.impuesto_venta) AS total_impuesto
FROM ventas_agrupadas va
INNER JOIN dim_tiempo t ON va.tiempo_key = t.id_fecha
WHERE t.anio_cal = ?
GROUP BY t.anio_cal`

// SalesByYear aggregates uncancelled sales for one calendar year.
func (s *Service) SalesByYear(ctx context.Context, year int) (*SalesSummary, error) {
	return s.querySummary(ctx, salesByYearSQL, year)
}

func (s *Service) querySummary(ctx context.Context, query string, args ...interface{}) (*SalesSummary, error) {
	var out SalesSummary
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&out.Dimension, &out.Orders, &out.UniqueCustomers, &out.Units,
		&out.TotalSales, &out.AvgPerOrder, &out.TotalMargin,
		&out.MarginPercent, &out.TotalTax,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.SQLError("Failed to run sales aggregation", query, err)
	}
	return &out, nil
}

// MonthlySales is one month of a year's sales breakdown.
type MonthlySales struct {
	MonthNumber int
	MonthName   string
	Orders      int
	Units       int
	TotalSales  float64
	TotalMargin float64
}

const monthlySalesSQL = `
WITH ventas_agrupadas AS (
    SELECT
        fv.venta_id,
        fv.tiempo_key,
        SUM(fv.cantidad) AS total_unidades,
        SUM(fv.monto_total) AS monto_venta,
        SUM(fv.margen) AS margen_venta
    FROM fact_ventas fv
    WHERE fv.venta_cancelada = 0
    GROUP BY fv.venta_id, fv.tiempo_key
)
SELECT
    t.mes_cal,
    t.mes_nombre,
    COUNT(DISTINCT va.venta_id) AS cantidad_ordenes,
    SUM(va.total_unidades) AS total_unidades,
    SUM(va.monto_venta) AS total_ventas,
    SUM(va.margen_venta) AS total_margen
FROM ventas_agrupadas va
INNER JOIN dim_tiempo t ON va.tiempo_key = t.id_fecha
WHERE t.anio_cal = ?
GROUP BY t.mes_cal, t.mes_nombre
ORDER BY t.mes_cal`

// MonthlySales breaks one year's uncancelled sales down by month.
func (s *Service) MonthlySales(ctx context.Context, year int) ([]MonthlySales, error) {
	rows, err := s.db.QueryContext(ctx, monthlySalesSQL, year)
	if err != nil {
		return nil, errors.SQLError("Failed to run monthly sales query", monthlySalesSQL, err)
	}
	defer rows.Close()

	var out []MonthlySales
	for rows.Next() {
		var m MonthlySales
		if err := rows.Scan(&m.MonthNumber, &m.MonthName, &m.Orders, &m.Units,
			&m.TotalSales, &m.TotalMargin); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan monthly sales row")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FunnelStage is one event type's share of the web conversion funnel.
type FunnelStage struct {
	EventType    string
	Category     string
	IsConversion bool
	Events       int
	Customers    int
}

const conversionFunnelSQL = `
SELECT
    te.tipo_evento,
    te.categoria_evento,
    te.es_conversion,
    COUNT(*) AS eventos,
    COUNT(DISTINCT fc.cliente_id) AS clientes
FROM fact_comportamiento_web fc
INNER JOIN dim_tipo_evento te ON fc.tipo_evento_id = te.tipo_evento_id
INNER JOIN dim_tiempo t ON fc.tiempo_key = t.id_fecha
WHERE t.anio_cal = ?
GROUP BY te.tipo_evento, te.categoria_evento, te.es_conversion
ORDER BY eventos DESC`

// ConversionFunnel counts one year's web events per event type, flagging
// the conversion stages.
func (s *Service) ConversionFunnel(ctx context.Context, year int) ([]FunnelStage, error) {
	rows, err := s.db.QueryContext(ctx, conversionFunnelSQL, year)
	if err != nil {
		return nil, errors.SQLError("Failed to run conversion funnel query", conversionFunnelSQL, err)
	}
	defer rows.Close()

	var out []FunnelStage
	for rows.Next() {
		var stage FunnelStage
		if err := rows.Scan(&stage.EventType, &stage.Category, &stage.IsConversion,
			&stage.Events, &stage.Customers); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan funnel row")
		}
		out = append(out, stage)
	}
	return out, rows.Err()
}

// SearchActivity aggregates fact_busquedas per device type. Search terms
// are not carried into the star schema, so device is the finest grain the
// search fact can report on.
type SearchActivity struct {
	DeviceType     string
	Searches       int
	AvgResults     float64
	RecognizedRate float64
	ConversionRate float64
}

const searchActivitySQL = `
SELECT
    d.tipo_dispositivo,
    COUNT(*) AS busquedas,
    AVG(fb.cantidad_resultados) AS resultados_promedio,
    AVG(100.0 * fb.cliente_reconocido) AS tasa_reconocidos,
    AVG(100.0 * fb.genero_venta) AS tasa_conversion
FROM fact_busquedas fb
INNER JOIN dim_dispositivo d ON fb.dispositivo_id = d.dispositivo_id
INNER JOIN dim_tiempo t ON fb.tiempo_key = t.id_fecha
WHERE t.anio_cal = ?
GROUP BY d.tipo_dispositivo
ORDER BY busquedas DESC
LIMIT ?`

// TopSearchActivity returns one year's search volume per device type,
// busiest first.
func (s *Service) TopSearchActivity(ctx context.Context, year, limit int) ([]SearchActivity, error) {
	rows, err := s.db.QueryContext(ctx, searchActivitySQL, year, limit)
	if err != nil {
		return nil, errors.SQLError("Failed to run search activity query", searchActivitySQL, err)
	}
	defer rows.Close()

	var out []SearchActivity
	for rows.Next() {
		var a SearchActivity
		if err := rows.Scan(&a.DeviceType, &a.Searches, &a.AvgResults,
			&a.RecognizedRate, &a.ConversionRate); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan search activity row")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SalesByPaymentMethod aggregates uncancelled sales per payment bucket.
type PaymentSales struct {
	PaymentType string
	Orders      int
	TotalSales  float64
}

const salesByPaymentSQL = `
WITH ventas_agrupadas AS (
    SELECT
        fv.venta_id,
        fv.metodo_pago_id,
        SUM(fv.monto_total) AS monto_venta
    FROM fact_ventas fv
    WHERE fv.venta_cancelada = 0 AND fv.metodo_pago_id IS NOT NULL
    GROUP BY fv.venta_id, fv.metodo_pago_id
)
SELECT
    mp.tipo_pago,
    COUNT(DISTINCT va.venta_id) AS cantidad_ordenes,
    SUM(va.monto_venta) AS total_ventas
FROM ventas_agrupadas va
INNER JOIN dim_metodo_pago mp ON va.metodo_pago_id = mp.metodo_pago_id
GROUP BY mp.tipo_pago
ORDER BY total_ventas DESC`

// SalesByPaymentMethod breaks revenue down by payment bucket. Sale lines
// whose payment lookup missed during the load are excluded.
func (s *Service) SalesByPaymentMethod(ctx context.Context) ([]PaymentSales, error) {
	rows, err := s.db.QueryContext(ctx, salesByPaymentSQL)
	if err != nil {
		return nil, errors.SQLError("Failed to run payment method query", salesByPaymentSQL, err)
	}
	defer rows.Close()

	var out []PaymentSales
	for rows.Next() {
		var p PaymentSales
		if err := rows.Scan(&p.PaymentType, &p.Orders, &p.TotalSales); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to scan payment sales row")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
