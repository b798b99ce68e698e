package dimension

import (
	"database/sql"
	"strings"
	"time"
)

// minWarehouseYear is the earliest year the warehouse date columns accept.
// OLTP rows use dates below this as "never happened" sentinels.
const minWarehouseYear = 1753

// NormalizeDate maps sentinel and NULL dates to a SQL NULL value.
func NormalizeDate(t sql.NullTime) interface{} {
	if !t.Valid || t.Time.Year() < minWarehouseYear {
		return nil
	}
	return t.Time
}

// TimeKey converts a calendar date to the YYYYMMDD surrogate used by
// dim_tiempo.
func TimeKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// ClassifyEventCategory buckets an event type into its reporting category.
func ClassifyEventCategory(tipoEvento string) string {
	upper := strings.ToUpper(tipoEvento)
	if strings.Contains(upper, "VENTA") || strings.Contains(upper, "COMPRA") {
		return "Transacción"
	}
	return "Navegación"
}

// IsConversionEvent reports whether the event type counts as a completed
// conversion.
func IsConversionEvent(tipoEvento string) bool {
	return strings.Contains(strings.ToUpper(tipoEvento), "COMPLETADA")
}

// IsSuccessfulStatus reports whether a sale status counts toward revenue.
// Cancelled and voided sales do not.
func IsSuccessfulStatus(estadoVenta string) bool {
	upper := strings.ToUpper(estadoVenta)
	return !strings.Contains(upper, "CANCELADA") && !strings.Contains(upper, "ANULADA")
}

// ClassifyPaymentType buckets a payment method for reporting.
func ClassifyPaymentType(metodoPago string) string {
	upper := strings.ToUpper(metodoPago)
	switch {
	case strings.Contains(upper, "TARJETA"):
		return "Tarjeta"
	case strings.Contains(upper, "SINPE"), strings.Contains(upper, "TRANSFERENCIA"):
		return "Transferencia"
	default:
		return "Digital"
	}
}

func boolToBit(b bool) int {
	if b {
		return 1
	}
	return 0
}
