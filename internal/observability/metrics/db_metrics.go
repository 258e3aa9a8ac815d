package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(reg prometheus.Registerer, db *sql.DB, logger *zap.Logger) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "nodes_pending",
			Help: "Auto-discovered nodes not yet placed by an operator",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM nodos WHERE area = 'Pendiente'")
		},
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "sensors_hidden",
			Help: "Sensors excluded from alarm evaluation",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM sensores WHERE visible = FALSE")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.String("query", query), zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
