package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики для Prometheus
var (
	itemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_items_processed_total",
		Help: "Общее количество обработанных товаров",
	}, []string{"result"})

	marketplaceMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_marketplace_mutations_total",
		Help: "Количество мутаций, отправленных в маркетплейс",
	}, []string{"type"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_run_duration_seconds",
		Help:    "Длительность одного запуска синхронизации",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	driftRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_drift_repaired_total",
		Help: "Количество исправленных расхождений site_items",
	})
)
