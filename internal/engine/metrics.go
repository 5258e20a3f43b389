package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: тики драйвера мониторинга
	Ticks *prometheus.CounterVec

	// Алерты по важности
	AlertsRaised *prometheus.CounterVec
	ActiveAlerts prometheus.Gauge

	// Recovery: запуски и их длительность
	RecoveryExecutions *prometheus.CounterVec
	RecoveryDuration   *prometheus.HistogramVec
	ActiveRecoveries   prometheus.Gauge

	// Errors: классификация внутренних сбоев (ErrorKind)
	ErrorTotal *prometheus.CounterVec

	// Saturation: статус компонентов (0 - healthy, 1 - warning, 2 - critical)
	ComponentStatus *prometheus.GaugeVec

	// Journal: заполненность буфера (backpressure)
	JournalBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Ticks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opsguard_ticks_total",
			Help: "Monitoring ticks by sample freshness.",
		}, []string{"freshness"}), // fresh, stale, empty

		AlertsRaised: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opsguard_alerts_raised_total",
			Help: "Total number of raised alerts.",
		}, []string{"severity", "source"}),

		ActiveAlerts: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "opsguard_active_alerts",
			Help: "Current number of unresolved alerts.",
		}),

		RecoveryExecutions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opsguard_recovery_executions_total",
			Help: "Recovery action executions by outcome.",
		}, []string{"action_id", "outcome"}),

		RecoveryDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opsguard_recovery_duration_seconds",
			Help:    "Histogram of recovery action durations.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"action_id"}),

		ActiveRecoveries: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "opsguard_active_recoveries",
			Help: "Recovery actions currently in flight.",
		}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "opsguard_errors_total",
			Help: "Total number of internal errors by kind.",
		}, []string{"kind"}),

		ComponentStatus: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "opsguard_component_status",
			Help: "Component health status (0=healthy, 1=warning, 2=critical).",
		}, []string{"component"}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "opsguard_journal_buffer_utilization",
			Help: "Current number of events in journal buffer.",
		}),
	}
}
