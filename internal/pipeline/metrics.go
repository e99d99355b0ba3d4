package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полное время прогона, включая ожидание оператора
	PipelineDuration *prometheus.HistogramVec

	// Traffic: прогоны по виду ресурса и итоговому статусу
	RunsTotal *prometheus.CounterVec

	// Решения оператора: approved / rejected / expired
	GateDecisions *prometheus.CounterVec

	// Errors: классификация отказов по стадии
	ErrorTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - без регистратора метрики живут в локальном
	// реестре, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		PipelineDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ncg_pipeline_duration_seconds",
			Help:    "Histogram of full pipeline run latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"kind", "status"}),

		RunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ncg_pipeline_runs_total",
			Help: "Total number of pipeline runs.",
		}, []string{"kind", "operation"}),

		GateDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ncg_gate_decisions_total",
			Help: "Operator decisions by outcome.",
		}, []string{"outcome"}), // approved / rejected / expired

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ncg_errors_total",
			Help: "Total number of errors by stage.",
		}, []string{"stage"}), // resolve / preview / gate / apply
	}
}
