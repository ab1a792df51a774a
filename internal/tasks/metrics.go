package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
)

// registerMetrics экспортирует счётчики исполнителя в Prometheus.
// Значения читаются из атомарных счётчиков в момент сбора.
func registerMetrics(reg prometheus.Registerer, e *Executor) error {
	counter := func(name, help string, load func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "chunkstream",
			Subsystem: "executor",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(load()) })
	}

	collectors := []prometheus.Collector{
		counter("submitted_total", "Задач передано в Submit.", e.submitted.Load),
		counter("inline_total", "Задач выполнено в горутине вызывающего.", e.inline.Load),
		counter("requeued_total", "Повторных постановок задач в очередь.", e.requeued.Load),
		counter("completed_total", "Завершённых задач.", e.completed.Load),
		counter("panics_total", "Задач, завершившихся паникой.", e.panics.Load),
		counter("abandoned_total", "Задач, отброшенных при остановке.", e.abandoned.Load),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "chunkstream",
			Subsystem: "executor",
			Name:      "queue_depth",
			Help:      "Задач в очередях рабочих.",
		}, func() float64 { return float64(e.depth.Load()) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
