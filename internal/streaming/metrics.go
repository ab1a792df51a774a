package streaming

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics: Prometheus-метрики менеджера чанков
type metrics struct {
	registerer   prometheus.Registerer
	loads        prometheus.Counter
	generations  prometheus.Counter
	saves        *prometheus.CounterVec
	loadDuration prometheus.Histogram

	// Копии счётчиков для Stats
	loadsN, generationsN, savesOK, savesFailed atomic.Uint64
}

func newMetrics() *metrics {
	return &metrics{
		loads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkstream",
			Name:      "chunk_loads_total",
			Help:      "Чанков, прочитанных из хранилища.",
		}),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkstream",
			Name:      "chunk_generations_total",
			Help:      "Чанков, созданных генератором.",
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chunkstream",
			Name:      "chunk_saves_total",
			Help:      "Записей чанков в хранилище по результату.",
		}, []string{"result"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chunkstream",
			Name:      "chunk_load_duration_seconds",
			Help:      "Время загрузки или генерации чанка.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
}

// register регистрирует метрики, если задан регистр
func (mt *metrics) register(m *Manager) error {
	if mt.registerer == nil {
		return nil
	}

	resident := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "chunkstream",
		Name:      "chunks_resident",
		Help:      "Загруженных чанков.",
	}, func() float64 { return float64(m.ResidentCount()) })
	pending := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "chunkstream",
		Name:      "chunks_pending_save",
		Help:      "Выгруженных чанков, ожидающих записи.",
	}, func() float64 { return float64(m.PendingSaves()) })

	for _, c := range []prometheus.Collector{mt.loads, mt.generations, mt.saves, mt.loadDuration, resident, pending} {
		if err := mt.registerer.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (mt *metrics) loaded() {
	mt.loads.Inc()
	mt.loadsN.Add(1)
}

func (mt *metrics) generated() {
	mt.generations.Inc()
	mt.generationsN.Add(1)
}

func (mt *metrics) saved(err error) {
	if err != nil {
		mt.saves.WithLabelValues("error").Inc()
		mt.savesFailed.Add(1)
		return
	}
	mt.saves.WithLabelValues("ok").Inc()
	mt.savesOK.Add(1)
}
