package codec

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "codec",
			Name:      "records_decoded_total",
			Help:      "Records decoded by codec and kind",
		},
		[]string{"codec", "kind"},
	)

	recordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "codec",
			Name:      "records_skipped_total",
			Help:      "Malformed records skipped by codec",
		},
		[]string{"codec"},
	)

	precisionInferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "codec",
			Name:      "precision_inferred_total",
			Help:      "Decoders constructed with inferred precision",
		},
		[]string{"codec"},
	)
)

// RecordDecoded учитывает разобранные записи
func RecordDecoded(codec, kind string, n int) {
	recordsDecoded.WithLabelValues(codec, kind).Add(float64(n))
}

// RecordSkipped учитывает пропущенную запись
func RecordSkipped(codec string) {
	recordsSkipped.WithLabelValues(codec).Inc()
}

// PrecisionInferred учитывает декодер с выведенной точностью
func PrecisionInferred(codec string) {
	precisionInferred.WithLabelValues(codec).Inc()
}
