package btcvault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation names used in logs and metric labels.
const (
	OpGenerate        = "generate"
	OpSelect          = "select"
	OpSign            = "sign"
	OpImport          = "import"
	OpImportEncrypted = "import_encrypted"
	OpExportEncrypted = "export_encrypted"
	OpDelete          = "delete"
)

// metrics holds the key store collectors. A nil *metrics records nothing.
type metrics struct {
	operations *prometheus.CounterVec
	slotsInUse prometheus.Gauge
	slotsTotal prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btcvault_operations_total",
				Help: "Key store operations by result code",
			},
			[]string{"op", "result"},
		),
		slotsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "btcvault_slots_in_use",
				Help: "Number of occupied key slots",
			},
		),
		slotsTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "btcvault_slots_total",
				Help: "Configured key slot capacity",
			},
		),
	}
}

func (m *metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, ErrorCode(err)).Inc()
}

func (m *metrics) setSlots(inUse, total int) {
	if m == nil {
		return
	}
	m.slotsInUse.Set(float64(inUse))
	m.slotsTotal.Set(float64(total))
}
