package quota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"elx-gateway/internal/storage/database/credential"
)

var (
	admittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "elx_gateway",
		Subsystem: "quota",
		Name:      "admitted_total",
		Help:      "Requests that passed all quota windows.",
	})

	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "elx_gateway",
		Subsystem: "quota",
		Name:      "rejected_total",
		Help:      "Requests rejected by quota, labelled by window.",
	}, []string{"window"})
)

func observeAdmission() {
	admittedTotal.Inc()
}

func observeRejection(kind credential.WindowKind) {
	rejectedTotal.WithLabelValues(string(kind)).Inc()
}
