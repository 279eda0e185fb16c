package service

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// operationsTotal — исходы операций ядра.
// result = "ok" или код ошибки в нижнем регистре.
var operationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cr_operations_total",
		Help: "Общее количество операций реестра CID по результату",
	},
	[]string{"operation", "result"},
)

func observeOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = strings.ToLower(ErrorCode(err))
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
}
