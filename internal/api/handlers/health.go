// health.go — обработчики health endpoints реестра.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (сконфигурированные зависимости доступны)
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/config"
)

const serviceName = "cid-registry"

// Статусы health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// DependencyReporter — состояние зависимостей из topologymetrics.
type DependencyReporter interface {
	Health() map[string]bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checkers     map[string]ReadinessChecker
	dependencies DependencyReporter
	promHandler  http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// checkers — проверки по имени зависимости ("postgresql", "jwks");
// для memory-хранилища и header-аутентификации набор пуст.
func NewHealthHandler(checkers map[string]ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		checkers:    checkers,
		promHandler: promhttp.Handler(),
	}
}

// WithDependencies добавляет в readiness-ответ состояние зависимостей
// по данным фоновых проверок. На итоговый статус не влияет.
func (h *HealthHandler) WithDependencies(reporter DependencyReporter) *HealthHandler {
	h.dependencies = reporter
	return h
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe. Dependencies — результаты
// фоновых проверок topologymetrics, если мониторинг включён.
type healthReadyResponse struct {
	Status       string                       `json:"status"`
	Timestamp    string                       `json:"timestamp"`
	Version      string                       `json:"version"`
	Service      string                       `json:"service"`
	Checks       map[string]healthCheckResult `json:"checks"`
	Dependencies map[string]bool              `json:"dependencies,omitempty"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe. Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult, len(h.checkers)),
	}

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]string, 0, len(names))
	for _, name := range names {
		status, msg := h.checkers[name].CheckReady()
		resp.Checks[name] = healthCheckResult{Status: status, Message: msg}
		statuses = append(statuses, status)
	}
	resp.Status = overallStatus(statuses...)
	if h.dependencies != nil {
		resp.Dependencies = h.dependencies.Health()
	}

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
