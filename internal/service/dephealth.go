// dephealth.go — мониторинг внешних зависимостей через topologymetrics SDK.
//
// Реестр мониторит до двух зависимостей, в зависимости от конфигурации:
//   - PostgreSQL — SQL checker через существующий pgxpool (pool mode, critical),
//     только при CR_STORE_BACKEND=postgres
//   - JWKS endpoint — HTTP checker (critical), только при CR_AUTH_MODE=jwt
//
// Метрики app_dependency_* публикуются на /metrics.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для JWKS
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies — нечего мониторить (memory-хранилище и header-аутентификация).
var ErrNoDependencies = errors.New("нет зависимостей для мониторинга")

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (CR_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB поверх pgxpool (stdlib.OpenDBFromPool); nil — без PostgreSQL
	DB *sql.DB
	// PostgresURL — URL PostgreSQL для лейблов метрик
	PostgresURL string
	// JWKSURL — URL JWKS endpoint; пусто — без проверки JWKS
	JWKSURL string
	// CheckInterval — интервал проверки (CR_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// Registerer — Prometheus registerer; nil — глобальный
	Registerer prometheus.Registerer
}

// DephealthService — сервис мониторинга зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	names  []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга.
// Возвращает ErrNoDependencies, если ни одна зависимость не сконфигурирована.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	opts := []dephealth.Option{dephealth.WithLogger(logger)}
	var names []string

	if cfg.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		))
		names = append(names, "postgresql")
	}
	if cfg.JWKSURL != "" {
		opts = append(opts, dephealth.HTTP("jwks",
			dephealth.FromURL(cfg.JWKSURL),
			dephealth.WithHTTPHealthPath(jwksHealthPath(cfg.JWKSURL)),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		))
		names = append(names, "jwks")
	}
	if len(names) == 0 {
		return nil, ErrNoDependencies
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		names:  names,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// jwksHealthPath возвращает path самого JWKS URL: это подтверждает
// доступность ключей, а не только порта.
func jwksHealthPath(jwksURL string) string {
	if parsed, err := url.Parse(jwksURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return "/health"
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен", slog.Any("dependencies", ds.names))
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает состояние зависимостей: имя → true, если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
