// Пакет database — PostgreSQL-бэкенд реестра: пул pgxpool,
// миграции схемы (golang-migrate) и проверка готовности.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ApplicationName — application_name соединений реестра в pg_stat_activity.
const ApplicationName = "cid-registry"

// ErrDirtySchema — предыдущая миграция прервалась, схема требует ручного исправления.
var ErrDirtySchema = errors.New("схема БД в состоянии dirty")

// Connect создаёт пул подключений к PostgreSQL.
// Выполняет ping для проверки доступности.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("url", cfg.DatabaseURL()),
		slog.Int("max_conns", cfg.DBMaxConns),
	)

	return pool, nil
}

// Migrate применяет SQL-миграции схемы реестра (файлы, списки доступа,
// гранты, запросы, журнал событий). Если прошлый запуск оставил схему
// dirty, возвращает ErrDirtySchema и ничего не применяет.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	case dirty:
		return fmt.Errorf("%w: версия %d", ErrDirtySchema, from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	to, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	}
	logger.Info("Схема реестра актуальна",
		slog.Uint64("from_version", uint64(from)),
		slog.Uint64("version", uint64(to)),
	)

	return nil
}

// ReadinessChecker — проверка готовности PostgreSQL для health endpoint.
// Читает хвост журнала событий: так проверяется и соединение,
// и наличие схемы.
type ReadinessChecker struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool, timeout: 3 * time.Second}
}

// CheckReady возвращает "ok" с номером последнего события журнала
// либо "fail", если запрос не выполнился.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var lastSeq int64
	err := c.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&lastSeq)
	if err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	return "ok", fmt.Sprintf("журнал событий доступен, последнее событие #%d", lastSeq)
}
