// Точка входа реестра CID — учёт файлов по content identifier
// с разграничением доступа и журналом аудита.
// Загружает конфигурацию, выбирает хранилище (memory или PostgreSQL),
// настраивает аутентификацию (JWT через JWKS или доверенный заголовок),
// запускает мониторинг зависимостей и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/api/handlers"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/api/middleware"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/config"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/database"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/repository"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/server"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Реестр CID запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.StoreBackend),
		slog.String("auth_mode", cfg.AuthMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Реестр CID завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Реестр CID остановлен")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	checkers := make(map[string]handlers.ReadinessChecker)
	dependencies := service.DephealthConfig{
		ServiceID:     "cid-registry",
		Group:         cfg.DephealthGroup,
		CheckInterval: cfg.DephealthCheckInterval,
	}

	// 3. Хранилище реестра
	var store ledger.Store
	switch cfg.StoreBackend {
	case config.StorePostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return err
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт
		// через общий пул и замечает его исчерпание.
		pgDB := stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		store = repository.NewStore(pool, logger)
		checkers["postgresql"] = database.NewReadinessChecker(pool)
		dependencies.DB = pgDB
		dependencies.PostgresURL = cfg.DatabaseURL()
	default:
		logger.Warn("Используется memory-хранилище, данные не переживут перезапуск")
		store = ledger.NewMemoryStore(logger)
	}

	// 4. Сервисный слой
	var cache *service.FileCache
	if cfg.FileCacheSize > 0 {
		cache = service.NewFileCache(cfg.FileCacheSize, cfg.FileCacheTTL)
	}
	registry := service.NewRegistryService(store, cache, cfg.MaxGrantDuration, logger)

	// 5. Аутентификация
	var auth func(http.Handler) http.Handler
	switch cfg.AuthMode {
	case config.AuthJWT:
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTConfig{
			JWKSURL:         cfg.JWTJWKSURL,
			CACertPath:      cfg.CACertPath,
			Issuer:          cfg.JWTIssuer,
			IdentityClaim:   cfg.JWTIdentityClaim,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			Leeway:          cfg.JWTLeeway,
		}, logger)
		if err != nil {
			return err
		}
		jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
		if err != nil {
			return err
		}
		auth = jwtAuth.Middleware()
		checkers["jwks"] = jwksChecker
		dependencies.JWKSURL = cfg.JWTJWKSURL
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
			slog.String("identity_claim", cfg.JWTIdentityClaim),
		)
	default:
		logger.Warn("Субъект берётся из заголовка без проверки, допустимо только за доверенным шлюзом",
			slog.String("header", cfg.IdentityHeader),
		)
		auth = middleware.HeaderAuth(cfg.IdentityHeader)
	}

	// 6. Health endpoints и topologymetrics
	healthHandler := handlers.NewHealthHandler(checkers)
	dephealthSvc, err := service.NewDephealthService(dependencies, logger)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("Мониторинг зависимостей не требуется")
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			defer dephealthSvc.Stop()
			healthHandler.WithDependencies(dephealthSvc)
		}
	}

	// 7. HTTP-сервер
	apiHandler := handlers.NewAPIHandler(registry, healthHandler, logger)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.AuthWithExclusions(auth, "/health", "/metrics"),
	)
	return srv.Run(ctx)
}
