// Пакет server — HTTP-сервер реестра с graceful shutdown.
// Без TLS: HTTP внутри кластера, TLS termination на шлюзе.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/config"
)

// RouteRegistrar регистрирует маршруты API на роутере.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Server — HTTP-сервер реестра.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с маршрутами handler и middleware,
// применяемыми в порядке переданного среза.
func New(cfg *config.Config, logger *slog.Logger, handler RouteRegistrar, middlewares ...func(http.Handler) http.Handler) *Server {
	router := chi.NewRouter()
	for _, mw := range middlewares {
		router.Use(mw)
	}
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Handler возвращает корневой HTTP handler сервера.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// AuthWithExclusions оборачивает middleware аутентификации, пропуская
// запросы к путям, начинающимся с любого из excludePrefixes.
func AuthWithExclusions(mw func(http.Handler) http.Handler, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и блокируется до отмены ctx (сигнал завершения)
// или ошибки сервера. При отмене ctx выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
