// handler.go — основной обработчик HTTP API реестра.
// Тонкий адаптер: разбирает запрос, определяет вызывающего из контекста,
// вызывает RegistryService и сериализует результат.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/api/errors"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/api/middleware"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/service"
)

// maxBodyBytes — ограничение размера JSON-тела запроса.
const maxBodyBytes = 1 << 20

// APIHandler — обработчик API реестра.
type APIHandler struct {
	registry *service.RegistryService
	health   *HealthHandler
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	registry *service.RegistryService,
	health *HealthHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		registry: registry,
		health:   health,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// RegisterRoutes регистрирует все маршруты API на роутере.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Post("/", h.RegisterFile)
			r.Get("/", h.ListFiles)
			r.Route("/{cid}", func(r chi.Router) {
				r.Get("/", h.GetFile)
				r.Get("/access", h.CheckAccess)
				r.Post("/grants", h.GrantTimedAccess)
				r.Delete("/grants/{grantee}", h.RevokeAccess)
				r.Post("/access-requests", h.RequestAccess)
				r.Get("/events", h.QueryEvents)
			})
		})
		r.Get("/shared-with-me", h.GetSharedWithMe)
		r.Get("/access-requests", h.GetAccessRequests)
		r.Post("/access-requests/{index}/decision", h.DecideAccessRequest)
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса в dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("пустое тело запроса")
		}
		return fmt.Errorf("некорректный JSON в теле запроса: %w", err)
	}
	return nil
}

// caller возвращает идентичность вызывающего или пишет 401.
func (h *APIHandler) caller(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		apierrors.Unauthenticated(w, "Не удалось определить вызывающего")
	}
	return id, ok
}

// identityParam возвращает идентичность из query-параметра name
// либо вызывающего, если параметр не задан.
func identityParam(r *http.Request, name string, caller model.Identity) model.Identity {
	if v := r.URL.Query().Get(name); v != "" {
		return model.Identity(v)
	}
	return caller
}

// pathParam возвращает декодированный параметр пути.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// writeServiceError пишет ответ для ошибки ядра; внутренние ошибки логируются.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := apierrors.StatusFor(err); status == http.StatusInternalServerError {
		h.logger.Error("Внутренняя ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.FromService(w, err)
}

func toIdentities(ss []string) []model.Identity {
	out := make([]model.Identity, len(ss))
	for i, s := range ss {
		out[i] = model.Identity(s)
	}
	return out
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
