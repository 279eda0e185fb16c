// logging.go — журнал HTTP-запросов реестра через slog.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
)

// statusRecorder перехватывает статус-код и размер ответа.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// requestEntry — данные запроса, которые внутренние middleware дописывают
// для RequestLogger. Он стоит снаружи аутентификации и не видит
// контекст, созданный ею.
type requestEntry struct {
	identity model.Identity
}

const contextKeyRequestEntry contextKey = "request_entry"

// noteIdentity запоминает вызывающего для записи в журнал запросов.
func noteIdentity(ctx context.Context, id model.Identity) {
	if e, ok := ctx.Value(contextKeyRequestEntry).(*requestEntry); ok {
		e.identity = id
	}
}

// RequestLogger логирует каждый HTTP-запрос: шаблон маршрута, CID из пути
// и вызывающего, если аутентификация прошла. Уровень зависит от
// статус-кода: INFO (1xx-3xx), WARN (4xx), ERROR (5xx).
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := &requestEntry{}
			wrapped := newStatusRecorder(w)

			r = r.WithContext(context.WithValue(r.Context(), contextKeyRequestEntry, entry))
			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			if wrapped.statusCode >= 500 {
				level = slog.LevelError
			} else if wrapped.statusCode >= 400 {
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("route", normalizePath(r)),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			}
			if cid := routeParam(r, "cid"); cid != "" {
				attrs = append(attrs, slog.String("cid", cid))
			}
			if entry.identity != "" {
				attrs = append(attrs, slog.String("identity", entry.identity.String()))
			}
			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}
