// auth.go — определение идентичности вызывающего.
// Два режима: Bearer JWT с проверкой подписи через JWKS и доверенный
// заголовок шлюза. В обоих случаях идентичность кладётся в контекст
// запроса и дальше читается через IdentityFromContext.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/api/errors"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyIdentity — идентичность вызывающего в контексте запроса.
const ContextKeyIdentity contextKey = "identity"

// WithIdentity возвращает контекст с идентичностью вызывающего
// и отмечает её для журнала запросов.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	noteIdentity(ctx, id)
	return context.WithValue(ctx, ContextKeyIdentity, id)
}

// IdentityFromContext извлекает идентичность вызывающего из контекста.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(ContextKeyIdentity).(model.Identity)
	return id, ok && id != ""
}

// JWTConfig — параметры JWT-аутентификации.
type JWTConfig struct {
	// JWKSURL — URL JWKS endpoint
	JWKSURL string
	// CACertPath — опциональный CA-сертификат для TLS к JWKS
	CACertPath string
	// Issuer — ожидаемый iss (пусто — не проверяется)
	Issuer string
	// IdentityClaim — claim с идентификатором субъекта
	IdentityClaim string
	// ClientTimeout — таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// RefreshInterval — интервал обновления ключей
	RefreshInterval time.Duration
	// Leeway — допустимое отклонение часов
	Leeway time.Duration
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks          keyfunc.Keyfunc
	logger        *slog.Logger
	issuer        string
	identityClaim string
	leeway        time.Duration
}

// NewJWTAuth создаёт JWT middleware с фоновым обновлением ключей JWKS.
func NewJWTAuth(cfg JWTConfig, logger *slog.Logger) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: cfg.ClientTimeout}
	if cfg.CACertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(cfg.CACertPath, cfg.ClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", cfg.CACertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, cfg, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с готовой keyfunc.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, cfg JWTConfig, logger *slog.Logger) *JWTAuth {
	claim := cfg.IdentityClaim
	if claim == "" {
		claim = "sub"
	}
	return &JWTAuth{
		jwks:          kf,
		logger:        logger.With(slog.String("component", "jwt_auth")),
		issuer:        cfg.Issuer,
		identityClaim: claim,
		leeway:        cfg.Leeway,
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Middleware возвращает HTTP middleware: извлекает Bearer token,
// проверяет подпись (RS256) и срок, берёт идентичность из claim.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthenticated(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthenticated(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthenticated(w, "Пустой Bearer token")
				return
			}

			claims := jwt.MapClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				reason := "token.Valid = false"
				if err != nil {
					reason = err.Error()
				}
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", reason),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthenticated(w, "Невалидный или просроченный токен")
				return
			}

			raw, _ := claims[j.identityClaim].(string)
			id := model.Identity(raw)
			if !id.Valid() {
				apierrors.Unauthenticated(w, fmt.Sprintf("Отсутствует %s в токене", j.identityClaim))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// HeaderAuth возвращает middleware, берущий идентичность из заголовка,
// выставленного доверенным шлюзом.
func HeaderAuth(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := model.Identity(strings.TrimSpace(r.Header.Get(header)))
			if !id.Valid() {
				apierrors.Unauthenticated(w, fmt.Sprintf("Отсутствует заголовок %s", header))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// --- ReadinessChecker для JWKS ---

// JWKSReadinessChecker — проверка доступности JWKS endpoint.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS.
func NewJWKSReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*JWKSReadinessChecker, error) {
	client := &http.Client{Timeout: timeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, timeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}

	return &JWKSReadinessChecker{
		jwksURL: jwksURL,
		client:  client,
	}, nil
}

// CheckReady проверяет, что JWKS endpoint отвечает и содержит ключи.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return "fail", "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return "fail", fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
