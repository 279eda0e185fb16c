// Пакет config — загрузка и валидация конфигурации реестра CID
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Режимы определения вызывающего субъекта.
const (
	AuthJWT    = "jwt"
	AuthHeader = "header"
)

// Config содержит все параметры конфигурации реестра.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Хранилище ---

	// Бэкенд хранилища: memory или postgres
	StoreBackend string

	// --- PostgreSQL (только для StoreBackend = postgres) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальный размер пула соединений
	DBMaxConns int

	// --- Аутентификация ---

	// Режим: jwt (Bearer JWT через JWKS) или header (доверенный заголовок шлюза)
	AuthMode string
	// URL JWKS endpoint (обязателен в режиме jwt)
	JWTJWKSURL string
	// Ожидаемый issuer JWT (пусто — не проверяется)
	JWTIssuer string
	// Claim, из которого берётся идентификатор субъекта
	JWTIdentityClaim string
	// Допустимое отклонение часов при проверке JWT
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Путь к CA-сертификату для TLS к JWKS (опционально)
	CACertPath string
	// Заголовок с идентификатором субъекта (режим header)
	IdentityHeader string

	// --- Ядро ---

	// Максимальная длительность одного временного гранта
	MaxGrantDuration time.Duration
	// Размер кэша записей файлов (0 — кэш отключён)
	FileCacheSize int
	// Время жизни записи в кэше
	FileCacheTTL time.Duration

	// --- Мониторинг зависимостей ---

	// Группа в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CR_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("CR_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("CR_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CR_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// CR_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CR_LOG_LEVEL: %w", err)
	}

	// CR_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// CR_HTTP_READ_TIMEOUT — таймаут чтения (по умолчанию 15s)
	cfg.HTTPReadTimeout, err = getEnvDuration("CR_HTTP_READ_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CR_HTTP_READ_TIMEOUT: %w", err)
	}

	// CR_HTTP_WRITE_TIMEOUT — таймаут записи (по умолчанию 30s)
	cfg.HTTPWriteTimeout, err = getEnvDuration("CR_HTTP_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CR_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// CR_HTTP_IDLE_TIMEOUT — таймаут простоя (по умолчанию 60s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("CR_HTTP_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CR_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Хранилище ---

	// CR_STORE_BACKEND — memory или postgres (по умолчанию memory)
	cfg.StoreBackend = strings.ToLower(getEnvDefault("CR_STORE_BACKEND", StoreMemory))
	if cfg.StoreBackend != StoreMemory && cfg.StoreBackend != StorePostgres {
		return nil, fmt.Errorf("CR_STORE_BACKEND: недопустимое значение %q, допустимые: memory, postgres", cfg.StoreBackend)
	}

	if cfg.StoreBackend == StorePostgres {
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	}

	// --- Аутентификация ---

	// CR_AUTH_MODE — jwt или header (по умолчанию jwt)
	cfg.AuthMode = strings.ToLower(getEnvDefault("CR_AUTH_MODE", AuthJWT))
	switch cfg.AuthMode {
	case AuthJWT:
		// CR_JWT_JWKS_URL — обязательный в режиме jwt
		cfg.JWTJWKSURL, err = getEnvRequired("CR_JWT_JWKS_URL")
		if err != nil {
			return nil, err
		}
		if u, parseErr := url.Parse(cfg.JWTJWKSURL); parseErr != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("CR_JWT_JWKS_URL: некорректный URL %q", cfg.JWTJWKSURL)
		}
	case AuthHeader:
	default:
		return nil, fmt.Errorf("CR_AUTH_MODE: недопустимое значение %q, допустимые: jwt, header", cfg.AuthMode)
	}

	// CR_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = getEnvDefault("CR_JWT_ISSUER", "")

	// CR_JWT_IDENTITY_CLAIM — claim идентификатора (по умолчанию sub)
	cfg.JWTIdentityClaim = getEnvDefault("CR_JWT_IDENTITY_CLAIM", "sub")

	// CR_JWT_LEEWAY — допуск часов (по умолчанию 5s)
	cfg.JWTLeeway, err = getEnvDuration("CR_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CR_JWT_LEEWAY: %w", err)
	}

	// CR_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("CR_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CR_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// CR_JWKS_REFRESH_INTERVAL — интервал обновления JWKS (по умолчанию 15m)
	cfg.JWKSRefreshInterval, err = getEnvDuration("CR_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CR_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// CR_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.CACertPath = getEnvDefault("CR_CA_CERT_PATH", "")

	// CR_IDENTITY_HEADER — заголовок субъекта (по умолчанию X-Identity)
	cfg.IdentityHeader = getEnvDefault("CR_IDENTITY_HEADER", "X-Identity")

	// --- Ядро ---

	// CR_MAX_GRANT_DURATION — максимальная длительность гранта (по умолчанию 10 лет)
	cfg.MaxGrantDuration, err = getEnvDuration("CR_MAX_GRANT_DURATION", 10*365*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CR_MAX_GRANT_DURATION: %w", err)
	}
	if cfg.MaxGrantDuration < time.Second {
		return nil, fmt.Errorf("CR_MAX_GRANT_DURATION: значение %s меньше 1s", cfg.MaxGrantDuration)
	}

	// CR_FILE_CACHE_SIZE — размер кэша (по умолчанию 10000, 0 — отключён)
	cfg.FileCacheSize, err = getEnvInt("CR_FILE_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("CR_FILE_CACHE_SIZE: %w", err)
	}
	if cfg.FileCacheSize < 0 {
		return nil, fmt.Errorf("CR_FILE_CACHE_SIZE: значение %d не может быть отрицательным", cfg.FileCacheSize)
	}

	// CR_FILE_CACHE_TTL — время жизни записи кэша (по умолчанию 5m)
	cfg.FileCacheTTL, err = getEnvDuration("CR_FILE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CR_FILE_CACHE_TTL: %w", err)
	}

	// --- Мониторинг зависимостей ---

	// CR_DEPHEALTH_GROUP — группа в метриках (по умолчанию cid-registry)
	cfg.DephealthGroup = getEnvDefault("CR_DEPHEALTH_GROUP", "cid-registry")

	// CR_DEPHEALTH_CHECK_INTERVAL — интервал проверки (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("CR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// CR_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("CR_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadDatabase читает параметры PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error

	// CR_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("CR_DB_HOST")
	if err != nil {
		return err
	}

	// CR_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("CR_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("CR_DB_PORT: %w", err)
	}

	// CR_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("CR_DB_NAME")
	if err != nil {
		return err
	}

	// CR_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("CR_DB_USER")
	if err != nil {
		return err
	}

	// CR_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("CR_DB_PASSWORD")
	if err != nil {
		return err
	}

	// CR_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("CR_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("CR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// CR_DB_MAX_CONNS — размер пула (по умолчанию 10)
	cfg.DBMaxConns, err = getEnvInt("CR_DB_MAX_CONNS", 10)
	if err != nil {
		return fmt.Errorf("CR_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return fmt.Errorf("CR_DB_MAX_CONNS: значение %d меньше 1", cfg.DBMaxConns)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик и логов).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.User(c.DBUser),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	return u.String()
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
