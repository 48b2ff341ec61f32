// Пакет config — загрузка и валидация конфигурации Site Host
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

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Типы хранилища записей.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config содержит все параметры конфигурации Site Host.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории директорий загрузок
	DataDir string
	// Путь к директории журнала загрузок
	WALDir string
	// Базовый URL для ссылок в ответах API (по умолчанию http://localhost:{port})
	BaseURL string

	// Тип хранилища записей: postgres или memory
	Store string
	// Параметры PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Максимальный размер одиночного документа в байтах
	MaxDocumentSize int64
	// Максимальный размер бандла (архива и суммы распакованных файлов) в байтах
	MaxBundleSize int64

	// Интервал удаления истёкших записей
	ReapInterval time.Duration
	// Интервал сверки директорий с хранилищем
	ReconcileInterval time.Duration
	// Удалять найденные сиротские директории
	ReconcilePurge bool
	// Минимальный возраст директории, которую сверка может считать сиротой
	ReconcileGrace time.Duration

	// Допустимые API-ключи
	APIKeys []string
	// Лимит запросов на ключ (или IP) за окно
	RateLimit  int
	RateWindow time.Duration
	// Стоимость bcrypt для паролей страниц
	BcryptCost int
	// Размер и время жизни кэша успешных проверок паролей (0 — кэш выключен)
	PasswordCacheSize int
	PasswordCacheTTL  time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Если задан SH_ENV_FILE, переменные предварительно читаются из файла;
// уже заданные в окружении значения не перезаписываются.
func Load() (*Config, error) {
	if envFile := os.Getenv("SH_ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("SH_ENV_FILE: ошибка чтения %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	var err error

	// SH_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("SH_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SH_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SH_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// SH_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("SH_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// SH_WAL_DIR — обязательный
	cfg.WALDir, err = getEnvRequired("SH_WAL_DIR")
	if err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(getEnvDefault("SH_BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("SH_BASE_URL: некорректный URL %q", cfg.BaseURL)
	}

	// SH_STORE — тип хранилища (по умолчанию postgres)
	cfg.Store = getEnvDefault("SH_STORE", StorePostgres)
	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		return nil, fmt.Errorf("SH_STORE: недопустимое значение %q, допустимые: postgres, memory", cfg.Store)
	}

	cfg.DBHost = getEnvDefault("SH_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("SH_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SH_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("SH_DB_NAME", "sitehost")
	cfg.DBUser = getEnvDefault("SH_DB_USER", "sitehost")
	cfg.DBPassword = os.Getenv("SH_DB_PASSWORD")
	cfg.DBSSLMode = getEnvDefault("SH_DB_SSL_MODE", "disable")

	// SH_MAX_DOCUMENT_SIZE — максимальный размер документа (по умолчанию 10 MiB)
	cfg.MaxDocumentSize, err = getEnvInt64("SH_MAX_DOCUMENT_SIZE", 10<<20)
	if err != nil {
		return nil, fmt.Errorf("SH_MAX_DOCUMENT_SIZE: %w", err)
	}
	if cfg.MaxDocumentSize <= 0 {
		return nil, fmt.Errorf("SH_MAX_DOCUMENT_SIZE: значение должно быть положительным")
	}

	// SH_MAX_BUNDLE_SIZE — максимальный размер бандла (по умолчанию 50 MiB)
	cfg.MaxBundleSize, err = getEnvInt64("SH_MAX_BUNDLE_SIZE", 50<<20)
	if err != nil {
		return nil, fmt.Errorf("SH_MAX_BUNDLE_SIZE: %w", err)
	}
	if cfg.MaxBundleSize <= 0 {
		return nil, fmt.Errorf("SH_MAX_BUNDLE_SIZE: значение должно быть положительным")
	}

	// SH_REAP_INTERVAL — интервал удаления истёкших записей (по умолчанию 1h)
	cfg.ReapInterval, err = getEnvDuration("SH_REAP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SH_REAP_INTERVAL: %w", err)
	}

	// SH_RECONCILE_INTERVAL — интервал сверки (по умолчанию 6h)
	cfg.ReconcileInterval, err = getEnvDuration("SH_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SH_RECONCILE_INTERVAL: %w", err)
	}

	cfg.ReconcilePurge, err = getEnvBool("SH_RECONCILE_PURGE", false)
	if err != nil {
		return nil, fmt.Errorf("SH_RECONCILE_PURGE: %w", err)
	}

	cfg.ReconcileGrace, err = getEnvDuration("SH_RECONCILE_GRACE", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SH_RECONCILE_GRACE: %w", err)
	}

	// SH_API_KEYS — список ключей через запятую (пусто — запись через API недоступна)
	cfg.APIKeys = splitList(os.Getenv("SH_API_KEYS"))

	cfg.RateLimit, err = getEnvInt("SH_RATE_LIMIT", 100)
	if err != nil {
		return nil, fmt.Errorf("SH_RATE_LIMIT: %w", err)
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("SH_RATE_LIMIT: значение не может быть отрицательным")
	}
	cfg.RateWindow, err = getEnvDuration("SH_RATE_WINDOW", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SH_RATE_WINDOW: %w", err)
	}
	if cfg.RateWindow <= 0 {
		return nil, fmt.Errorf("SH_RATE_WINDOW: значение должно быть положительным")
	}

	// SH_BCRYPT_COST — стоимость bcrypt (4..31, по умолчанию 12)
	cfg.BcryptCost, err = getEnvInt("SH_BCRYPT_COST", 12)
	if err != nil {
		return nil, fmt.Errorf("SH_BCRYPT_COST: %w", err)
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("SH_BCRYPT_COST: значение %d вне диапазона 4-31", cfg.BcryptCost)
	}

	// SH_PASSWORD_CACHE_SIZE / SH_PASSWORD_CACHE_TTL — кэш проверок паролей (1024 / 10m)
	cfg.PasswordCacheSize, err = getEnvInt("SH_PASSWORD_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("SH_PASSWORD_CACHE_SIZE: %w", err)
	}
	if cfg.PasswordCacheSize < 0 {
		return nil, fmt.Errorf("SH_PASSWORD_CACHE_SIZE: значение не может быть отрицательным: %d", cfg.PasswordCacheSize)
	}
	cfg.PasswordCacheTTL, err = getEnvDuration("SH_PASSWORD_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SH_PASSWORD_CACHE_TTL: %w", err)
	}

	// SH_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SH_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SH_LOG_LEVEL: %w", err)
	}

	// SH_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SH_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SH_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.DephealthCheckInterval, err = getEnvDuration("SH_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SH_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("SH_DEPHEALTH_GROUP", "site-host")

	// SH_SHUTDOWN_TIMEOUT — таймаут graceful shutdown HTTP-сервера (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("SH_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SH_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return c.databaseURL("postgres")
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return c.databaseURL("pgx5")
}

func (c *Config) databaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
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

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// splitList разбирает список через запятую, отбрасывая пустые элементы.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
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
