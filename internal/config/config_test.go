package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setEnvVars устанавливает переменные окружения для теста и возвращает
// функцию очистки. Всегда вызывать defer cleanup().
func setEnvVars(t *testing.T, vars map[string]string) func() {
	t.Helper()

	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for k := range vars {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
	}
	for k, v := range vars {
		os.Setenv(k, v)
	}

	return func() {
		for k := range vars {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// clearAllSHEnvVars очищает все переменные окружения SH_* для чистого теста.
func clearAllSHEnvVars(t *testing.T) func() {
	t.Helper()
	var keys []string
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, "SH_") {
			keys = append(keys, k)
		}
	}
	originals := make(map[string]string)
	for _, k := range keys {
		originals[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for _, kv := range os.Environ() {
			if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, "SH_") {
				os.Unsetenv(k)
			}
		}
		for k, v := range originals {
			os.Setenv(k, v)
		}
	}
}

// requiredEnvVars возвращает минимальный набор обязательных переменных.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"SH_DATA_DIR": "/tmp/sh-data",
		"SH_WAL_DIR":  "/tmp/sh-wal",
	}
}

// TestLoad_Defaults проверяет значения по умолчанию.
func TestLoad_Defaults(t *testing.T) {
	defer clearAllSHEnvVars(t)()
	defer setEnvVars(t, requiredEnvVars())()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port: хотели 8080, получили %d", cfg.Port)
	}
	if cfg.Store != StorePostgres {
		t.Errorf("Store: хотели postgres, получили %s", cfg.Store)
	}
	if cfg.MaxDocumentSize != 10<<20 || cfg.MaxBundleSize != 50<<20 {
		t.Errorf("лимиты: %d / %d", cfg.MaxDocumentSize, cfg.MaxBundleSize)
	}
	if cfg.ReapInterval != time.Hour || cfg.ReconcileInterval != 6*time.Hour {
		t.Errorf("интервалы: %v / %v", cfg.ReapInterval, cfg.ReconcileInterval)
	}
	if cfg.ReconcilePurge {
		t.Error("ReconcilePurge по умолчанию должен быть false")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost: хотели 12, получили %d", cfg.BcryptCost)
	}
	if cfg.PasswordCacheSize != 1024 || cfg.PasswordCacheTTL != 10*time.Minute {
		t.Errorf("кэш паролей: %d / %v", cfg.PasswordCacheSize, cfg.PasswordCacheTTL)
	}
	if cfg.RateLimit != 100 || cfg.RateWindow != 15*time.Minute {
		t.Errorf("rate limit: %d / %v", cfg.RateLimit, cfg.RateWindow)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
		t.Errorf("логирование: %v / %s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL: получили %s", cfg.BaseURL)
	}
	if len(cfg.APIKeys) != 0 {
		t.Errorf("APIKeys: ожидался пустой список, получили %v", cfg.APIKeys)
	}
}

// TestLoad_MissingRequired проверяет ошибки для обязательных переменных.
func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{"SH_DATA_DIR", "SH_WAL_DIR"} {
		t.Run(key, func(t *testing.T) {
			defer clearAllSHEnvVars(t)()
			vars := requiredEnvVars()
			delete(vars, key)
			defer setEnvVars(t, vars)()

			_, err := Load()
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка должна содержать %s: %v", key, err)
			}
		})
	}
}

// TestLoad_InvalidValues проверяет валидацию значений.
func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"SH_PORT":                "70000",
		"SH_STORE":               "sqlite",
		"SH_MAX_DOCUMENT_SIZE":   "0",
		"SH_MAX_BUNDLE_SIZE":     "abc",
		"SH_REAP_INTERVAL":       "soon",
		"SH_RECONCILE_PURGE":     "maybe",
		"SH_BCRYPT_COST":         "2",
		"SH_PASSWORD_CACHE_SIZE": "-1",
		"SH_RATE_WINDOW":         "0s",
		"SH_LOG_LEVEL":           "verbose",
		"SH_LOG_FORMAT":          "xml",
		"SH_BASE_URL":            "not a url",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			defer clearAllSHEnvVars(t)()
			vars := requiredEnvVars()
			vars[key] = val
			defer setEnvVars(t, vars)()

			_, err := Load()
			if err == nil {
				t.Fatalf("%s=%s: ожидалась ошибка", key, val)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка должна содержать %s: %v", key, err)
			}
		})
	}
}

// TestLoad_APIKeys проверяет разбор списка ключей.
func TestLoad_APIKeys(t *testing.T) {
	defer clearAllSHEnvVars(t)()
	vars := requiredEnvVars()
	vars["SH_API_KEYS"] = " key-one, ,key-two ,"
	defer setEnvVars(t, vars)()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "key-one" || cfg.APIKeys[1] != "key-two" {
		t.Errorf("APIKeys: получили %q", cfg.APIKeys)
	}
}

// TestLoad_EnvFile проверяет чтение .env файла без перезаписи окружения.
func TestLoad_EnvFile(t *testing.T) {
	defer clearAllSHEnvVars(t)()

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "SH_DATA_DIR=/from/file\nSH_WAL_DIR=/from/file/wal\nSH_PORT=9090\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	defer setEnvVars(t, map[string]string{
		"SH_ENV_FILE": envFile,
		"SH_PORT":     "9191",
	})()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.DataDir != "/from/file" {
		t.Errorf("DataDir: получили %s", cfg.DataDir)
	}
	if cfg.Port != 9191 {
		t.Errorf("переменная окружения должна иметь приоритет над файлом: Port=%d", cfg.Port)
	}
}

// TestDatabaseURLs проверяет формирование строк подключения.
func TestDatabaseURLs(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5433, DBName: "sitehost",
		DBUser: "sh", DBPassword: "p@ss", DBSSLMode: "disable",
	}
	if got, want := cfg.DatabaseDSN(), "postgres://sh:p%40ss@db:5433/sitehost?sslmode=disable"; got != want {
		t.Errorf("DatabaseDSN: хотели %s, получили %s", want, got)
	}
	if !strings.HasPrefix(cfg.MigrateURL(), "pgx5://") {
		t.Errorf("MigrateURL: получили %s", cfg.MigrateURL())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo,
		"warning": slog.LevelWarn, "error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("parseLogLevel(%q) = %v, %v", in, got, err)
		}
	}
}
