// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/site-host/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// StoreReadinessChecker — проверка готовности хранилища записей.
// Реализуется database.ReadinessChecker; для in-memory хранилища не задаётся.
type StoreReadinessChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — корень директорий загрузок (для проверки FS)
	dataDir string
	// walDir — путь к журналу загрузок
	walDir string
	// store — проверка хранилища записей; nil для in-memory
	store StoreReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// store может быть nil: тогда проверка хранилища всегда успешна.
func NewHealthHandler(dataDir, walDir string, store StoreReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dataDir: dataDir,
		walDir:  walDir,
		store:   store,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "site-host",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директорию данных, журнал загрузок, хранилище записей.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := checkWritable(h.dataDir, "Директория данных")
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Недоступный журнал не мешает отдавать контент, но загрузки упадут
	walCheck := checkWritable(h.walDir, "Директория журнала")
	if walCheck["status"] != "ok" && overallStatus != statusFail {
		overallStatus = "degraded"
	}

	storeCheck := h.checkStore()
	if storeCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "site-host",
		"checks": map[string]any{
			"filesystem": fsCheck,
			"wal":        walCheck,
			"store":      storeCheck,
		},
	})
}

func (h *HealthHandler) checkStore() map[string]any {
	if h.store == nil {
		return map[string]any{
			"status":  "ok",
			"message": "in-memory хранилище",
		}
	}
	status, message := h.store.CheckReady()
	return map[string]any{
		"status":  status,
		"message": message,
	}
}

// checkWritable проверяет, что в директорию можно писать.
func checkWritable(dir, title string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": title + " недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
