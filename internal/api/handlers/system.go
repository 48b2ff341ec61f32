// system.go — обработчик GET /api/v2 (описание API Site Host).
// Публичный endpoint (без аутентификации) для клиентов и мониторинга.
package handlers

import (
	"net/http"

	"github.com/bigkaa/goartstore/site-host/internal/config"
	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
)

// endpointInfo — описание одного endpoint в документе discovery.
type endpointInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

var apiEndpoints = []endpointInfo{
	{http.MethodPost, "/api/v2/upload", "Upload HTML or base64 ZIP content"},
	{http.MethodPut, "/api/v2/upload/{slug}", "Replace content of an existing slug"},
	{http.MethodGet, "/api/v2/file/{slug}", "Get content metadata"},
	{http.MethodDelete, "/api/v2/file/{slug}", "Delete content"},
	{http.MethodPost, "/api/v2/archive/{slug}", "Archive content"},
	{http.MethodPost, "/api/v2/unarchive/{slug}", "Restore archived content"},
	{http.MethodGet, "/api/v2/check-slug/{slug}", "Check slug availability"},
	{http.MethodGet, "/api/v2/files", "List content (search, limit, offset)"},
	{http.MethodGet, "/api/v2/stats", "Storage statistics"},
	{http.MethodPost, "/api/v2/maintenance/reconcile", "Run storage reconciliation"},
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg *config.Config
}

// NewSystemHandler создаёт обработчик системных endpoints.
func NewSystemHandler(cfg *config.Config) *SystemHandler {
	return &SystemHandler{cfg: cfg}
}

// GetAPIInfo обрабатывает GET /api/v2.
func (h *SystemHandler) GetAPIInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       "site-host",
		"version":    config.Version,
		"apiVersion": "v2",
		"auth": map[string]any{
			"headers":    []string{"X-API-Key", "Authorization: Bearer <key>"},
			"configured": len(h.cfg.APIKeys) > 0,
		},
		"rateLimit": map[string]any{
			"limit":         h.cfg.RateLimit,
			"windowSeconds": int(h.cfg.RateWindow.Seconds()),
		},
		"limits": map[string]any{
			"maxDocumentSize": h.cfg.MaxDocumentSize,
			"maxBundleSize":   h.cfg.MaxBundleSize,
		},
		"durations": []model.Duration{
			model.Duration1Day,
			model.Duration30Days,
			model.Duration6Months,
			model.DurationPermanent,
		},
		"defaultDuration": model.DefaultDuration,
		"endpoints":       apiEndpoints,
	})
}
