// maintenance.go — обработчик POST /api/v2/maintenance/reconcile.
// Делегирует сверку в Reconciler.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/site-host/internal/api/errors"
	"github.com/bigkaa/goartstore/site-host/internal/service"
)

// ReconcileRunner — интерфейс для запуска сверки.
// Позволяет тестировать handler без полного Reconciler.
type ReconcileRunner interface {
	// RunOnce выполняет один цикл сверки.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.ReconcileResult, bool, error)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
	logger     *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "maintenance_api")),
	}
}

// Reconcile обрабатывает POST /api/v2/maintenance/reconcile.
// Запускает синхронный цикл сверки и возвращает отчёт.
// Если сверка уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, inProgress, err := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Reconciliation already in progress")
		return
	}
	if err != nil {
		h.logger.Error("Ошибка сверки", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Reconciliation failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
