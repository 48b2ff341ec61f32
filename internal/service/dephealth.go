// dephealth.go — мониторинг PostgreSQL через topologymetrics SDK.
//
// Проверка идёт через *sql.DB поверх общего pgxpool (connection pool mode),
// поэтому исчерпание пула видно так же, как отказ базы. Зависимость
// критическая: без неё Site Host не может ни принимать, ни отдавать контент.
// Для SH_STORE=memory мониторинг не создаётся.
//
// Метрики SDK (app_dependency_health, app_dependency_latency_seconds,
// app_dependency_status) публикуются на /metrics.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// dependencyName — имя зависимости в метриках.
const dependencyName = "postgresql"

// DephealthConfig — параметры мониторинга.
type DephealthConfig struct {
	// ServiceID — имя вершины графа (см. serviceID в cmd/site-host)
	ServiceID string
	// Group — SH_DEPHEALTH_GROUP
	Group string
	// DB — адаптер пула, stdlib.OpenDBFromPool
	DB *sql.DB
	// DSN — только для лейблов host/port, подключение идёт через DB
	DSN           string
	CheckInterval time.Duration
	// Registerer — nil означает глобальный registry
	Registerer prometheus.Registerer
}

// DephealthService — мониторинг зависимостей Site Host.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт мониторинг PostgreSQL.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	if cfg.DB == nil {
		return nil, errors.New("dephealth: не задан *sql.DB")
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency(dependencyName, dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.DSN),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодические проверки.
func (ds *DephealthService) Start(ctx context.Context) error {
	if err := ds.dh.Start(ctx); err != nil {
		return err
	}
	ds.logger.Info("Мониторинг PostgreSQL запущен")
	return nil
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг PostgreSQL остановлен")
}

// DatabaseHealthy сообщает результат последней проверки PostgreSQL.
// До первой проверки возвращает false.
func (ds *DephealthService) DatabaseHealthy() bool {
	for key, ok := range ds.dh.Health() {
		// ключи вида "postgresql:host:port"
		if strings.HasPrefix(key, dependencyName+":") {
			return ok
		}
	}
	return false
}
