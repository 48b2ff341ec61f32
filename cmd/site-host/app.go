// app.go — сборка компонентов Site Host из конфигурации.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/site-host/internal/api/handlers"
	"github.com/bigkaa/goartstore/site-host/internal/config"
	"github.com/bigkaa/goartstore/site-host/internal/database"
	"github.com/bigkaa/goartstore/site-host/internal/repository"
	"github.com/bigkaa/goartstore/site-host/internal/service"
	"github.com/bigkaa/goartstore/site-host/internal/storage/filestore"
	"github.com/bigkaa/goartstore/site-host/internal/storage/index"
	"github.com/bigkaa/goartstore/site-host/internal/storage/wal"
)

// app — общие зависимости команд.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   repository.ContentStore
	files   *filestore.FileStore
	journal *wal.Journal

	// pool и sqlDB заданы только для SH_STORE=postgres
	pool  *pgxpool.Pool
	sqlDB *sql.DB
}

// newApp загружает конфигурацию и открывает хранилища.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}
	logger := config.SetupLogger(cfg)

	a := &app{cfg: cfg, logger: logger}

	// 1. Журнал загрузок
	a.journal, err = wal.New(cfg.WALDir, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации журнала: %w", err)
	}

	// 2. Директория данных
	a.files, err = filestore.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации FileStore: %w", err)
	}

	// 3. Хранилище записей
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("Используется in-memory хранилище: записи не переживут рестарт")
		a.store = index.New(logger)
	default:
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, err
		}
		a.pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.store = repository.NewContentRepository(a.pool)
	}

	return a, nil
}

// readiness возвращает проверку хранилища для /health/ready.
func (a *app) readiness() handlers.StoreReadinessChecker {
	if a.pool == nil {
		return nil
	}
	return database.NewReadinessChecker(a.pool)
}

// ingestService создаёт конвейер приёма контента.
func (a *app) ingestService() *service.IngestService {
	return service.NewIngestService(service.IngestConfig{
		MaxDocumentSize: a.cfg.MaxDocumentSize,
		MaxBundleSize:   a.cfg.MaxBundleSize,
		BcryptCost:      a.cfg.BcryptCost,
	}, a.store, a.files, a.journal, a.logger)
}

func (a *app) contentService() *service.ContentService {
	svc := service.NewContentService(a.store, a.files, a.logger)
	if a.cfg.PasswordCacheSize > 0 {
		svc.WithPasswordCache(service.NewPasswordCache(a.cfg.PasswordCacheSize, a.cfg.PasswordCacheTTL))
	}
	return svc
}

func (a *app) reaper() *service.Reaper {
	return service.NewReaper(a.store, a.files, a.cfg.ReapInterval, a.logger)
}

func (a *app) reconciler() *service.Reconciler {
	return service.NewReconciler(a.store, a.files, a.journal, service.ReconcileConfig{
		Interval: a.cfg.ReconcileInterval,
		Grace:    a.cfg.ReconcileGrace,
		Purge:    a.cfg.ReconcilePurge,
	}, a.logger)
}

// dephealth запускает мониторинг PostgreSQL. Для in-memory хранилища
// и при ошибке SDK возвращает nil: сервис работает без мониторинга.
func (a *app) dephealth(ctx context.Context) *service.DephealthService {
	if a.pool == nil {
		return nil
	}
	a.sqlDB = stdlib.OpenDBFromPool(a.pool)

	ds, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     serviceID(a.cfg.DephealthGroup),
		Group:         a.cfg.DephealthGroup,
		DB:            a.sqlDB,
		DSN:           a.cfg.DatabaseDSN(),
		CheckInterval: a.cfg.DephealthCheckInterval,
	}, a.logger)
	if err != nil {
		a.logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := ds.Start(ctx); err != nil {
		a.logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	a.logger.Info("topologymetrics запущен",
		slog.String("check_interval", a.cfg.DephealthCheckInterval.String()),
	)
	return ds
}

// close освобождает подключения к базе.
func (a *app) close() {
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
