// reaper.go — фоновое удаление истёкших записей.
//
// Проход: выбрать записи с expires_at <= now, удалить их директории,
// затем одним запросом удалить записи, чьи директории удалены
// (или уже отсутствовали). Запись, получившая за это время новую
// директорию, не удаляется. Запись с ошибкой удаления директории
// остаётся в хранилище и обрабатывается следующим проходом.
//
// Запускается как горутина с периодическим тикером (SH_REAP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/site-host/internal/api/middleware"
	"github.com/bigkaa/goartstore/site-host/internal/repository"
)

// Prometheus метрики удаления истёкших записей
var (
	reaperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sh_reaper_runs_total",
		Help: "Количество проходов удаления истёкших записей",
	}, []string{"result"})

	reaperDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sh_reaper_deleted_total",
		Help: "Количество удалённых истёкших записей",
	})

	reaperErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sh_reaper_errors_total",
		Help: "Количество записей, директории которых не удалось удалить",
	})

	reaperDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sh_reaper_duration_seconds",
		Help:    "Длительность прохода удаления истёкших записей в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ReapResult — результат одного прохода.
type ReapResult struct {
	// Found — истёкших записей найдено
	Found int `json:"found"`
	// Deleted — записей удалено из хранилища
	Deleted int `json:"deleted"`
	// Errors — записей пропущено из-за ошибки удаления директории
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// DirRemover удаляет директорию загрузки вместе с её манифестом.
// Отсутствующая директория ошибкой не считается.
type DirRemover interface {
	RemoveDir(dir string) error
}

// Reaper — удаление истёкших записей.
type Reaper struct {
	store    repository.ContentStore
	files    DirRemover
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper создаёт сервис удаления истёкших записей.
func NewReaper(
	store repository.ContentStore,
	files DirRemover,
	interval time.Duration,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		store:    store,
		files:    files,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "reaper")),
	}
}

// WithClock подменяет источник времени.
func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Start запускает фоновую горутину с периодическим тикером.
func (r *Reaper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(runCtx)

	r.logger.Info("Удаление истёкших записей запущено",
		slog.String("interval", r.interval.String()),
	)
}

// Stop останавливает фоновый процесс и ждёт завершения текущего прохода.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("Удаление истёкших записей остановлено")
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	// Первый проход — сразу после старта
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход. Повторный проход без новых
// истёкших записей ничего не меняет.
func (r *Reaper) RunOnce(ctx context.Context) (*ReapResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	now := r.now().UTC()
	result := &ReapResult{}

	expired, err := r.store.FindExpired(ctx, now)
	if err != nil {
		reaperRunsTotal.WithLabelValues("error").Inc()
		r.logger.Error("Ошибка выборки истёкших записей", slog.String("error", err.Error()))
		return nil, err
	}
	result.Found = len(expired)

	handled := make([]repository.ReapTarget, 0, len(expired))
	for _, rec := range expired {
		if err := r.files.RemoveDir(rec.StorageDir); err != nil {
			r.logger.Error("Ошибка удаления директории истёкшей записи",
				slog.String("slug", rec.Slug),
				slog.String("storage_dir", rec.StorageDir),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		handled = append(handled, repository.ReapTarget{ID: rec.ID, StorageDir: rec.StorageDir})
	}

	if len(handled) > 0 {
		deleted, err := r.store.DeleteMany(ctx, handled, now)
		if err != nil {
			reaperRunsTotal.WithLabelValues("error").Inc()
			r.logger.Error("Ошибка удаления истёкших записей", slog.String("error", err.Error()))
			return nil, err
		}
		result.Deleted = deleted
	}

	result.Duration = time.Since(start)

	reaperRunsTotal.WithLabelValues("success").Inc()
	reaperDeletedTotal.Add(float64(result.Deleted))
	reaperErrorsTotal.Add(float64(result.Errors))
	reaperDurationSeconds.Observe(result.Duration.Seconds())
	r.refreshGauges(ctx, now)

	if result.Found > 0 {
		r.logger.Info("Удаление истёкших записей завершено",
			slog.Int("found", result.Found),
			slog.Int("deleted", result.Deleted),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	} else {
		r.logger.Debug("Истёкших записей нет")
	}

	return result, nil
}

// refreshGauges обновляет gauge-метрики записей после прохода.
func (r *Reaper) refreshGauges(ctx context.Context, now time.Time) {
	stats, err := r.store.Stats(ctx, now)
	if err != nil {
		r.logger.Debug("Не удалось получить статистику", slog.String("error", err.Error()))
		return
	}
	middleware.RecordsTotal.WithLabelValues("active").Set(float64(stats.ActiveRecords))
	middleware.RecordsTotal.WithLabelValues("expired").Set(float64(stats.ExpiredRecords))
	middleware.RecordsTotal.WithLabelValues("archived").Set(float64(stats.Archived))
	middleware.StorageBytes.Set(float64(stats.TotalSizeBytes))
}
