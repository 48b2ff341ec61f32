// reconcile.go — сверка директорий загрузок с записями хранилища.
//
// Обнаруживает:
//   - orphaned_dir: директория без записи (например, после сбоя удаления);
//   - missing_dir: запись, директория которой отсутствует.
//
// Директории незавершённых загрузок (есть запись журнала) и директории
// моложе периода ожидания не считаются осиротевшими. При включённой
// очистке осиротевшие директории удаляются.
//
// Запускается как горутина с периодическим тикером (SH_RECONCILE_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/site-host/internal/repository"
	"github.com/bigkaa/goartstore/site-host/internal/storage/filestore"
	"github.com/bigkaa/goartstore/site-host/internal/storage/wal"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sh_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileOrphansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sh_reconcile_orphans_total",
		Help: "Количество расхождений между записями и директориями",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sh_reconcile_duration_seconds",
		Help:    "Длительность сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// IssueType — тип расхождения.
type IssueType string

const (
	IssueOrphanedDir IssueType = "orphaned_dir"
	IssueMissingDir  IssueType = "missing_dir"
)

// ReconcileIssue — найденное расхождение.
type ReconcileIssue struct {
	Type        IssueType `json:"type"`
	StorageDir  string    `json:"storageDir"`
	Slug        string    `json:"slug,omitempty"`
	Description string    `json:"description"`
	// Purged — осиротевшая директория удалена
	Purged bool `json:"purged,omitempty"`
}

// ReconcileSummary — итоги сверки по типам.
type ReconcileSummary struct {
	OrphanedDirs int `json:"orphanedDirs"`
	MissingDirs  int `json:"missingDirs"`
	Purged       int `json:"purged"`
	Ok           int `json:"ok"`
}

// ReconcileResult — результат одного запуска сверки.
type ReconcileResult struct {
	StartedAt      time.Time        `json:"startedAt"`
	CompletedAt    time.Time        `json:"completedAt"`
	DirsChecked    int              `json:"dirsChecked"`
	RecordsChecked int              `json:"recordsChecked"`
	Issues         []ReconcileIssue `json:"issues"`
	Summary        ReconcileSummary `json:"summary"`
}

// ReconcileConfig — параметры сверки.
type ReconcileConfig struct {
	Interval time.Duration
	// Grace — минимальный возраст директории, чтобы считать её осиротевшей
	Grace time.Duration
	// Purge — удалять осиротевшие директории
	Purge bool
}

// Reconciler — сервис сверки директорий с записями.
type Reconciler struct {
	store   repository.ContentStore
	files   *filestore.FileStore
	journal *wal.Journal
	cfg     ReconcileConfig
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex // защита флага inProcess
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconciler создаёт сервис сверки.
func NewReconciler(
	store repository.ContentStore,
	files *filestore.FileStore,
	journal *wal.Journal,
	cfg ReconcileConfig,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:   store,
		files:   files,
		journal: journal,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "reconcile")),
	}
}

// WithClock подменяет источник времени.
func (rs *Reconciler) WithClock(now func() time.Time) *Reconciler {
	rs.now = now
	return rs
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *Reconciler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(runCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.cfg.Interval.String()),
		slog.Bool("purge", rs.cfg.Purge),
	)
}

// Stop останавливает фоновую сверку.
func (rs *Reconciler) Stop() {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	<-rs.done
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *Reconciler) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *Reconciler) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := rs.RunOnce(ctx); err != nil {
				rs.logger.Error("Ошибка сверки", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет одну сверку. Если сверка уже выполняется,
// возвращает nil, true, nil.
func (rs *Reconciler) RunOnce(ctx context.Context) (*ReconcileResult, bool, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true, nil
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := time.Now().UTC()

	known, err := rs.store.StorageDirs(ctx)
	if err != nil {
		return nil, false, err
	}
	onDisk, err := rs.files.ListDirs()
	if err != nil {
		return nil, false, err
	}

	now := rs.now().UTC()
	result := &ReconcileResult{
		StartedAt:      startedAt,
		DirsChecked:    len(onDisk),
		RecordsChecked: len(known),
		Issues:         []ReconcileIssue{},
	}

	present := make(map[string]bool, len(onDisk))
	for _, d := range onDisk {
		if _, ok := known[d.Name]; ok {
			present[d.Name] = true
			continue
		}
		if rs.journal != nil && rs.journal.IsPending(d.Name) {
			continue
		}
		if now.Sub(d.ModTime) < rs.cfg.Grace {
			continue
		}

		issue := ReconcileIssue{
			Type:        IssueOrphanedDir,
			StorageDir:  d.Name,
			Description: "Директория без записи",
		}
		if m, err := rs.files.ReadManifest(d.Name); err == nil {
			issue.Slug = m.Slug
		}
		if rs.cfg.Purge {
			if err := rs.files.RemoveDir(d.Name); err != nil {
				rs.logger.Error("Ошибка удаления осиротевшей директории",
					slog.String("storage_dir", d.Name),
					slog.String("error", err.Error()),
				)
			} else {
				issue.Purged = true
				result.Summary.Purged++
			}
		}
		result.Issues = append(result.Issues, issue)
		result.Summary.OrphanedDirs++
	}

	for dir, slugValue := range known {
		if present[dir] {
			continue
		}
		result.Issues = append(result.Issues, ReconcileIssue{
			Type:        IssueMissingDir,
			StorageDir:  dir,
			Slug:        slugValue,
			Description: "Запись без директории на диске",
		})
		result.Summary.MissingDirs++
	}

	sort.Slice(result.Issues, func(i, j int) bool {
		if result.Issues[i].Type != result.Issues[j].Type {
			return result.Issues[i].Type < result.Issues[j].Type
		}
		return result.Issues[i].StorageDir < result.Issues[j].StorageDir
	})

	result.Summary.Ok = len(present)
	result.CompletedAt = time.Now().UTC()
	duration := result.CompletedAt.Sub(startedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range result.Issues {
		reconcileOrphansTotal.WithLabelValues(string(issue.Type)).Inc()
	}

	rs.logger.Info("Сверка завершена",
		slog.Int("dirs_checked", result.DirsChecked),
		slog.Int("records_checked", result.RecordsChecked),
		slog.Int("orphaned", result.Summary.OrphanedDirs),
		slog.Int("missing", result.Summary.MissingDirs),
		slog.Int("purged", result.Summary.Purged),
		slog.Duration("duration", duration),
	)

	return result, false, nil
}
