package wal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal — файловый журнал загрузок.
// Помимо файлов держит в памяти множество директорий незавершённых
// загрузок: сверка не трогает директории из этого множества.
type Journal struct {
	// dir — директория журнала (SH_WAL_DIR)
	dir     string
	mu      sync.Mutex
	pending map[string]string // upload dir → tx id
	logger  *slog.Logger
}

// New создаёт журнал. Создаёт директорию и проверяет доступность на запись.
func New(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &Journal{
		dir:     dir,
		pending: make(map[string]string),
		logger:  logger.With(slog.String("component", "wal")),
	}, nil
}

// Begin фиксирует начало загрузки в директорию uploadDir.
// Должен вызываться до создания директории.
func (j *Journal) Begin(op OperationType, uploadDir, slug string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		UploadDir:     uploadDir,
		Slug:          slug,
		StartedAt:     time.Now().UTC(),
	}

	if err := j.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}
	j.pending[uploadDir] = entry.TransactionID

	j.logger.Debug("Загрузка начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("upload_dir", uploadDir),
	)
	return entry, nil
}

// Commit завершает транзакцию после сохранения записи в хранилище.
func (j *Journal) Commit(entry *Entry) error {
	return j.finish(entry, "committed")
}

// Abort завершает транзакцию после удаления директории загрузки.
func (j *Journal) Abort(entry *Entry) error {
	return j.finish(entry, "aborted")
}

func (j *Journal) finish(entry *Entry, outcome string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.pending, entry.UploadDir)

	err := os.Remove(filepath.Join(j.dir, walFileName(entry.TransactionID)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("не удалось удалить запись журнала %s: %w", entry.TransactionID, err)
	}

	j.logger.Debug("Загрузка завершена",
		slog.String("tx_id", entry.TransactionID),
		slog.String("outcome", outcome),
		slog.Duration("duration", time.Since(entry.StartedAt)),
	)
	return nil
}

// IsPending сообщает, принадлежит ли директория незавершённой загрузке.
func (j *Journal) IsPending(uploadDir string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.pending[uploadDir]
	return ok
}

// RecoverPending читает записи, оставшиеся от прерванного процесса.
// Вызывается при старте до приёма запросов. Нечитаемые файлы
// пропускаются с предупреждением.
func (j *Journal) RecoverPending() ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	var pending []*Entry
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), fileSuffix)
		entry, err := j.readEntry(txID)
		if err != nil {
			j.logger.Warn("Не удалось прочитать запись журнала при восстановлении",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		j.pending[entry.UploadDir] = entry.TransactionID
		pending = append(pending, entry)

		j.logger.Warn("Обнаружена незавершённая загрузка",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("upload_dir", entry.UploadDir),
			slog.Time("started_at", entry.StartedAt),
		)
	}
	return pending, nil
}

// PendingCount возвращает число незавершённых загрузок.
func (j *Journal) PendingCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Dir возвращает путь к директории журнала.
func (j *Journal) Dir() string {
	return j.dir
}

// writeEntry атомарно записывает запись журнала.
// Паттерн: temp файл → fsync → atomic rename.
func (j *Journal) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(j.dir, walFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

func (j *Journal) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, walFileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}
