// Пакет attr — манифесты директорий загрузок (<dir>.attr.json).
// Манифест лежит рядом с директорией, а не внутри неё, и поэтому
// никогда не отдаётся просмотрщиком. Содержимое директории неизменяемо,
// поэтому манифест пишется один раз после сохранения записи.
// Запись атомарна: temp → fsync → rename.
package attr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
)

// Suffix — суффикс файла манифеста.
const Suffix = ".attr.json"

// maxManifestSize — максимальный размер манифеста (4 КБ).
const maxManifestSize = 4096

// Manifest — сведения о загрузке, восстановимые без хранилища записей.
type Manifest struct {
	UploadDir string     `json:"uploadDir"`
	RecordID  string     `json:"recordId"`
	Slug      string     `json:"slug"`
	Kind      model.Kind `json:"kind"`
	FileCount int        `json:"fileCount"`
	SizeBytes int64      `json:"sizeBytes"`
	CreatedAt time.Time  `json:"createdAt"`
}

// FromRecord строит манифест текущей директории записи.
func FromRecord(rec *model.ContentRecord, now time.Time) *Manifest {
	return &Manifest{
		UploadDir: rec.StorageDir,
		RecordID:  rec.ID,
		Slug:      rec.Slug,
		Kind:      rec.Kind,
		FileCount: rec.FileCount,
		SizeBytes: rec.SizeBytes,
		CreatedAt: now.UTC(),
	}
}

// Path возвращает путь манифеста для директории загрузки.
// Пример: ("/data", "3f2a...") → "/data/3f2a....attr.json"
func Path(dataDir, uploadDir string) string {
	return filepath.Join(dataDir, uploadDir+Suffix)
}

// IsManifest проверяет, является ли имя файла манифестом.
func IsManifest(name string) bool {
	return strings.HasSuffix(name, Suffix)
}

// Write атомарно записывает манифест.
func Write(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации манифеста: %w", err)
	}
	if len(data) > maxManifestSize {
		return fmt.Errorf("размер манифеста (%d байт) превышает максимум (%d байт)", len(data), maxManifestSize)
	}

	tmpPath := path + ".tmp"
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

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Read читает манифест.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения манифеста %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ошибка десериализации манифеста %s: %w", path, err)
	}
	return &m, nil
}

// Delete удаляет манифест. Отсутствующий файл ошибкой не считается.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления манифеста %s: %w", path, err)
	}
	return nil
}

// ScanDir возвращает манифесты в корне данных по имени директории.
// Нечитаемые манифесты пропускаются.
func ScanDir(dataDir string) (map[string]*Manifest, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, "*"+Suffix))
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", dataDir, err)
	}

	result := make(map[string]*Manifest, len(matches))
	for _, p := range matches {
		m, err := Read(p)
		if err != nil {
			continue
		}
		result[strings.TrimSuffix(filepath.Base(p), Suffix)] = m
	}
	return result, nil
}
