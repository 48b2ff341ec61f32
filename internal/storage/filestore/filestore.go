// Пакет filestore — директории загрузок на диске.
// Каждая загрузка получает собственную директорию под корнем данных;
// одиночный документ пишется атомарно, бандл распаковывается пакетом archive.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
	"github.com/bigkaa/goartstore/site-host/internal/storage/attr"
)

// ErrInvalidDir — имя директории не является одним сегментом пути.
var ErrInvalidDir = errors.New("недопустимое имя директории загрузки")

// ErrOutsideRoot — запрошенный путь выходит за пределы директории загрузки.
var ErrOutsideRoot = errors.New("путь вне директории загрузки")

// FileStore — управление директориями загрузок.
type FileStore struct {
	// dataDir — корневая директория данных (SH_DATA_DIR)
	dataDir string
}

// DirInfo — сведения о директории загрузки.
type DirInfo struct {
	Name    string
	ModTime time.Time
}

// New создаёт FileStore. Создаёт корневую директорию если её нет.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// checkDir запрещает имена с разделителями и "." / "..",
// чтобы удаление не могло выйти за корень данных.
func checkDir(dir string) error {
	if dir == "" || dir == "." || dir == ".." || strings.ContainsAny(dir, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidDir, dir)
	}
	return nil
}

// DirPath возвращает абсолютный путь директории загрузки.
func (fs *FileStore) DirPath(dir string) string {
	return filepath.Join(fs.dataDir, dir)
}

// CreateUploadDir создаёт новую директорию загрузки.
// Существующая директория — ошибка: каждая загрузка пишет в чистое место.
func (fs *FileStore) CreateUploadDir(dir string) (string, error) {
	if err := checkDir(dir); err != nil {
		return "", err
	}
	full := fs.DirPath(dir)
	if err := os.Mkdir(full, 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания директории загрузки %s: %w", dir, err)
	}
	return full, nil
}

// WriteDocument записывает входной документ в директорию загрузки.
// Паттерн: temp файл → запись → fsync → atomic rename.
func (fs *FileStore) WriteDocument(dir string, r io.Reader) (int64, error) {
	if err := checkDir(dir); err != nil {
		return 0, err
	}
	fullPath := filepath.Join(fs.DirPath(dir), model.EntryPoint)
	tmpPath := fullPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return size, nil
}

// RemoveDir рекурсивно удаляет директорию загрузки вместе с манифестом.
// Отсутствующая директория ошибкой не считается.
func (fs *FileStore) RemoveDir(dir string) error {
	if err := checkDir(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(fs.DirPath(dir)); err != nil {
		return fmt.Errorf("ошибка удаления директории %s: %w", dir, err)
	}
	return attr.Delete(attr.Path(fs.dataDir, dir))
}

// WriteManifest записывает манифест текущей директории записи.
func (fs *FileStore) WriteManifest(rec *model.ContentRecord, now time.Time) error {
	if err := checkDir(rec.StorageDir); err != nil {
		return err
	}
	return attr.Write(attr.Path(fs.dataDir, rec.StorageDir), attr.FromRecord(rec, now))
}

// ReadManifest читает манифест директории загрузки.
func (fs *FileStore) ReadManifest(dir string) (*attr.Manifest, error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}
	return attr.Read(attr.Path(fs.dataDir, dir))
}

// DirExists проверяет наличие директории загрузки.
func (fs *FileStore) DirExists(dir string) bool {
	if checkDir(dir) != nil {
		return false
	}
	info, err := os.Stat(fs.DirPath(dir))
	return err == nil && info.IsDir()
}

// EntryPointExists проверяет наличие входного документа по StoragePath.
func (fs *FileStore) EntryPointExists(storagePath string) bool {
	info, err := os.Stat(filepath.Join(fs.dataDir, filepath.FromSlash(storagePath)))
	return err == nil && info.Mode().IsRegular()
}

// ListDirs возвращает директории загрузок в корне данных.
// Скрытые записи и обычные файлы пропускаются.
func (fs *FileStore) ListDirs() ([]DirInfo, error) {
	entries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории данных: %w", err)
	}

	dirs := make([]DirInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, DirInfo{Name: e.Name(), ModTime: info.ModTime()})
	}
	return dirs, nil
}

// Resolve преобразует путь запроса в путь файла внутри директории загрузки.
// Пустой путь и путь на каталог дают входной документ каталога.
func (fs *FileStore) Resolve(dir, requestPath string) (string, error) {
	if err := checkDir(dir); err != nil {
		return "", err
	}
	root := fs.DirPath(dir)

	rel := filepath.Clean("/" + strings.ReplaceAll(requestPath, `\`, "/"))
	target := filepath.Join(root, filepath.FromSlash(rel))
	if r, err := filepath.Rel(root, target); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		target = filepath.Join(target, model.EntryPoint)
		if _, err := os.Stat(target); err != nil {
			return "", err
		}
	}
	return target, nil
}

// SanitizeName заменяет небезопасные символы имени файла на "_".
// Оставляет латиницу, цифры, точку и дефис.
func SanitizeName(s string) string {
	s = filepath.Base(strings.ReplaceAll(s, `\`, "/"))
	if s == "." || s == "/" {
		return ""
	}
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '.' {
			result.WriteRune(r)
		} else {
			result.WriteByte('_')
		}
	}
	return result.String()
}
