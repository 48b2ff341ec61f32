// Пакет archive — проверка и распаковка ZIP-бандлов сайтов.
// Validate читает только центральный каталог и ничего не пишет на диск;
// Extract распаковывает уже проверенный бандл в новую директорию.
package archive

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
)

// Коды проблем бандла.
const (
	IssueInvalidPath       = "invalid_path"
	IssueBlockedType       = "blocked_type"
	IssueSymlink           = "symlink_entry"
	IssueDuplicate         = "duplicate_entry"
	IssueMissingEntryPoint = "missing_entry_point"
	IssueSizeLimit         = "size_limit_exceeded"
	IssueCorrupt           = "corrupt_archive"
	IssueNonStandardType   = "non_standard_type"
)

// Issue — проблема отдельной записи или бандла в целом.
type Issue struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Entry — принятая запись архива.
type Entry struct {
	// Name — нормализованный путь внутри архива
	Name string
	// Size — заявленный распакованный размер
	Size uint64

	file *zip.File
}

// Report — результат проверки бандла.
type Report struct {
	Valid bool
	// FileCount — число файлов без служебных и каталогов
	FileCount int
	// TotalSize — сумма заявленных распакованных размеров
	TotalSize int64
	// EntryPoint — путь найденного index.html внутри архива
	EntryPoint string
	// Prefix — общая верхняя папка, снимаемая при распаковке ("" если нет)
	Prefix string

	Errors   []Issue
	Warnings []Issue
	Entries  []Entry
}

// PrimaryCode возвращает код проблемы, если все ошибки одного рода,
// иначе пустую строку.
func (r *Report) PrimaryCode() string {
	if len(r.Errors) == 0 {
		return ""
	}
	code := r.Errors[0].Code
	for _, e := range r.Errors[1:] {
		if e.Code != code {
			return ""
		}
	}
	return code
}

func (r *Report) fail(code, p, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Code: code, Path: p, Message: fmt.Sprintf(format, args...)})
}

// Validate проверяет ZIP-бандл в памяти. Собирает все проблемы сразу,
// а не останавливается на первой. maxTotal ограничивает сумму
// распакованных размеров.
func Validate(data []byte, maxTotal int64) *Report {
	rep := &Report{}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		rep.fail(IssueCorrupt, "", "Invalid ZIP archive: %v", err)
		return rep
	}

	seen := make(map[string]struct{}, len(zr.File))
	var total uint64

	for _, f := range zr.File {
		name := normalizeName(f.Name)

		if f.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
			continue
		}
		if IsPlatformMetadata(name) {
			continue
		}

		rep.FileCount++
		total = addSaturating(total, f.UncompressedSize64)

		if !IsSafePath(name) {
			rep.fail(IssueInvalidPath, name, "Invalid path: %s", name)
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			rep.fail(IssueSymlink, name, "Symbolic links are not allowed: %s", name)
			continue
		}
		if IsBlocked(name) {
			rep.fail(IssueBlockedType, name, "Blocked file type: %s", name)
			continue
		}
		clean := path.Clean(name)
		if _, dup := seen[clean]; dup {
			rep.fail(IssueDuplicate, name, "Duplicate entry: %s", name)
			continue
		}
		seen[clean] = struct{}{}

		if !IsAllowed(name) {
			rep.Warnings = append(rep.Warnings, Issue{
				Code:    IssueNonStandardType,
				Path:    name,
				Message: "Non-standard file type: " + name,
			})
		}
		rep.Entries = append(rep.Entries, Entry{Name: clean, Size: f.UncompressedSize64, file: f})
	}

	rep.Prefix = commonPrefix(rep.Entries)
	rep.EntryPoint = findEntryPoint(rep.Entries, rep.Prefix)
	if rep.EntryPoint == "" {
		rep.fail(IssueMissingEntryPoint, "", "ZIP must contain index.html at the root level")
	}

	if maxTotal > 0 && total > uint64(maxTotal) {
		rep.fail(IssueSizeLimit, "", "Total extracted size exceeds %dMB limit", maxTotal>>20)
	}
	rep.TotalSize = int64(min(total, math.MaxInt64))

	rep.Valid = len(rep.Errors) == 0
	return rep
}

func addSaturating(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// commonPrefix возвращает единственную верхнюю папку, общую для всех
// записей. Если хотя бы одна запись лежит в корне, префикса нет.
func commonPrefix(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var prefix string
	for i, e := range entries {
		first, _, nested := strings.Cut(e.Name, "/")
		if !nested {
			return ""
		}
		if i == 0 {
			prefix = first
		} else if first != prefix {
			return ""
		}
	}
	return prefix + "/"
}

// findEntryPoint ищет index.html в корне бандла после снятия префикса.
// Точное совпадение имени предпочтительнее совпадения без учёта регистра.
func findEntryPoint(entries []Entry, prefix string) string {
	var fallback string
	for _, e := range entries {
		rel := strings.TrimPrefix(e.Name, prefix)
		if strings.Contains(rel, "/") {
			continue
		}
		if rel == model.EntryPoint {
			return e.Name
		}
		if fallback == "" && strings.EqualFold(rel, model.EntryPoint) {
			fallback = e.Name
		}
	}
	return fallback
}
