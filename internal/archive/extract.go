package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
)

// ErrEscapesRoot — путь записи выходит за пределы директории назначения.
var ErrEscapesRoot = errors.New("путь записи выходит за пределы директории")

// ErrSizeMismatch — запись распаковалась больше заявленного размера.
var ErrSizeMismatch = errors.New("размер записи превышает заявленный")

// ExtractResult — итог распаковки.
type ExtractResult struct {
	Files int
	Bytes int64
}

// Extract распаковывает проверенный бандл в destDir.
// Снимает общий префикс, кладёт входной документ как index.html,
// пропускает служебные записи. Любой путь вне destDir — ошибка.
// Фактически записанный объём ограничен заявленными размерами и maxTotal.
// При ошибке частично записанные файлы остаются: директорию удаляет вызывающий.
func Extract(ctx context.Context, rep *Report, destDir string, maxTotal int64) (*ExtractResult, error) {
	if !rep.Valid {
		return nil, errors.New("бандл не прошёл проверку")
	}

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка определения директории %s: %w", destDir, err)
	}

	res := &ExtractResult{}
	budget := maxTotal

	for _, e := range rep.Entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rel := strings.TrimPrefix(e.Name, rep.Prefix)
		if e.Name == rep.EntryPoint {
			rel = model.EntryPoint
		}

		target, err := resolveInside(root, rel)
		if err != nil {
			return res, fmt.Errorf("%s: %w", e.Name, err)
		}

		limit := int64(min(e.Size, uint64(1<<62)))
		if maxTotal > 0 && limit > budget {
			limit = budget
		}

		n, err := writeEntry(e, target, limit)
		res.Bytes += n
		if err != nil {
			return res, fmt.Errorf("ошибка распаковки %s: %w", e.Name, err)
		}
		budget -= n
		res.Files++
	}

	return res, nil
}

// resolveInside строит путь назначения и проверяет, что он лежит
// строго внутри root.
func resolveInside(root, rel string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, target)
	if err != nil {
		return "", ErrEscapesRoot
	}
	if r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) || filepath.IsAbs(r) {
		return "", ErrEscapesRoot
	}
	return target, nil
}

// writeEntry пишет одну запись. Файл создаётся с O_EXCL, чтобы не
// перезаписать существующий путь и не пройти по ссылке.
func writeEntry(e Entry, target string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return 0, err
	}

	rc, err := e.file.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if err == nil && n > limit {
		err = ErrSizeMismatch
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
