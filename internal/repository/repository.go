// Пакет repository — контракт хранилища записей и его реализация
// на PostgreSQL. Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
)

// Ошибки слоя хранилища.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности slug.
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DeleteResult — итог удаления записи по slug.
type DeleteResult struct {
	Count int
	// StorageDir и StoragePath удалённой записи; пусто если Count == 0
	StorageDir  string
	StoragePath string
}

// ReapTarget — истёкшая запись и директория, удалённая проходом.
type ReapTarget struct {
	ID         string
	StorageDir string
}

// ContentStore — единственный источник истины о записях контента.
// Реализации: PostgreSQL (NewContentRepository) и in-memory (index.Store).
type ContentStore interface {
	// Insert сохраняет новую запись. Дубликат slug — ErrConflict.
	Insert(ctx context.Context, rec *model.ContentRecord) error
	// FindBySlug возвращает запись или ErrNotFound.
	FindBySlug(ctx context.Context, slug string) (*model.ContentRecord, error)
	// SlugExists проверяет занятость slug.
	SlugExists(ctx context.Context, slug string) (bool, error)
	// UpdateBySlug заменяет поля записи, если её StorageDir равен
	// upd.ExpectedStorageDir. Возвращает число изменённых записей.
	UpdateBySlug(ctx context.Context, slug string, upd *model.ContentUpdate) (int, error)
	// SetArchived меняет флаг архивации. Возвращает число изменённых записей.
	SetArchived(ctx context.Context, slug string, archived bool, now time.Time) (int, error)
	// DeleteBySlug удаляет запись и возвращает её пути хранения.
	DeleteBySlug(ctx context.Context, slug string) (*DeleteResult, error)
	// FindExpired возвращает записи с expiresAt <= now.
	FindExpired(ctx context.Context, now time.Time) ([]*model.ContentRecord, error)
	// DeleteMany удаляет записи по id, если они всё ещё истекли к now
	// и ссылаются на ту же директорию. Запись, обновлённая после выборки,
	// не удаляется.
	DeleteMany(ctx context.Context, targets []ReapTarget, now time.Time) (int, error)
	// IncrementAccess увеличивает счётчик обращений.
	IncrementAccess(ctx context.Context, slug string) error
	// List возвращает страницу записей (новые первыми) и общее число совпадений.
	List(ctx context.Context, filter model.ListFilter) ([]*model.ContentRecord, int, error)
	// Stats возвращает агрегированную статистику.
	Stats(ctx context.Context, now time.Time) (*model.StorageStats, error)
	// StorageDirs возвращает все используемые директории загрузок: dir → slug.
	StorageDirs(ctx context.Context) (map[string]string, error)
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
