package service

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
	"github.com/bigkaa/goartstore/site-host/internal/domain/slug"
	"github.com/bigkaa/goartstore/site-host/internal/repository"
	"github.com/bigkaa/goartstore/site-host/internal/storage/filestore"
)

// Лимиты выборки списка.
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// Причины недоступности slug.
const (
	ReasonInvalidFormat = "invalid_format"
	ReasonReserved      = "reserved"
	ReasonTaken         = "taken"
)

// ContentView — запись с вычисленными признаками для клиента.
type ContentView struct {
	*model.ContentRecord
	Expired           bool `json:"expired"`
	Permanent         bool `json:"permanent"`
	PasswordProtected bool `json:"passwordProtected"`
	IsOwner           bool `json:"isOwner"`
}

// SlugAvailability — результат проверки slug.
type SlugAvailability struct {
	Slug      string `json:"slug"`
	Available bool   `json:"available"`
	// Reason — invalid_format, reserved или taken; пусто если slug свободен
	Reason string `json:"reason,omitempty"`
}

// ListResult — страница списка записей.
type ListResult struct {
	Items  []*ContentView `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ViewTarget — файл для отдачи просмотрщиком.
type ViewTarget struct {
	Record   *model.ContentRecord
	FilePath string
}

// ContentService — операции жизненного цикла записей: чтение, архивирование,
// удаление, список, статистика и разрешение запросов просмотра.
type ContentService struct {
	store     repository.ContentStore
	files     *filestore.FileStore
	passwords *PasswordCache
	now       func() time.Time
	logger    *slog.Logger
}

// NewContentService создаёт сервис жизненного цикла записей.
func NewContentService(store repository.ContentStore, files *filestore.FileStore, logger *slog.Logger) *ContentService {
	return &ContentService{
		store:  store,
		files:  files,
		now:    time.Now,
		logger: logger.With(slog.String("component", "content")),
	}
}

// WithClock подменяет источник времени.
func (s *ContentService) WithClock(now func() time.Time) *ContentService {
	s.now = now
	return s
}

// WithPasswordCache включает кэш успешных проверок паролей.
func (s *ContentService) WithPasswordCache(c *PasswordCache) *ContentService {
	s.passwords = c
	return s
}

// NewContentView вычисляет признаки записи на момент now.
func NewContentView(rec *model.ContentRecord, callerKeyHash string, now time.Time) *ContentView {
	return &ContentView{
		ContentRecord:     rec,
		Expired:           rec.IsExpired(now),
		Permanent:         rec.IsPermanent(),
		PasswordProtected: rec.IsPasswordProtected(),
		IsOwner:           rec.OwnerKeyHash != "" && rec.OwnerKeyHash == callerKeyHash,
	}
}

func (s *ContentService) find(ctx context.Context, slugValue string) (*model.ContentRecord, error) {
	rec, err := s.store.FindBySlug(ctx, slug.Normalize(slugValue))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, CodeNotFound, "Content not found")
		}
		return nil, internalError("Ошибка получения записи", err)
	}
	return rec, nil
}

// findOwned возвращает запись, если вызывающий вправе её изменять.
func (s *ContentService) findOwned(ctx context.Context, slugValue, callerKeyHash string) (*model.ContentRecord, error) {
	rec, err := s.find(ctx, slugValue)
	if err != nil {
		return nil, err
	}
	if !rec.CanModify(callerKeyHash) {
		return nil, newError(KindForbidden, CodeForbidden, "You do not have permission to modify this content")
	}
	return rec, nil
}

// Get возвращает метаданные записи, включая архивные и истёкшие.
func (s *ContentService) Get(ctx context.Context, slugValue, callerKeyHash string) (*ContentView, error) {
	rec, err := s.find(ctx, slugValue)
	if err != nil {
		return nil, err
	}
	return NewContentView(rec, callerKeyHash, s.now().UTC()), nil
}

// CheckSlug сообщает, можно ли занять slug.
func (s *ContentService) CheckSlug(ctx context.Context, slugValue string) (*SlugAvailability, error) {
	normalized := slug.Normalize(slugValue)
	res := &SlugAvailability{Slug: normalized}

	if _, err := slug.Check(normalized); err != nil {
		res.Reason = ReasonInvalidFormat
		if errors.Is(err, slug.ErrReserved) {
			res.Reason = ReasonReserved
		}
		return res, nil
	}

	exists, err := s.store.SlugExists(ctx, normalized)
	if err != nil {
		return nil, internalError("Ошибка проверки slug", err)
	}
	if exists {
		res.Reason = ReasonTaken
		return res, nil
	}
	res.Available = true
	return res, nil
}

// Archive снимает запись с публикации, сохраняя контент.
func (s *ContentService) Archive(ctx context.Context, slugValue, callerKeyHash string) (*ContentView, error) {
	return s.setArchived(ctx, slugValue, callerKeyHash, true)
}

// Unarchive возвращает запись в публикацию.
func (s *ContentService) Unarchive(ctx context.Context, slugValue, callerKeyHash string) (*ContentView, error) {
	return s.setArchived(ctx, slugValue, callerKeyHash, false)
}

func (s *ContentService) setArchived(ctx context.Context, slugValue, callerKeyHash string, archived bool) (*ContentView, error) {
	rec, err := s.findOwned(ctx, slugValue, callerKeyHash)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	n, err := s.store.SetArchived(ctx, rec.Slug, archived, now)
	if err != nil {
		return nil, internalError("Ошибка изменения признака архива", err)
	}
	if n == 0 {
		return nil, newError(KindNotFound, CodeNotFound, "Content not found")
	}
	rec.Archived = archived
	rec.UpdatedAt = now

	s.logger.Info("Признак архива изменён",
		slog.String("slug", rec.Slug),
		slog.Bool("archived", archived),
	)
	return NewContentView(rec, callerKeyHash, now), nil
}

// Delete удаляет запись, затем её директорию. Ошибка удаления
// директории только логируется: её подберёт сверка.
func (s *ContentService) Delete(ctx context.Context, slugValue, callerKeyHash string) error {
	rec, err := s.findOwned(ctx, slugValue, callerKeyHash)
	if err != nil {
		return err
	}

	res, err := s.store.DeleteBySlug(ctx, rec.Slug)
	if err != nil {
		return internalError("Ошибка удаления записи", err)
	}
	if res.Count == 0 {
		return newError(KindNotFound, CodeNotFound, "Content not found")
	}

	if err := s.files.RemoveDir(res.StorageDir); err != nil {
		s.logger.Warn("Не удалось удалить директорию записи",
			slog.String("slug", rec.Slug),
			slog.String("storage_dir", res.StorageDir),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Запись удалена", slog.String("slug", rec.Slug))
	return nil
}

// List возвращает страницу записей, новые первыми.
func (s *ContentService) List(ctx context.Context, filter model.ListFilter, callerKeyHash string) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Search = strings.TrimSpace(filter.Search)

	recs, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, internalError("Ошибка получения списка", err)
	}

	now := s.now().UTC()
	items := make([]*ContentView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, NewContentView(rec, callerKeyHash, now))
	}
	return &ListResult{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Stats возвращает статистику хранилища.
func (s *ContentService) Stats(ctx context.Context) (*model.StorageStats, error) {
	stats, err := s.store.Stats(ctx, s.now().UTC())
	if err != nil {
		return nil, internalError("Ошибка получения статистики", err)
	}
	return stats, nil
}

// Open разрешает запрос просмотра в путь файла. Архивная или
// отсутствующая запись даёт NotFound, истёкшая — Gone. Счётчик
// просмотров увеличивается только для входного документа.
func (s *ContentService) Open(ctx context.Context, slugValue, requestPath, password string) (*ViewTarget, error) {
	normalized := slug.Normalize(slugValue)
	if !slug.Valid(normalized) {
		return nil, newError(KindNotFound, CodeNotFound, "Content not found")
	}

	rec, err := s.find(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if rec.Archived {
		return nil, newError(KindNotFound, CodeNotFound, "Content not found")
	}
	if rec.IsExpired(s.now().UTC()) {
		return nil, newError(KindGone, CodeExpired, "This content has expired and is no longer available")
	}

	if rec.IsPasswordProtected() {
		password = strings.TrimSpace(password)
		if password == "" {
			return nil, newError(KindUnauthorized, CodePasswordRequired, "This content is password protected")
		}
		if !s.passwords.Verify(rec.PasswordHash, password) {
			return nil, newError(KindUnauthorized, CodePasswordRequired, "Incorrect password")
		}
	}

	target, err := s.files.Resolve(rec.StorageDir, requestPath)
	if err != nil {
		if isEntryRequest(requestPath) {
			s.logger.Error("Директория записи недоступна",
				slog.String("slug", rec.Slug),
				slog.String("storage_dir", rec.StorageDir),
				slog.String("error", err.Error()),
			)
		}
		return nil, newError(KindNotFound, CodeNotFound, "Content not found")
	}

	if isEntryRequest(requestPath) {
		if err := s.store.IncrementAccess(ctx, rec.Slug); err != nil {
			s.logger.Warn("Не удалось увеличить счётчик просмотров",
				slog.String("slug", rec.Slug),
				slog.String("error", err.Error()),
			)
		}
	}

	return &ViewTarget{Record: rec, FilePath: target}, nil
}

func isEntryRequest(p string) bool {
	clean := path.Clean("/" + p)
	return clean == "/" || strings.EqualFold(clean, "/"+model.EntryPoint)
}
