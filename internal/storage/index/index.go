// Пакет index — потокобезопасная in-memory реализация ContentStore.
//
// Используется при SH_STORE=memory и в тестах. Не персистентна:
// после рестарта записи теряются, а директории загрузок становятся
// сиротами и убираются сверкой (при SH_RECONCILE_PURGE=true).
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
	"github.com/bigkaa/goartstore/site-host/internal/repository"
)

// Store — in-memory хранилище записей.
// Все операции выполняются под одним мьютексом, поэтому проверка
// уникальности slug и вставка атомарны.
type Store struct {
	mu     sync.RWMutex
	bySlug map[string]*model.ContentRecord
	logger *slog.Logger
}

var _ repository.ContentStore = (*Store)(nil)

// New создаёт пустое хранилище.
func New(logger *slog.Logger) *Store {
	return &Store{
		bySlug: make(map[string]*model.ContentRecord),
		logger: logger.With(slog.String("component", "memory_store")),
	}
}

func (s *Store) Insert(_ context.Context, rec *model.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySlug[rec.Slug]; exists {
		return fmt.Errorf("%w: slug %s уже занят", repository.ErrConflict, rec.Slug)
	}
	s.bySlug[rec.Slug] = rec.Clone()
	return nil
}

func (s *Store) FindBySlug(_ context.Context, slug string) (*model.ContentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.bySlug[slug]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) SlugExists(_ context.Context, slug string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bySlug[slug]
	return ok, nil
}

func (s *Store) UpdateBySlug(_ context.Context, slug string, upd *model.ContentUpdate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.bySlug[slug]
	if !ok || rec.StorageDir != upd.ExpectedStorageDir {
		return 0, nil
	}
	upd.Apply(rec)
	return 1, nil
}

func (s *Store) SetArchived(_ context.Context, slug string, archived bool, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.bySlug[slug]
	if !ok {
		return 0, nil
	}
	rec.Archived = archived
	rec.UpdatedAt = now
	return 1, nil
}

func (s *Store) DeleteBySlug(_ context.Context, slug string) (*repository.DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.bySlug[slug]
	if !ok {
		return &repository.DeleteResult{}, nil
	}
	delete(s.bySlug, slug)
	return &repository.DeleteResult{
		Count:       1,
		StorageDir:  rec.StorageDir,
		StoragePath: rec.StoragePath,
	}, nil
}

func (s *Store) FindExpired(_ context.Context, now time.Time) ([]*model.ContentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.ContentRecord
	for _, rec := range s.bySlug {
		if rec.IsExpired(now) {
			result = append(result, rec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	return result, nil
}

func (s *Store) DeleteMany(_ context.Context, targets []repository.ReapTarget, now time.Time) (int, error) {
	want := make(map[string]string, len(targets))
	for _, t := range targets {
		want[t.ID] = t.StorageDir
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for slug, rec := range s.bySlug {
		if dir, ok := want[rec.ID]; ok && dir == rec.StorageDir && rec.IsExpired(now) {
			delete(s.bySlug, slug)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) IncrementAccess(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.bySlug[slug]; ok {
		rec.AccessCount++
	}
	return nil
}

// List возвращает записи, отсортированные по дате создания (новые первыми).
func (s *Store) List(_ context.Context, filter model.ListFilter) ([]*model.ContentRecord, int, error) {
	s.mu.RLock()
	matched := make([]*model.ContentRecord, 0, len(s.bySlug))
	search := strings.ToLower(filter.Search)
	for _, rec := range s.bySlug {
		if search != "" && !matches(rec, search) {
			continue
		}
		matched = append(matched, rec)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*model.ContentRecord{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}

	page := make([]*model.ContentRecord, 0, end-filter.Offset)
	for _, rec := range matched[filter.Offset:end] {
		page = append(page, rec.Clone())
	}
	return page, total, nil
}

func matches(rec *model.ContentRecord, search string) bool {
	return strings.Contains(strings.ToLower(rec.Slug), search) ||
		strings.Contains(strings.ToLower(rec.OriginalName), search) ||
		strings.Contains(strings.ToLower(rec.Description), search)
}

func (s *Store) Stats(_ context.Context, now time.Time) (*model.StorageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &model.StorageStats{TotalRecords: len(s.bySlug)}
	for _, rec := range s.bySlug {
		switch {
		case rec.IsExpired(now):
			st.ExpiredRecords++
		case !rec.Archived:
			st.ActiveRecords++
		}
		if rec.Archived {
			st.Archived++
		}
		if rec.IsPermanent() {
			st.Permanent++
		}
		if rec.Kind == model.KindBundle {
			st.Bundles++
		} else {
			st.Documents++
		}
		st.TotalSizeBytes += rec.SizeBytes
		st.TotalAccess += rec.AccessCount
	}
	return st, nil
}

func (s *Store) StorageDirs(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirs := make(map[string]string, len(s.bySlug))
	for slug, rec := range s.bySlug {
		dirs[rec.StorageDir] = slug
	}
	return dirs, nil
}

// Count возвращает число записей.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySlug)
}
