package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
	"github.com/bigkaa/goartstore/site-host/internal/repository"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newRecord(slug string, createdAt time.Time, expiresAt *time.Time) *model.ContentRecord {
	id := "id-" + slug
	return &model.ContentRecord{
		ID:           id,
		Slug:         slug,
		StorageDir:   id,
		StoragePath:  model.EntryPointPath(id),
		Kind:         model.KindSingleDocument,
		FileCount:    1,
		SizeBytes:    100,
		OriginalName: slug + ".html",
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
		ExpiresAt:    expiresAt,
	}
}

func TestInsertAndFind(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	rec := newRecord("page", time.Now().UTC(), nil)

	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	rec.Description = "изменено снаружи"

	got, err := s.FindBySlug(ctx, "page")
	if err != nil {
		t.Fatalf("FindBySlug: %v", err)
	}
	if got.Description != "" {
		t.Error("хранилище не должно разделять запись с вызывающим")
	}

	if _, err := s.FindBySlug(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получили %v", err)
	}
	if ok, _ := s.SlugExists(ctx, "page"); !ok {
		t.Error("SlugExists должен вернуть true")
	}
}

// TestInsertConcurrentSameSlug проверяет, что из параллельных вставок
// одного slug успешна ровно одна.
func TestInsertConcurrentSameSlug(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := newRecord("same", time.Now().UTC(), nil)
			rec.ID = fmt.Sprintf("id-%d", i)
			err := s.Insert(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, repository.ErrConflict):
				conflicts++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != n-1 {
		t.Fatalf("успешных %d, конфликтов %d; хотели 1 и %d", ok, conflicts, n-1)
	}
}

func TestUpdateBySlugCompareAndSwap(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	s.Insert(ctx, newRecord("page", time.Now().UTC(), nil))

	upd := &model.ContentUpdate{
		ExpectedStorageDir: "id-page",
		StorageDir:         "new-dir",
		StoragePath:        model.EntryPointPath("new-dir"),
		Kind:               model.KindBundle,
		FileCount:          3,
		Description:        "v2",
		UpdatedAt:          time.Now().UTC(),
	}
	n, err := s.UpdateBySlug(ctx, "page", upd)
	if err != nil || n != 1 {
		t.Fatalf("UpdateBySlug: n=%d, err=%v", n, err)
	}

	n, _ = s.UpdateBySlug(ctx, "page", upd)
	if n != 0 {
		t.Error("повторное обновление со старым ExpectedStorageDir должно вернуть 0")
	}

	got, _ := s.FindBySlug(ctx, "page")
	if got.StorageDir != "new-dir" || got.Kind != model.KindBundle || got.Description != "v2" {
		t.Errorf("поля не обновлены: %+v", got)
	}
	if got.ID != "id-page" {
		t.Error("ID записи не должен меняться при обновлении")
	}
}

func TestDeleteBySlug(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	s.Insert(ctx, newRecord("page", time.Now().UTC(), nil))

	res, err := s.DeleteBySlug(ctx, "page")
	if err != nil || res.Count != 1 || res.StorageDir != "id-page" {
		t.Fatalf("DeleteBySlug: %+v, %v", res, err)
	}
	res, _ = s.DeleteBySlug(ctx, "page")
	if res.Count != 0 {
		t.Error("повторное удаление должно вернуть Count=0")
	}
}

func TestFindExpiredAndDeleteMany(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	older := now.Add(-2 * time.Hour)
	future := now.Add(time.Hour)

	s.Insert(ctx, newRecord("expired1", now, &past))
	s.Insert(ctx, newRecord("expired2", now, &older))
	s.Insert(ctx, newRecord("live", now, &future))
	s.Insert(ctx, newRecord("forever", now, nil))

	expired, _ := s.FindExpired(ctx, now)
	if len(expired) != 2 || expired[0].Slug != "expired2" {
		t.Fatalf("ожидались 2 истёкшие записи (старшая первой), получили %+v", expired)
	}

	targets := []repository.ReapTarget{
		{ID: "id-expired1", StorageDir: "id-expired1"},
		{ID: "id-expired2", StorageDir: "id-expired2"},
		{ID: "id-live", StorageDir: "id-live"},
	}
	n, _ := s.DeleteMany(ctx, targets, now)
	if n != 2 {
		t.Errorf("DeleteMany: хотели 2, получили %d", n)
	}
	if s.Count() != 2 {
		t.Errorf("осталось %d записей, хотели 2", s.Count())
	}
}

func TestDeleteMany_SkipsMovedRecord(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	s.Insert(ctx, newRecord("moved", now, &past))

	// запись получила новую директорию после выборки
	n, _ := s.DeleteMany(ctx, []repository.ReapTarget{{ID: "id-moved", StorageDir: "old-dir"}}, now)
	if n != 0 {
		t.Errorf("DeleteMany: хотели 0, получили %d", n)
	}
	if s.Count() != 1 {
		t.Error("запись с другой директорией не должна удаляться")
	}
}

func TestListPaginationAndSearch(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	base := time.Now().UTC()
	for i := range 5 {
		rec := newRecord(fmt.Sprintf("page-%d", i), base.Add(time.Duration(i)*time.Minute), nil)
		if i == 3 {
			rec.Description = "Квартальный отчёт"
		}
		s.Insert(ctx, rec)
	}

	page, total, _ := s.List(ctx, model.ListFilter{Limit: 2, Offset: 1})
	if total != 5 || len(page) != 2 {
		t.Fatalf("total=%d, len=%d", total, len(page))
	}
	if page[0].Slug != "page-3" || page[1].Slug != "page-2" {
		t.Errorf("неверный порядок: %s, %s", page[0].Slug, page[1].Slug)
	}

	found, total, _ := s.List(ctx, model.ListFilter{Search: "ОТЧЁТ", Limit: 10})
	if total != 1 || found[0].Slug != "page-3" {
		t.Errorf("поиск: total=%d, %+v", total, found)
	}

	empty, total, _ := s.List(ctx, model.ListFilter{Limit: 10, Offset: 10})
	if total != 5 || len(empty) != 0 {
		t.Errorf("смещение за пределами: total=%d, len=%d", total, len(empty))
	}
}

func TestStats(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	s.Insert(ctx, newRecord("a", now, nil))
	s.Insert(ctx, newRecord("b", now, &past))
	bundle := newRecord("c", now, nil)
	bundle.Kind = model.KindBundle
	bundle.Archived = true
	s.Insert(ctx, bundle)
	s.IncrementAccess(ctx, "a")
	s.IncrementAccess(ctx, "a")

	st, _ := s.Stats(ctx, now)
	if st.TotalRecords != 3 || st.ActiveRecords != 1 || st.ExpiredRecords != 1 || st.Archived != 1 {
		t.Errorf("неверная статистика: %+v", st)
	}
	if st.Permanent != 2 || st.Bundles != 1 || st.Documents != 2 {
		t.Errorf("неверная статистика по типам: %+v", st)
	}
	if st.TotalSizeBytes != 300 || st.TotalAccess != 2 {
		t.Errorf("неверные суммы: %+v", st)
	}

	dirs, _ := s.StorageDirs(ctx)
	if len(dirs) != 3 || dirs["id-a"] != "a" {
		t.Errorf("StorageDirs: %+v", dirs)
	}
}
