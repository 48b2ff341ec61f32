package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
	"github.com/bigkaa/goartstore/site-host/internal/domain/slug"
	"github.com/bigkaa/goartstore/site-host/internal/repository"
	"github.com/bigkaa/goartstore/site-host/internal/storage/wal"
)

func strPtr(s string) *string { return &s }

func TestCreate_Document(t *testing.T) {
	env := newTestEnv(t)

	rec := env.createDocument(t, &CreateRequest{Description: "demo", OwnerKeyHash: "owner"})

	if len(rec.Slug) != slug.GeneratedLength {
		t.Errorf("длина сгенерированного slug: хотели %d, получили %q", slug.GeneratedLength, rec.Slug)
	}
	if rec.StorageDir != rec.ID {
		t.Errorf("StorageDir при создании должен совпадать с ID: %s != %s", rec.StorageDir, rec.ID)
	}
	if rec.FileCount != 1 || rec.SizeBytes != int64(len(testPage)) {
		t.Errorf("FileCount/SizeBytes: получили %d/%d", rec.FileCount, rec.SizeBytes)
	}
	if rec.OriginalName != "api-upload-"+rec.Slug+".html" {
		t.Errorf("OriginalName по умолчанию: получили %q", rec.OriginalName)
	}

	want := env.clock.Now().AddDate(0, 0, 30)
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt: хотели %v, получили %v", want, rec.ExpiresAt)
	}

	data, err := os.ReadFile(filepath.Join(env.files.DirPath(rec.StorageDir), model.EntryPoint))
	if err != nil {
		t.Fatalf("входной документ не записан: %v", err)
	}
	if string(data) != testPage {
		t.Errorf("содержимое входного документа: %q", data)
	}

	stored, err := env.store.FindBySlug(context.Background(), rec.Slug)
	if err != nil {
		t.Fatalf("запись не сохранена: %v", err)
	}
	if stored.OwnerKeyHash != "owner" || stored.Description != "demo" {
		t.Errorf("сохранённая запись: %+v", stored)
	}
	if env.journal.PendingCount() != 0 {
		t.Errorf("журнал должен быть пуст, pending=%d", env.journal.PendingCount())
	}
	if m, err := env.files.ReadManifest(rec.StorageDir); err != nil || m.RecordID != rec.ID || m.Slug != rec.Slug {
		t.Errorf("манифест загрузки: %+v, %v", m, err)
	}
}

func TestCreate_CustomSlugNormalized(t *testing.T) {
	env := newTestEnv(t)

	rec := env.createDocument(t, &CreateRequest{Slug: "  My-Page_1 "})
	if rec.Slug != "my-page_1" {
		t.Errorf("slug: хотели my-page_1, получили %q", rec.Slug)
	}
}

func TestCreate_Permanent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.createDocument(t, &CreateRequest{Duration: "permanent"})
	if rec.ExpiresAt != nil {
		t.Errorf("permanent: ExpiresAt должен быть nil, получили %v", rec.ExpiresAt)
	}

	expired, err := env.store.FindExpired(context.Background(), env.clock.Now().AddDate(100, 0, 0))
	if err != nil {
		t.Fatalf("FindExpired: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("permanent запись не должна попадать в FindExpired")
	}
}

func TestCreate_RejectsBeforeDiskWork(t *testing.T) {
	tests := []struct {
		name string
		req  *CreateRequest
		kind Kind
		code string
	}{
		{
			name: "невалидный slug",
			req:  &CreateRequest{Content: Content{Kind: model.KindSingleDocument, Data: []byte(testPage)}, Slug: "bad slug!"},
			kind: KindInvalidInput, code: CodeInvalidSlug,
		},
		{
			name: "зарезервированный slug",
			req:  &CreateRequest{Content: Content{Kind: model.KindSingleDocument, Data: []byte(testPage)}, Slug: "API"},
			kind: KindConflict, code: CodeSlugReserved,
		},
		{
			name: "не HTML",
			req:  &CreateRequest{Content: Content{Kind: model.KindSingleDocument, Data: []byte("just text")}},
			kind: KindInvalidInput, code: CodeInvalidContent,
		},
		{
			name: "слишком большой документ",
			req:  &CreateRequest{Content: Content{Kind: model.KindSingleDocument, Data: make([]byte, 2<<20)}},
			kind: KindInvalidInput, code: CodePayloadTooLarge,
		},
		{
			name: "неизвестный тип",
			req:  &CreateRequest{Content: Content{Kind: "tarball", Data: []byte(testPage)}},
			kind: KindInvalidInput, code: CodeInvalidContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.ingest(nil).Create(context.Background(), tt.req)
			requireCode(t, err, tt.kind, tt.code)

			if n := env.dirCount(t); n != 0 {
				t.Errorf("директорий на диске: хотели 0, получили %d", n)
			}
		})
	}
}

func TestCreate_LowercaseDoctypeAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.createDocument(t, &CreateRequest{Content: Content{Kind: model.KindSingleDocument, Data: []byte("<!doctype html><p>x</p>")}})
}

func TestCreate_CustomSlugTaken(t *testing.T) {
	env := newTestEnv(t)
	env.createDocument(t, &CreateRequest{Slug: "taken"})

	_, err := env.ingest(nil).Create(context.Background(), &CreateRequest{
		Content: Content{Kind: model.KindSingleDocument, Data: []byte(testPage)},
		Slug:    "taken",
	})
	requireCode(t, err, KindConflict, CodeSlugConflict)

	if n := env.dirCount(t); n != 1 {
		t.Errorf("директорий на диске: хотели 1, получили %d", n)
	}
}

func TestCreate_ConcurrentSameSlug(t *testing.T) {
	env := newTestEnv(t)
	svc := env.ingest(nil)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), &CreateRequest{
				Content: Content{Kind: model.KindSingleDocument, Data: []byte(testPage)},
				Slug:    "race",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if se, ok := AsError(err); ok && se.Code == CodeSlugConflict {
				conflicts++
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("хотели 1 успех и %d конфликтов, получили %d/%d", workers-1, successes, conflicts)
	}
	if n := env.dirCount(t); n != 1 {
		t.Errorf("после гонки должна остаться одна директория, получили %d", n)
	}
}

func TestCreate_AllocationExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.createDocument(t, &CreateRequest{Slug: "aaaaaaaa"})

	svc := env.ingest(nil).WithAllocator(
		slug.NewAllocator(env.store).WithGenerator(func() (string, error) { return "aaaaaaaa", nil }),
	)
	_, err := svc.Create(context.Background(), &CreateRequest{
		Content: Content{Kind: model.KindSingleDocument, Data: []byte(testPage)},
	})
	se := requireCode(t, err, KindAllocationExhausted, CodeAllocationExhausted)
	if !se.Retryable() {
		t.Error("ALLOCATION_EXHAUSTED должна быть повторяемой")
	}
	if n := env.dirCount(t); n != 1 {
		t.Errorf("директория неудачной загрузки не удалена: директорий %d", n)
	}
}

func TestCreate_GeneratedSlugRetriesOnInsertConflict(t *testing.T) {
	env := newTestEnv(t)

	// Первая вставка получает конфликт, вторая проходит
	calls := 0
	store := &conflictOnceStore{ContentStore: env.store, calls: &calls}
	svc := NewIngestService(testIngestConfig(), store, env.files, env.journal, testLogger())

	res, err := svc.Create(context.Background(), &CreateRequest{
		Content: Content{Kind: model.KindSingleDocument, Data: []byte(testPage)},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if calls != 2 {
		t.Errorf("ожидалось 2 попытки вставки, получили %d", calls)
	}
	if _, err := env.store.FindBySlug(context.Background(), res.Record.Slug); err != nil {
		t.Errorf("запись не найдена: %v", err)
	}
}

func TestCreate_BundleWithCommonFolder(t *testing.T) {
	env := newTestEnv(t)
	data := buildZip(t,
		zipFile{"myproject/index.html", testPage},
		zipFile{"myproject/css/a.css", "body{}"},
		zipFile{"__MACOSX/._index.html", "junk"},
	)

	res, err := env.ingest(nil).Create(context.Background(), &CreateRequest{
		Content: Content{Kind: model.KindBundle, Data: data, OriginalName: "../my project.zip"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec := res.Record
	if rec.FileCount != 2 {
		t.Errorf("FileCount: хотели 2, получили %d", rec.FileCount)
	}
	if rec.OriginalName != "my_project.zip" {
		t.Errorf("OriginalName: получили %q", rec.OriginalName)
	}

	root := env.files.DirPath(rec.StorageDir)
	for _, p := range []string{"index.html", "css/a.css"} {
		if _, err := os.Stat(filepath.Join(root, p)); err != nil {
			t.Errorf("файл %s не извлечён: %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "__MACOSX")); !os.IsNotExist(err) {
		t.Error("__MACOSX не должен извлекаться")
	}
}

func TestCreate_InvalidBundle(t *testing.T) {
	tests := []struct {
		name  string
		files []zipFile
		code  string
	}{
		{
			name:  "запрещённый тип",
			files: []zipFile{{"index.html", testPage}, {"shell.php", "<?php"}},
			code:  CodeInvalidBundle,
		},
		{
			name:  "нет входного документа",
			files: []zipFile{{"style.css", "body{}"}, {"app.js", "1"}},
			code:  CodeMissingEntryPoint,
		},
		{
			name:  "выход за пределы директории",
			files: []zipFile{{"index.html", testPage}, {"../../etc/passwd", "x"}},
			code:  CodeInvalidBundle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.ingest(nil).Create(context.Background(), &CreateRequest{
				Content: Content{Kind: model.KindBundle, Data: buildZip(t, tt.files...)},
			})
			se := requireCode(t, err, KindInvalidInput, tt.code)
			if se.Details == nil {
				t.Error("ожидались подробности проблем бандла")
			}
			if n := env.dirCount(t); n != 0 {
				t.Errorf("директорий на диске: хотели 0, получили %d", n)
			}
		})
	}
}

func TestCreate_StoreFailureCleansUp(t *testing.T) {
	env := newTestEnv(t)
	store := &failingStore{ContentStore: env.store, insertErr: errors.New("database is down")}

	for _, kind := range []model.Kind{model.KindSingleDocument, model.KindBundle} {
		data := []byte(testPage)
		if kind == model.KindBundle {
			data = buildZip(t, zipFile{"index.html", testPage}, zipFile{"a.css", "x"})
		}
		_, err := env.ingest(store).Create(context.Background(), &CreateRequest{
			Content: Content{Kind: kind, Data: data},
		})
		requireCode(t, err, KindInternal, CodeInternalError)
	}

	if n := env.dirCount(t); n != 0 {
		t.Errorf("после сбоя хранилища директорий: хотели 0, получили %d", n)
	}
	if env.journal.PendingCount() != 0 {
		t.Errorf("журнал не должен содержать незавершённых записей, pending=%d", env.journal.PendingCount())
	}
	if env.store.Count() != 0 {
		t.Errorf("записей: хотели 0, получили %d", env.store.Count())
	}
}

func TestCreate_CancelledContextCleansUp(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.ingest(nil).Create(ctx, &CreateRequest{
		Content: Content{Kind: model.KindBundle, Data: buildZip(t, zipFile{"index.html", testPage})},
	})
	requireCode(t, err, KindExtractionFailed, CodeExtractionFailed)
	if n := env.dirCount(t); n != 0 {
		t.Errorf("директорий на диске: хотели 0, получили %d", n)
	}
}

func TestCreate_PasswordHashed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createDocument(t, &CreateRequest{Password: "s3cret"})

	if !rec.IsPasswordProtected() {
		t.Fatal("запись должна быть защищена паролем")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte("s3cret")); err != nil {
		t.Errorf("хэш пароля не совпадает: %v", err)
	}
}

func TestCreate_PasswordTrimmed(t *testing.T) {
	env := newTestEnv(t)

	blank := env.createDocument(t, &CreateRequest{Password: "   \t"})
	if blank.IsPasswordProtected() {
		t.Error("пароль из пробелов не должен включать защиту")
	}

	padded := env.createDocument(t, &CreateRequest{Password: "  s3cret  "})
	if err := bcrypt.CompareHashAndPassword([]byte(padded.PasswordHash), []byte("s3cret")); err != nil {
		t.Errorf("хэшироваться должен пароль без пробелов: %v", err)
	}
	if _, err := env.content().Open(context.Background(), padded.Slug, "", " s3cret"); err != nil {
		t.Errorf("пароль с пробелами должен открывать страницу: %v", err)
	}
}

func TestUpdate_ReplacesContent(t *testing.T) {
	env := newTestEnv(t)
	orig := env.createDocument(t, &CreateRequest{
		Slug: "page", Description: "old", Password: "pw", OwnerKeyHash: "owner",
	})
	oldExpiry := *orig.ExpiresAt

	env.clock.Advance(time.Hour)
	bundle := buildZip(t, zipFile{"index.html", testPage}, zipFile{"js/app.js", "1"})
	res, err := env.ingest(nil).Update(context.Background(), "page", &UpdateRequest{
		Content:       Content{Kind: model.KindBundle, Data: bundle},
		Password:      strPtr(""),
		CallerKeyHash: "owner",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec := res.Record

	if rec.ID != orig.ID {
		t.Errorf("ID должен сохраняться: %s != %s", rec.ID, orig.ID)
	}
	if rec.StorageDir == orig.StorageDir {
		t.Error("обновление должно писать в новую директорию")
	}
	if env.files.DirExists(orig.StorageDir) {
		t.Error("старая директория должна быть удалена")
	}
	if !env.files.DirExists(rec.StorageDir) {
		t.Error("новая директория отсутствует")
	}
	if rec.Kind != model.KindBundle || rec.FileCount != 2 {
		t.Errorf("Kind/FileCount: %s/%d", rec.Kind, rec.FileCount)
	}
	if rec.Description != "old" {
		t.Errorf("описание без изменения должно сохраняться, получили %q", rec.Description)
	}
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(oldExpiry) {
		t.Errorf("срок без изменения должен сохраняться: %v", rec.ExpiresAt)
	}
	if rec.IsPasswordProtected() {
		t.Error("пустой пароль должен снимать защиту")
	}

	stored, _ := env.store.FindBySlug(context.Background(), "page")
	if stored.StorageDir != rec.StorageDir || stored.PasswordHash != "" {
		t.Errorf("хранилище не обновлено: %+v", stored)
	}
	if env.journal.PendingCount() != 0 {
		t.Errorf("журнал: pending=%d", env.journal.PendingCount())
	}
	if m, err := env.files.ReadManifest(rec.StorageDir); err != nil || m.FileCount != 2 || m.Slug != "page" {
		t.Errorf("манифест новой директории: %+v, %v", m, err)
	}
	if _, err := env.files.ReadManifest(orig.StorageDir); err == nil {
		t.Error("манифест старой директории должен быть удалён")
	}
}

func TestUpdate_DurationRecomputed(t *testing.T) {
	env := newTestEnv(t)
	env.createDocument(t, &CreateRequest{Slug: "page"})

	env.clock.Advance(24 * time.Hour)
	res, err := env.ingest(nil).Update(context.Background(), "page", &UpdateRequest{
		Content:     Content{Kind: model.KindSingleDocument, Data: []byte(testPage)},
		Duration:    strPtr("1day"),
		Description: strPtr("new"),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := env.clock.Now().AddDate(0, 0, 1)
	if res.Record.ExpiresAt == nil || !res.Record.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt: хотели %v, получили %v", want, res.Record.ExpiresAt)
	}
	if res.Record.Description != "new" {
		t.Errorf("Description: %q", res.Record.Description)
	}
}

func TestUpdate_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.createDocument(t, &CreateRequest{Slug: "owned", OwnerKeyHash: "owner"})
	doc := Content{Kind: model.KindSingleDocument, Data: []byte(testPage)}

	_, err := env.ingest(nil).Update(context.Background(), "missing", &UpdateRequest{Content: doc})
	requireCode(t, err, KindNotFound, CodeNotFound)

	_, err = env.ingest(nil).Update(context.Background(), "owned", &UpdateRequest{Content: doc, CallerKeyHash: "other"})
	requireCode(t, err, KindForbidden, CodeForbidden)

	_, err = env.ingest(nil).Update(context.Background(), "owned", &UpdateRequest{
		Content: Content{Kind: model.KindSingleDocument, Data: []byte("plain")}, CallerKeyHash: "owner",
	})
	requireCode(t, err, KindInvalidInput, CodeInvalidContent)

	if n := env.dirCount(t); n != 1 {
		t.Errorf("директорий: хотели 1, получили %d", n)
	}
}

func TestUpdate_FailureKeepsPreviousContent(t *testing.T) {
	zero := 0
	tests := []struct {
		name  string
		store func(env *testEnv) *failingStore
		kind  Kind
		code  string
	}{
		{
			name: "сбой хранилища",
			store: func(env *testEnv) *failingStore {
				return &failingStore{ContentStore: env.store, updateErr: errors.New("database is down")}
			},
			kind: KindInternal, code: CodeInternalError,
		},
		{
			name: "конкурентное обновление",
			store: func(env *testEnv) *failingStore {
				return &failingStore{ContentStore: env.store, updateCount: &zero}
			},
			kind: KindConflict, code: CodeConcurrentUpdate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			orig := env.createDocument(t, &CreateRequest{Slug: "page"})

			_, err := env.ingest(tt.store(env)).Update(context.Background(), "page", &UpdateRequest{
				Content: Content{Kind: model.KindBundle, Data: buildZip(t, zipFile{"index.html", testPage})},
			})
			requireCode(t, err, tt.kind, tt.code)

			stored, _ := env.store.FindBySlug(context.Background(), "page")
			if stored.StorageDir != orig.StorageDir {
				t.Errorf("запись не должна меняться: %s", stored.StorageDir)
			}
			if !env.files.EntryPointExists(orig.StoragePath) {
				t.Error("предыдущий контент должен остаться на месте")
			}
			if n := env.dirCount(t); n != 1 {
				t.Errorf("новая директория не удалена: директорий %d", n)
			}
		})
	}
}

func TestRecoverPending(t *testing.T) {
	env := newTestEnv(t)
	live := env.createDocument(t, &CreateRequest{Slug: "live"})

	// Прерванная загрузка: директория есть, записи нет
	abandoned, err := env.journal.Begin(wal.OpIngestCreate, "abandoned-dir", "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := env.files.CreateUploadDir(abandoned.UploadDir); err != nil {
		t.Fatalf("CreateUploadDir: %v", err)
	}
	// Запись сохранена, но журнал не успели завершить
	if _, err := env.journal.Begin(wal.OpIngestCreate, live.StorageDir, "live"); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	journal, err := wal.New(env.journal.Dir(), testLogger())
	if err != nil {
		t.Fatalf("wal.New: %v", err)
	}
	svc := NewIngestService(testIngestConfig(), env.store, env.files, journal, testLogger())

	removed, err := svc.RecoverPending(context.Background())
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if removed != 1 {
		t.Errorf("удалено: хотели 1, получили %d", removed)
	}
	if env.files.DirExists("abandoned-dir") {
		t.Error("директория прерванной загрузки должна быть удалена")
	}
	if !env.files.DirExists(live.StorageDir) {
		t.Error("директория с записью должна сохраниться")
	}
	if journal.PendingCount() != 0 {
		t.Errorf("журнал: pending=%d", journal.PendingCount())
	}
}

// conflictOnceStore возвращает конфликт на первую вставку.
type conflictOnceStore struct {
	repository.ContentStore
	calls *int
}

func (c *conflictOnceStore) Insert(ctx context.Context, rec *model.ContentRecord) error {
	*c.calls++
	if *c.calls == 1 {
		return fmt.Errorf("%w: slug %s", repository.ErrConflict, rec.Slug)
	}
	return c.ContentStore.Insert(ctx, rec)
}
