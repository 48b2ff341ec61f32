package service

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
	"github.com/bigkaa/goartstore/site-host/internal/repository"
	"github.com/bigkaa/goartstore/site-host/internal/storage/filestore"
	"github.com/bigkaa/goartstore/site-host/internal/storage/index"
	"github.com/bigkaa/goartstore/site-host/internal/storage/wal"
)

const testPage = "<!DOCTYPE html><html><body>hello</body></html>"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testClock — управляемые часы для тестов.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv — хранилище, директория данных и журнал во временной директории.
type testEnv struct {
	store   *index.Store
	files   *filestore.FileStore
	journal *wal.Journal
	clock   *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	journal, err := wal.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания журнала: %v", err)
	}

	return &testEnv{
		store:   index.New(testLogger()),
		files:   files,
		journal: journal,
		clock:   newTestClock(),
	}
}

func testIngestConfig() IngestConfig {
	return IngestConfig{
		MaxDocumentSize: 1 << 20,
		MaxBundleSize:   1 << 20,
		BcryptCost:      bcrypt.MinCost,
	}
}

func (e *testEnv) ingest(store repository.ContentStore) *IngestService {
	if store == nil {
		store = e.store
	}
	return NewIngestService(testIngestConfig(), store, e.files, e.journal, testLogger()).
		WithClock(e.clock.Now)
}

func (e *testEnv) content() *ContentService {
	return NewContentService(e.store, e.files, testLogger()).WithClock(e.clock.Now)
}

// dirCount возвращает количество директорий загрузок на диске.
func (e *testEnv) dirCount(t *testing.T) int {
	t.Helper()
	dirs, err := e.files.ListDirs()
	if err != nil {
		t.Fatalf("ListDirs: %v", err)
	}
	return len(dirs)
}

// createDocument размещает HTML-документ и возвращает запись.
func (e *testEnv) createDocument(t *testing.T, req *CreateRequest) *model.ContentRecord {
	t.Helper()
	if req.Kind == "" {
		req.Kind = model.KindSingleDocument
	}
	if req.Data == nil {
		req.Data = []byte(testPage)
	}
	res, err := e.ingest(nil).Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return res.Record
}

type zipFile struct {
	name string
	body string
}

func buildZip(t *testing.T, files ...zipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			t.Fatalf("zip create %s: %v", f.name, err)
		}
		if _, err := w.Write([]byte(f.body)); err != nil {
			t.Fatalf("zip write %s: %v", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// failingStore — обёртка над хранилищем с внедряемыми ошибками.
type failingStore struct {
	repository.ContentStore
	insertErr   error
	updateErr   error
	updateCount *int
}

func (f *failingStore) Insert(ctx context.Context, rec *model.ContentRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.ContentStore.Insert(ctx, rec)
}

func (f *failingStore) UpdateBySlug(ctx context.Context, slug string, upd *model.ContentUpdate) (int, error) {
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	if f.updateCount != nil {
		return *f.updateCount, nil
	}
	return f.ContentStore.UpdateBySlug(ctx, slug, upd)
}

func requireCode(t *testing.T, err error, kind Kind, code string) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("ожидалась ошибка %s, получили nil", code)
	}
	se, ok := AsError(err)
	if !ok {
		t.Fatalf("ожидалась *service.Error, получили %T: %v", err, err)
	}
	if se.Kind != kind || se.Code != code {
		t.Fatalf("ожидали %s/%s, получили %s/%s (%v)", kind, code, se.Kind, se.Code, err)
	}
	return se
}
