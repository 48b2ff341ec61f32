package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
	"github.com/bigkaa/goartstore/site-host/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOptionalString(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		set   bool
		value string
	}{
		{"отсутствует", `{}`, false, ""},
		{"null", `{"password": null}`, true, ""},
		{"пустая строка", `{"password": ""}`, true, ""},
		{"значение", `{"password": "abc"}`, true, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req uploadRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if req.Password.Set != tt.set || req.Password.Value != tt.value {
				t.Errorf("Ожидали set=%v value=%q, получили set=%v value=%q",
					tt.set, tt.value, req.Password.Set, req.Password.Value)
			}
			if p := req.Password.ptr(); (p != nil) != tt.set {
				t.Errorf("ptr: ожидали nil=%v", !tt.set)
			}
		})
	}
}

func TestUploadRequestContent(t *testing.T) {
	page := "<html></html>"
	req := uploadRequest{HTML: &page, OriginalName: "a.html"}
	c, err := req.content()
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if c.Kind != model.KindSingleDocument || string(c.Data) != page || c.OriginalName != "a.html" {
		t.Errorf("Неожиданный контент: %+v", c)
	}

	zipData := "data:application/zip;base64,UEsFBgAAAAAAAAAAAAAAAAAAAAAAAA=="
	req = uploadRequest{Zip: &zipData}
	c, err = req.content()
	if err != nil {
		t.Fatalf("content для data URL: %v", err)
	}
	if c.Kind != model.KindBundle || len(c.Data) != 22 {
		t.Errorf("Ожидали 22 байта архива, получили %d", len(c.Data))
	}

	empty := ""
	req = uploadRequest{HTML: &empty}
	if _, err := req.content(); err == nil {
		t.Error("Пустой html должен отклоняться")
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  *service.Error
		want int
	}{
		{&service.Error{Kind: service.KindInvalidInput, Code: service.CodeInvalidSlug}, http.StatusBadRequest},
		{&service.Error{Kind: service.KindInvalidInput, Code: service.CodePayloadTooLarge}, http.StatusRequestEntityTooLarge},
		{&service.Error{Kind: service.KindConflict}, http.StatusConflict},
		{&service.Error{Kind: service.KindAllocationExhausted}, http.StatusServiceUnavailable},
		{&service.Error{Kind: service.KindExtractionFailed}, http.StatusInternalServerError},
		{&service.Error{Kind: service.KindNotFound}, http.StatusNotFound},
		{&service.Error{Kind: service.KindGone}, http.StatusGone},
		{&service.Error{Kind: service.KindForbidden}, http.StatusForbidden},
		{&service.Error{Kind: service.KindUnauthorized}, http.StatusUnauthorized},
		{&service.Error{Kind: service.KindInternal}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("%s/%s: ожидали %d, получили %d", tt.err.Kind, tt.err.Code, tt.want, got)
		}
	}
}

func TestWriteServiceError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v2/stats", nil)

	writeServiceError(rec, req, errors.New("pq: connection refused at /var/lib/secret"), testLogger())

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Ожидали 500, получили %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body.Error.Code != service.CodeInternalError || body.Error.Message != "Internal server error" {
		t.Errorf("Неожиданная ошибка: %+v", body.Error)
	}
}

func TestHealthReady(t *testing.T) {
	dataDir := t.TempDir()
	h := NewHealthHandler(dataDir, t.TempDir(), nil)

	rec := httptest.NewRecorder()
	h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Ожидали 200, получили %d", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(dataDir, ".health_check")); !os.IsNotExist(err) {
		t.Error("Пробный файл должен удаляться")
	}

	h = NewHealthHandler(filepath.Join(dataDir, "missing"), t.TempDir(), nil)
	rec = httptest.NewRecorder()
	h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Недоступная директория данных: ожидали 503, получили %d", rec.Code)
	}
}

type failingStoreCheck struct{}

func (failingStoreCheck) CheckReady() (string, string) { return statusFail, "нет соединения" }

func TestHealthReady_StoreFailure(t *testing.T) {
	h := NewHealthHandler(t.TempDir(), t.TempDir(), failingStoreCheck{})

	rec := httptest.NewRecorder()
	h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Ожидали 503, получили %d", rec.Code)
	}
}
