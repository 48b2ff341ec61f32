// content.go — HTTP handlers JSON API контента: загрузка, обновление,
// метаданные, удаление, архивирование, проверка slug, список, статистика.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/site-host/internal/api/errors"
	"github.com/bigkaa/goartstore/site-host/internal/api/middleware"
	"github.com/bigkaa/goartstore/site-host/internal/config"
	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
	"github.com/bigkaa/goartstore/site-host/internal/service"
)

// envelopeOverhead — запас на поля JSON сверх самого контента.
const envelopeOverhead = 1 << 20

// optionalString различает отсутствующее поле, null и строку.
// null даёт Set=true и пустое значение.
type optionalString struct {
	Set   bool
	Value string
}

func (o *optionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = ""
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

// ptr возвращает указатель на значение, если поле присутствовало.
func (o optionalString) ptr() *string {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

// uploadRequest — тело POST /api/v2/upload и PUT /api/v2/upload/{slug}.
type uploadRequest struct {
	HTML         *string        `json:"html"`
	Zip          *string        `json:"zip"`
	Slug         string         `json:"slug"`
	Description  optionalString `json:"description"`
	Duration     string         `json:"duration"`
	Password     optionalString `json:"password"`
	OriginalName string         `json:"originalName"`
}

func invalidContent(message string) *service.Error {
	return &service.Error{Kind: service.KindInvalidInput, Code: service.CodeInvalidContent, Message: message}
}

// content извлекает документ или архив. Ровно одно из полей html, zip.
func (req *uploadRequest) content() (service.Content, error) {
	hasHTML := req.HTML != nil && *req.HTML != ""
	hasZip := req.Zip != nil && *req.Zip != ""

	switch {
	case hasHTML && hasZip:
		return service.Content{}, invalidContent("Provide either html or zip, not both")
	case hasHTML:
		return service.Content{
			Kind:         model.KindSingleDocument,
			Data:         []byte(*req.HTML),
			OriginalName: req.OriginalName,
		}, nil
	case hasZip:
		data, err := decodeBase64(*req.Zip)
		if err != nil {
			return service.Content{}, invalidContent("Field zip must be base64-encoded ZIP data")
		}
		return service.Content{
			Kind:         model.KindBundle,
			Data:         data,
			OriginalName: req.OriginalName,
		}, nil
	default:
		return service.Content{}, invalidContent("Missing required field: html or zip")
	}
}

// decodeBase64 принимает чистый base64 и data URL вида data:...;base64,...
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

// ContentHandler — обработчик endpoints контента.
type ContentHandler struct {
	ingest  *service.IngestService
	content *service.ContentService
	baseURL string
	maxBody int64
	now     func() time.Time
	logger  *slog.Logger
}

// NewContentHandler создаёт обработчик endpoints контента.
func NewContentHandler(
	ingest *service.IngestService,
	content *service.ContentService,
	cfg *config.Config,
	logger *slog.Logger,
) *ContentHandler {
	// html может прийти с экранированием, поэтому запас вдвое
	maxBody := max(int64(base64.StdEncoding.EncodedLen(int(cfg.MaxBundleSize))), 2*cfg.MaxDocumentSize)
	return &ContentHandler{
		ingest:  ingest,
		content: content,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		maxBody: maxBody + envelopeOverhead,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "content_api")),
	}
}

// decode читает JSON-тело с ограничением размера.
// При ошибке ответ уже записан.
func (h *ContentHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "Request body exceeds maximum size")
			return false
		}
		apierrors.InvalidRequest(w, "Invalid JSON body")
		return false
	}
	return true
}

// contentURL строит публичную ссылку на контент.
// Без SH_BASE_URL используется хост запроса.
func (h *ContentHandler) contentURL(r *http.Request, slugValue string) string {
	base := h.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/" + slugValue + "/"
}

// contentResponse — метаданные записи со ссылкой.
type contentResponse struct {
	*service.ContentView
	URL string `json:"url"`
}

func (h *ContentHandler) withURL(r *http.Request, v *service.ContentView) contentResponse {
	return contentResponse{ContentView: v, URL: h.contentURL(r, v.Slug)}
}

func (h *ContentHandler) ingestResponse(r *http.Request, res *service.IngestResult) map[string]any {
	caller := middleware.APIKeyHashFromContext(r.Context())
	view := service.NewContentView(res.Record, caller, h.now().UTC())
	resp := map[string]any{
		"success": true,
		"url":     h.contentURL(r, res.Record.Slug),
		"file":    h.withURL(r, view),
	}
	if len(res.Warnings) > 0 {
		resp["warnings"] = res.Warnings
	}
	return resp
}

// Upload обрабатывает POST /api/v2/upload.
func (h *ContentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !h.decode(w, r, &req) {
		return
	}
	content, err := req.content()
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	res, err := h.ingest.Create(r.Context(), &service.CreateRequest{
		Content:      content,
		Slug:         req.Slug,
		Description:  req.Description.Value,
		Duration:     req.Duration,
		Password:     req.Password.Value,
		OwnerKeyHash: middleware.APIKeyHashFromContext(r.Context()),
		UploadIP:     middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, h.ingestResponse(r, res))
}

// Update обрабатывает PUT /api/v2/upload/{slug}.
// Отсутствующие description, duration и password сохраняют текущие значения;
// password: null или "" снимает защиту.
func (h *ContentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !h.decode(w, r, &req) {
		return
	}
	content, err := req.content()
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	upd := &service.UpdateRequest{
		Content:       content,
		Description:   req.Description.ptr(),
		Password:      req.Password.ptr(),
		CallerKeyHash: middleware.APIKeyHashFromContext(r.Context()),
	}
	if req.Duration != "" {
		upd.Duration = &req.Duration
	}

	res, err := h.ingest.Update(r.Context(), chi.URLParam(r, "slug"), upd)
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, h.ingestResponse(r, res))
}

// GetFile обрабатывает GET /api/v2/file/{slug}.
func (h *ContentHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	view, err := h.content.Get(r.Context(), chi.URLParam(r, "slug"), middleware.APIKeyHashFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"file":    h.withURL(r, view),
	})
}

// DeleteFile обрабатывает DELETE /api/v2/file/{slug}.
func (h *ContentHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	slugValue := chi.URLParam(r, "slug")
	if err := h.content.Delete(r.Context(), slugValue, middleware.APIKeyHashFromContext(r.Context())); err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Content deleted",
	})
}

// Archive обрабатывает POST /api/v2/archive/{slug}.
func (h *ContentHandler) Archive(w http.ResponseWriter, r *http.Request) {
	view, err := h.content.Archive(r.Context(), chi.URLParam(r, "slug"), middleware.APIKeyHashFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"file":    h.withURL(r, view),
	})
}

// Unarchive обрабатывает POST /api/v2/unarchive/{slug}.
func (h *ContentHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	view, err := h.content.Unarchive(r.Context(), chi.URLParam(r, "slug"), middleware.APIKeyHashFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"file":    h.withURL(r, view),
	})
}

// CheckSlug обрабатывает GET /api/v2/check-slug/{slug}.
func (h *ContentHandler) CheckSlug(w http.ResponseWriter, r *http.Request) {
	res, err := h.content.CheckSlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"slug":      res.Slug,
		"available": res.Available,
		"reason":    res.Reason,
	})
}

// ListFiles обрабатывает GET /api/v2/files?search=&limit=&offset=.
func (h *ContentHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ListFilter{Search: strings.TrimSpace(q.Get("search"))}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		apierrors.InvalidRequest(w, "Parameter limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		apierrors.InvalidRequest(w, "Parameter offset must be a non-negative integer")
		return
	}

	res, err := h.content.List(r.Context(), filter, middleware.APIKeyHashFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	files := make([]contentResponse, 0, len(res.Items))
	for _, v := range res.Items {
		files = append(files, h.withURL(r, v))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"files":   files,
		"total":   res.Total,
		"limit":   res.Limit,
		"offset":  res.Offset,
	})
}

// queryInt разбирает неотрицательное целое; пустая строка даёт 0.
func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("ожидается неотрицательное целое")
	}
	return n, nil
}

// Stats обрабатывает GET /api/v2/stats.
func (h *ContentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.content.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
	})
}
