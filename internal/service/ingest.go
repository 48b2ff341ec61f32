// ingest.go — приём контента: проверка, запись в новую директорию
// загрузки, выделение slug и сохранение записи. Любая ошибка после
// создания директории приводит к её удалению.
package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/goartstore/site-host/internal/api/middleware"
	"github.com/bigkaa/goartstore/site-host/internal/archive"
	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
	"github.com/bigkaa/goartstore/site-host/internal/domain/slug"
	"github.com/bigkaa/goartstore/site-host/internal/repository"
	"github.com/bigkaa/goartstore/site-host/internal/storage/filestore"
	"github.com/bigkaa/goartstore/site-host/internal/storage/wal"
)

// IngestConfig — лимиты приёма контента.
type IngestConfig struct {
	MaxDocumentSize int64
	MaxBundleSize   int64
	BcryptCost      int
}

// Content — загружаемый контент.
type Content struct {
	Kind model.Kind
	Data []byte
	// OriginalName — имя файла у клиента (очищается перед сохранением)
	OriginalName string
}

// CreateRequest — параметры создания записи.
type CreateRequest struct {
	Content
	// Slug — желаемый slug; пусто — сгенерировать случайный
	Slug        string
	Description string
	// Duration — срок жизни (1day, 30days, 6months, permanent)
	Duration     string
	Password     string
	OwnerKeyHash string
	UploadIP     string
	UserAgent    string
}

// UpdateRequest — параметры замены контента.
// nil-поля оставляют текущее значение; пустой Password снимает защиту.
type UpdateRequest struct {
	Content
	Description   *string
	Duration      *string
	Password      *string
	CallerKeyHash string
}

// IngestResult — итог приёма.
type IngestResult struct {
	Record   *model.ContentRecord
	Warnings []archive.Issue
}

// IngestService — конвейер приёма контента.
type IngestService struct {
	cfg     IngestConfig
	store   repository.ContentStore
	files   *filestore.FileStore
	journal *wal.Journal
	slugs   *slug.Allocator
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// NewIngestService создаёт конвейер приёма контента.
func NewIngestService(
	cfg IngestConfig,
	store repository.ContentStore,
	files *filestore.FileStore,
	journal *wal.Journal,
	logger *slog.Logger,
) *IngestService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &IngestService{
		cfg:     cfg,
		store:   store,
		files:   files,
		journal: journal,
		slugs:   slug.NewAllocator(store),
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger.With(slog.String("component", "ingest")),
	}
}

// WithClock подменяет источник времени.
func (s *IngestService) WithClock(now func() time.Time) *IngestService {
	s.now = now
	return s
}

// WithAllocator подменяет распределитель slug.
func (s *IngestService) WithAllocator(a *slug.Allocator) *IngestService {
	s.slugs = a
	return s
}

// prepared — проверенный контент, готовый к записи.
type prepared struct {
	kind   model.Kind
	doc    []byte
	report *archive.Report
}

// Create принимает новый контент и создаёт запись.
func (s *IngestService) Create(ctx context.Context, req *CreateRequest) (res *IngestResult, err error) {
	defer func() { observeUpload("create", req.Kind, err) }()

	custom := ""
	if strings.TrimSpace(req.Slug) != "" {
		custom, err = slug.Check(req.Slug)
		if err != nil {
			return nil, slugError(err)
		}
		exists, err := s.store.SlugExists(ctx, custom)
		if err != nil {
			return nil, internalError("Ошибка проверки slug", err)
		}
		if exists {
			return nil, slugError(slug.ErrTaken)
		}
	}

	p, err := s.prepare(req.Content)
	if err != nil {
		return nil, err
	}

	pwHash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	id := s.newID()

	entry, err := s.beginUpload(wal.OpIngestCreate, id, custom)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			s.discard(entry)
		}
	}()

	size, count, err := s.materialize(ctx, id, p)
	if err != nil {
		return nil, err
	}

	rec := &model.ContentRecord{
		ID:           id,
		StorageDir:   id,
		StoragePath:  model.EntryPointPath(id),
		Kind:         p.kind,
		FileCount:    count,
		SizeBytes:    size,
		OriginalName: filestore.SanitizeName(req.OriginalName),
		Description:  req.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    model.ParseDuration(req.Duration).ExpiresAt(now),
		OwnerKeyHash: req.OwnerKeyHash,
		PasswordHash: pwHash,
		UploadIP:     req.UploadIP,
		UserAgent:    req.UserAgent,
	}

	if err := s.insertWithSlug(ctx, rec, custom, rec.OriginalName == ""); err != nil {
		return nil, err
	}
	committed = true

	if err := s.journal.Commit(entry); err != nil {
		s.logger.Warn("Не удалось завершить запись журнала",
			slog.String("upload_dir", id),
			slog.String("error", err.Error()),
		)
	}

	s.writeManifest(rec, now)

	s.logger.Info("Контент размещён",
		slog.String("slug", rec.Slug),
		slog.String("kind", string(rec.Kind)),
		slog.Int("files", rec.FileCount),
		slog.Int64("size", rec.SizeBytes),
	)

	return &IngestResult{Record: rec, Warnings: warnings(p)}, nil
}

// Update заменяет контент существующей записи. Старая директория
// удаляется только после того, как запись указывает на новую.
func (s *IngestService) Update(ctx context.Context, slugValue string, req *UpdateRequest) (res *IngestResult, err error) {
	defer func() { observeUpload("update", req.Kind, err) }()

	existing, err := s.store.FindBySlug(ctx, slug.Normalize(slugValue))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, CodeNotFound, "Content not found")
		}
		return nil, internalError("Ошибка получения записи", err)
	}
	if !existing.CanModify(req.CallerKeyHash) {
		return nil, newError(KindForbidden, CodeForbidden, "You do not have permission to modify this content")
	}

	p, err := s.prepare(req.Content)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()

	upd := &model.ContentUpdate{
		ExpectedStorageDir: existing.StorageDir,
		Kind:               p.kind,
		OriginalName:       existing.OriginalName,
		Description:        existing.Description,
		ExpiresAt:          existing.ExpiresAt,
		PasswordHash:       existing.PasswordHash,
		UpdatedAt:          now,
	}
	if req.OriginalName != "" {
		upd.OriginalName = filestore.SanitizeName(req.OriginalName)
	}
	if req.Description != nil {
		upd.Description = *req.Description
	}
	if req.Duration != nil {
		upd.ExpiresAt = model.ParseDuration(*req.Duration).ExpiresAt(now)
	}
	if req.Password != nil {
		upd.PasswordHash, err = s.hashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
	}

	dir := s.newID()
	entry, err := s.beginUpload(wal.OpIngestUpdate, dir, existing.Slug)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			s.discard(entry)
		}
	}()

	size, count, err := s.materialize(ctx, dir, p)
	if err != nil {
		return nil, err
	}
	upd.StorageDir = dir
	upd.StoragePath = model.EntryPointPath(dir)
	upd.SizeBytes = size
	upd.FileCount = count

	n, err := s.store.UpdateBySlug(ctx, existing.Slug, upd)
	if err != nil {
		return nil, internalError("Ошибка обновления записи", err)
	}
	if n == 0 {
		return nil, newError(KindConflict, CodeConcurrentUpdate, "Content was modified or deleted concurrently")
	}
	committed = true

	if err := s.journal.Commit(entry); err != nil {
		s.logger.Warn("Не удалось завершить запись журнала",
			slog.String("upload_dir", dir),
			slog.String("error", err.Error()),
		)
	}
	if err := s.files.RemoveDir(existing.StorageDir); err != nil {
		s.logger.Warn("Не удалось удалить предыдущую директорию",
			slog.String("slug", existing.Slug),
			slog.String("storage_dir", existing.StorageDir),
			slog.String("error", err.Error()),
		)
	}

	upd.Apply(existing)
	s.writeManifest(existing, now)

	s.logger.Info("Контент обновлён",
		slog.String("slug", existing.Slug),
		slog.String("kind", string(existing.Kind)),
		slog.Int("files", existing.FileCount),
	)

	return &IngestResult{Record: existing, Warnings: warnings(p)}, nil
}

// RecoverPending разбирает загрузки, прерванные остановкой процесса.
// Директория, на которую ссылается запись, сохраняется; остальные удаляются.
func (s *IngestService) RecoverPending(ctx context.Context) (removed int, err error) {
	entries, err := s.journal.RecoverPending()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	dirs, err := s.store.StorageDirs(ctx)
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if _, referenced := dirs[e.UploadDir]; referenced {
			if err := s.journal.Commit(e); err != nil {
				s.logger.Warn("Не удалось завершить запись журнала", slog.String("error", err.Error()))
			}
			continue
		}
		if err := s.files.RemoveDir(e.UploadDir); err != nil {
			s.logger.Error("Не удалось удалить директорию прерванной загрузки",
				slog.String("upload_dir", e.UploadDir),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.journal.Abort(e); err != nil {
			s.logger.Warn("Не удалось завершить запись журнала", slog.String("error", err.Error()))
		}
		removed++
	}

	s.logger.Info("Восстановление загрузок завершено",
		slog.Int("pending", len(entries)),
		slog.Int("removed", removed),
	)
	return removed, nil
}

// prepare проверяет контент до любых изменений на диске.
func (s *IngestService) prepare(c Content) (*prepared, error) {
	switch c.Kind {
	case model.KindSingleDocument:
		if int64(len(c.Data)) > s.cfg.MaxDocumentSize {
			return nil, newError(KindInvalidInput, CodePayloadTooLarge, "HTML content exceeds maximum size")
		}
		if !LooksLikeHTML(c.Data) {
			return nil, newError(KindInvalidInput, CodeInvalidContent, "Content must be a valid HTML document")
		}
		return &prepared{kind: c.Kind, doc: c.Data}, nil

	case model.KindBundle:
		if int64(len(c.Data)) > s.cfg.MaxBundleSize {
			return nil, newError(KindInvalidInput, CodePayloadTooLarge, "Bundle exceeds maximum size")
		}
		rep := archive.Validate(c.Data, s.cfg.MaxBundleSize)
		if !rep.Valid {
			e := newError(KindInvalidInput, bundleCode(rep.PrimaryCode()), rep.Errors[0].Message)
			e.Details = map[string]any{"errors": rep.Errors, "warnings": rep.Warnings}
			return nil, e
		}
		return &prepared{kind: c.Kind, report: rep}, nil

	default:
		return nil, newError(KindInvalidInput, CodeInvalidContent, "Unknown content kind")
	}
}

// LooksLikeHTML проверяет наличие признаков HTML-документа без учёта регистра.
func LooksLikeHTML(data []byte) bool {
	lower := bytes.ToLower(data)
	return bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<!doctype"))
}

func bundleCode(issue string) string {
	switch issue {
	case archive.IssueMissingEntryPoint:
		return CodeMissingEntryPoint
	case archive.IssueSizeLimit:
		return CodeSizeLimitExceeded
	default:
		return CodeInvalidBundle
	}
}

// hashPassword возвращает bcrypt-хэш пароля без крайних пробелов.
// Пустой после обрезки пароль означает отсутствие защиты.
func (s *IngestService) hashPassword(password string) (string, error) {
	password = strings.TrimSpace(password)
	if password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", newError(KindInvalidInput, CodeInvalidContent, "Password is too long")
		}
		return "", internalError("Ошибка хэширования пароля", err)
	}
	return string(hash), nil
}

// beginUpload открывает запись журнала и создаёт чистую директорию загрузки.
func (s *IngestService) beginUpload(op wal.OperationType, dir, slugValue string) (*wal.Entry, error) {
	entry, err := s.journal.Begin(op, dir, slugValue)
	if err != nil {
		return nil, internalError("Ошибка журнала загрузок", err)
	}
	if _, err := s.files.CreateUploadDir(dir); err != nil {
		if aerr := s.journal.Abort(entry); aerr != nil {
			s.logger.Warn("Не удалось завершить запись журнала", slog.String("error", aerr.Error()))
		}
		return nil, internalError("Ошибка создания директории загрузки", err)
	}
	return entry, nil
}

// materialize пишет контент в директорию загрузки и проверяет входной документ.
func (s *IngestService) materialize(ctx context.Context, dir string, p *prepared) (size int64, count int, err error) {
	if p.kind == model.KindSingleDocument {
		size, err = s.files.WriteDocument(dir, bytes.NewReader(p.doc))
		if err != nil {
			return 0, 0, &Error{Kind: KindExtractionFailed, Code: CodeExtractionFailed, Message: "Failed to store document", Err: err}
		}
		count = 1
	} else {
		res, err := archive.Extract(ctx, p.report, s.files.DirPath(dir), s.cfg.MaxBundleSize)
		if errors.Is(err, archive.ErrSizeMismatch) {
			return 0, 0, &Error{Kind: KindInvalidInput, Code: CodeSizeLimitExceeded,
				Message: "Bundle entries exceed their declared or total size", Err: err}
		}
		if err != nil {
			return 0, 0, &Error{Kind: KindExtractionFailed, Code: CodeExtractionFailed, Message: "Failed to extract bundle", Err: err}
		}
		size, count = res.Bytes, res.Files
	}

	if !s.files.EntryPointExists(model.EntryPointPath(dir)) {
		return 0, 0, newError(KindExtractionFailed, CodeExtractionFailed, "Entry point missing after extraction")
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, &Error{Kind: KindExtractionFailed, Code: CodeExtractionFailed, Message: "Request cancelled", Err: err}
	}
	return size, count, nil
}

// insertWithSlug выделяет slug и вставляет запись. Для случайного slug
// конфликт при вставке повторяется в пределах slug.MaxAttempts.
func (s *IngestService) insertWithSlug(ctx context.Context, rec *model.ContentRecord, custom string, defaultName bool) error {
	for attempt := 1; ; attempt++ {
		value, err := s.slugs.Allocate(ctx, custom)
		if err != nil {
			return slugError(err)
		}
		rec.Slug = value
		if defaultName {
			rec.OriginalName = uploadName(value, rec.Kind)
		}

		err = s.store.Insert(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return internalError("Ошибка сохранения записи", err)
		}
		if custom != "" {
			return slugError(slug.ErrTaken)
		}
		if attempt >= slug.MaxAttempts {
			return slugError(slug.ErrAllocationExhausted)
		}
		s.logger.Debug("Конфликт случайного slug, повтор", slog.String("slug", value))
	}
}

// writeManifest записывает манифест директории. Ошибка не отменяет загрузку:
// манифест нужен только для отчёта сверки.
func (s *IngestService) writeManifest(rec *model.ContentRecord, now time.Time) {
	if err := s.files.WriteManifest(rec, now); err != nil {
		s.logger.Warn("Не удалось записать манифест загрузки",
			slog.String("storage_dir", rec.StorageDir),
			slog.String("error", err.Error()),
		)
	}
}

// discard удаляет директорию незавершённой загрузки. Ошибка удаления
// только логируется: запись журнала остаётся и будет разобрана при рестарте.
func (s *IngestService) discard(entry *wal.Entry) {
	if err := s.files.RemoveDir(entry.UploadDir); err != nil {
		s.logger.Error("Не удалось удалить директорию отменённой загрузки",
			slog.String("upload_dir", entry.UploadDir),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.journal.Abort(entry); err != nil {
		s.logger.Warn("Не удалось завершить запись журнала", slog.String("error", err.Error()))
	}
}

func slugError(err error) *Error {
	switch {
	case errors.Is(err, slug.ErrInvalid):
		return newError(KindInvalidInput, CodeInvalidSlug,
			"Slug must contain only letters, numbers, hyphens, and underscores (max 100 characters)")
	case errors.Is(err, slug.ErrReserved):
		return newError(KindConflict, CodeSlugReserved, "This slug is reserved")
	case errors.Is(err, slug.ErrTaken):
		return newError(KindConflict, CodeSlugConflict, "This slug is already taken")
	case errors.Is(err, slug.ErrAllocationExhausted):
		return newError(KindAllocationExhausted, CodeAllocationExhausted, "Could not allocate a unique slug, try again")
	default:
		return internalError("Ошибка выделения slug", err)
	}
}

// uploadName — имя по умолчанию, когда клиент не передал своё.
func uploadName(slugValue string, kind model.Kind) string {
	if kind == model.KindBundle {
		return "api-upload-" + slugValue + ".zip"
	}
	return "api-upload-" + slugValue + ".html"
}

func warnings(p *prepared) []archive.Issue {
	if p.report == nil {
		return nil
	}
	return p.report.Warnings
}

func observeUpload(operation string, kind model.Kind, err error) {
	result := "success"
	if err != nil {
		result = "failed"
		if se, ok := AsError(err); ok && (se.Kind == KindInvalidInput || se.Kind == KindConflict ||
			se.Kind == KindForbidden || se.Kind == KindNotFound) {
			result = "rejected"
		}
	}
	middleware.UploadsTotal.WithLabelValues(operation, string(kind), result).Inc()
}
