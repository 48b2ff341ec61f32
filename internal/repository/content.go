package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/site-host/internal/domain/model"
)

const recordColumns = `id, slug, storage_dir, storage_path, kind, file_count, size_bytes,
	original_name, description, created_at, updated_at, expires_at, archived,
	access_count, owner_key_hash, password_hash, upload_ip, user_agent`

// contentRepo — реализация ContentStore на PostgreSQL.
type contentRepo struct {
	db DBTX
}

// NewContentRepository создаёт хранилище записей поверх pgx.
func NewContentRepository(db DBTX) ContentStore {
	return &contentRepo{db: db}
}

func scanRecord(row pgx.Row) (*model.ContentRecord, error) {
	rec := &model.ContentRecord{}
	err := row.Scan(
		&rec.ID, &rec.Slug, &rec.StorageDir, &rec.StoragePath, &rec.Kind, &rec.FileCount, &rec.SizeBytes,
		&rec.OriginalName, &rec.Description, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt, &rec.Archived,
		&rec.AccessCount, &rec.OwnerKeyHash, &rec.PasswordHash, &rec.UploadIP, &rec.UserAgent,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *contentRepo) Insert(ctx context.Context, rec *model.ContentRecord) error {
	query := `
		INSERT INTO content_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.Slug, rec.StorageDir, rec.StoragePath, rec.Kind, rec.FileCount, rec.SizeBytes,
		rec.OriginalName, rec.Description, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt, rec.Archived,
		rec.AccessCount, rec.OwnerKeyHash, rec.PasswordHash, rec.UploadIP, rec.UserAgent,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: slug %s уже занят", ErrConflict, rec.Slug)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

func (r *contentRepo) FindBySlug(ctx context.Context, slug string) (*model.ContentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM content_records WHERE slug = $1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

func (r *contentRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_records WHERE slug = $1)`, slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки slug: %w", err)
	}
	return exists, nil
}

func (r *contentRepo) UpdateBySlug(ctx context.Context, slug string, upd *model.ContentUpdate) (int, error) {
	query := `
		UPDATE content_records
		SET storage_dir = $3, storage_path = $4, kind = $5, file_count = $6, size_bytes = $7,
			original_name = $8, description = $9, expires_at = $10, password_hash = $11, updated_at = $12
		WHERE slug = $1 AND storage_dir = $2`

	tag, err := r.db.Exec(ctx, query,
		slug, upd.ExpectedStorageDir,
		upd.StorageDir, upd.StoragePath, upd.Kind, upd.FileCount, upd.SizeBytes,
		upd.OriginalName, upd.Description, upd.ExpiresAt, upd.PasswordHash, upd.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка обновления записи: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *contentRepo) SetArchived(ctx context.Context, slug string, archived bool, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE content_records SET archived = $2, updated_at = $3 WHERE slug = $1`,
		slug, archived, now,
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка изменения архивации: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *contentRepo) DeleteBySlug(ctx context.Context, slug string) (*DeleteResult, error) {
	res := &DeleteResult{}
	err := r.db.QueryRow(ctx,
		`DELETE FROM content_records WHERE slug = $1 RETURNING storage_dir, storage_path`, slug,
	).Scan(&res.StorageDir, &res.StoragePath)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return res, nil
		}
		return nil, fmt.Errorf("ошибка удаления записи: %w", err)
	}
	res.Count = 1
	return res, nil
}

func (r *contentRepo) FindExpired(ctx context.Context, now time.Time) ([]*model.ContentRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM content_records
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at`

	return r.queryRecords(ctx, query, now)
}

func (r *contentRepo) DeleteMany(ctx context.Context, targets []ReapTarget, now time.Time) (int, error) {
	if len(targets) == 0 {
		return 0, nil
	}
	ids := make([]string, len(targets))
	dirs := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
		dirs[i] = t.StorageDir
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM content_records c
		USING unnest($1::text[], $2::text[]) AS t(id, storage_dir)
		WHERE c.id::text = t.id AND c.storage_dir = t.storage_dir
		  AND c.expires_at IS NOT NULL AND c.expires_at <= $3`,
		ids, dirs, now,
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления записей: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *contentRepo) IncrementAccess(ctx context.Context, slug string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE content_records SET access_count = access_count + 1 WHERE slug = $1`, slug,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления счётчика: %w", err)
	}
	return nil
}

// likeEscaper экранирует спецсимволы шаблона LIKE.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *contentRepo) List(ctx context.Context, filter model.ListFilter) ([]*model.ContentRecord, int, error) {
	where := ""
	var args []any
	if filter.Search != "" {
		where = `WHERE slug ILIKE $1 OR original_name ILIKE $1 OR description ILIKE $1`
		args = append(args, "%"+likeEscaper.Replace(filter.Search)+"%")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM content_records `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM content_records %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, recordColumns, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	records, err := r.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *contentRepo) Stats(ctx context.Context, now time.Time) (*model.StorageStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT archived AND (expires_at IS NULL OR expires_at > $1)),
			COUNT(*) FILTER (WHERE expires_at IS NOT NULL AND expires_at <= $1),
			COUNT(*) FILTER (WHERE archived),
			COUNT(*) FILTER (WHERE expires_at IS NULL),
			COUNT(*) FILTER (WHERE kind = 'bundle'),
			COUNT(*) FILTER (WHERE kind = 'single-document'),
			COALESCE(SUM(size_bytes), 0)::bigint,
			COALESCE(SUM(access_count), 0)::bigint
		FROM content_records`

	s := &model.StorageStats{}
	err := r.db.QueryRow(ctx, query, now).Scan(
		&s.TotalRecords, &s.ActiveRecords, &s.ExpiredRecords, &s.Archived, &s.Permanent,
		&s.Bundles, &s.Documents, &s.TotalSizeBytes, &s.TotalAccess,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	return s, nil
}

func (r *contentRepo) StorageDirs(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT storage_dir, slug FROM content_records`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения директорий: %w", err)
	}
	defer rows.Close()

	dirs := make(map[string]string)
	for rows.Next() {
		var dir, slug string
		if err := rows.Scan(&dir, &slug); err != nil {
			return nil, fmt.Errorf("ошибка сканирования директории: %w", err)
		}
		dirs[dir] = slug
	}
	return dirs, rows.Err()
}

func (r *contentRepo) queryRecords(ctx context.Context, query string, args ...any) ([]*model.ContentRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей: %w", err)
	}
	defer rows.Close()

	var records []*model.ContentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
