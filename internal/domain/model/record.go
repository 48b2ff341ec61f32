// Пакет model — доменные модели Site Host.
// ContentRecord — единая структура записи о размещённом контенте,
// хранится в ContentStore и отдаётся через API (без служебных полей).
package model

import (
	"path"
	"time"
)

// EntryPoint — имя входного документа в директории загрузки.
const EntryPoint = "index.html"

// Kind — тип размещённого контента.
type Kind string

const (
	// KindSingleDocument — один HTML-документ
	KindSingleDocument Kind = "single-document"
	// KindBundle — ZIP-архив с сайтом
	KindBundle Kind = "bundle"
)

// Valid возвращает true для известных типов контента.
func (k Kind) Valid() bool {
	return k == KindSingleDocument || k == KindBundle
}

// Duration — запрошенный срок жизни контента.
type Duration string

const (
	Duration1Day      Duration = "1day"
	Duration30Days    Duration = "30days"
	Duration6Months   Duration = "6months"
	DurationPermanent Duration = "permanent"
)

// DefaultDuration применяется для пустых и неизвестных значений.
const DefaultDuration = Duration30Days

// ParseDuration приводит строку к Duration.
// Нераспознанное значение даёт DefaultDuration.
func ParseDuration(s string) Duration {
	switch d := Duration(s); d {
	case Duration1Day, Duration30Days, Duration6Months, DurationPermanent:
		return d
	default:
		return DefaultDuration
	}
}

// ExpiresAt вычисляет момент истечения относительно now.
// Для permanent возвращает nil. Месяцы считаются календарно.
func (d Duration) ExpiresAt(now time.Time) *time.Time {
	var t time.Time
	switch d {
	case DurationPermanent:
		return nil
	case Duration1Day:
		t = now.AddDate(0, 0, 1)
	case Duration6Months:
		t = now.AddDate(0, 6, 0)
	default:
		t = now.AddDate(0, 0, 30)
	}
	t = t.UTC()
	return &t
}

// ContentRecord — запись о размещённом контенте.
// Поля с тегом json:"-" не возвращаются в API.
type ContentRecord struct {
	// ID — неизменяемый идентификатор записи (UUID v4)
	ID string `json:"id"`

	// Slug — публичный идентификатор, уникален среди всех записей
	Slug string `json:"slug"`

	// StorageDir — имя директории загрузки относительно корня данных.
	// При создании совпадает с ID, при обновлении заменяется новой.
	StorageDir string `json:"-"`

	// StoragePath — путь к входному документу относительно корня данных
	StoragePath string `json:"-"`

	Kind      Kind  `json:"kind"`
	FileCount int   `json:"fileCount"`
	SizeBytes int64 `json:"sizeBytes"`

	// OriginalName — очищенное имя загруженного файла
	OriginalName string `json:"originalName"`
	Description  string `json:"description"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ExpiresAt — момент истечения; nil для permanent
	ExpiresAt *time.Time `json:"expiresAt"`

	Archived    bool  `json:"archived"`
	AccessCount int64 `json:"accessCount"`

	// OwnerKeyHash — SHA-256 API-ключа владельца; пусто если владельца нет
	OwnerKeyHash string `json:"-"`
	// PasswordHash — bcrypt-хэш пароля страницы; пусто если защиты нет
	PasswordHash string `json:"-"`

	UploadIP  string `json:"-"`
	UserAgent string `json:"-"`
}

// EntryPointPath строит StoragePath для директории загрузки.
func EntryPointPath(storageDir string) string {
	return path.Join(storageDir, EntryPoint)
}

// IsPermanent возвращает true если контент не истекает.
func (r *ContentRecord) IsPermanent() bool {
	return r.ExpiresAt == nil
}

// IsExpired возвращает true если срок истёк к моменту now.
func (r *ContentRecord) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// IsPasswordProtected возвращает true если у страницы есть пароль.
func (r *ContentRecord) IsPasswordProtected() bool {
	return r.PasswordHash != ""
}

// IsServable проверяет метаданные: запись не в архиве и не истекла.
// Наличие директории проверяется отдельно вызывающим кодом.
func (r *ContentRecord) IsServable(now time.Time) bool {
	return !r.Archived && !r.IsExpired(now)
}

// CanModify проверяет право владельца API-ключа изменять запись.
// Запись без владельца может изменять любой действительный ключ.
func (r *ContentRecord) CanModify(keyHash string) bool {
	return r.OwnerKeyHash == "" || r.OwnerKeyHash == keyHash
}

// Clone возвращает глубокую копию записи.
func (r *ContentRecord) Clone() *ContentRecord {
	c := *r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// ContentUpdate — полная замена изменяемых полей записи при обновлении.
// ExpectedStorageDir защищает от гонки двух обновлений одного slug:
// запись меняется только если её StorageDir не изменился.
type ContentUpdate struct {
	ExpectedStorageDir string

	StorageDir   string
	StoragePath  string
	Kind         Kind
	FileCount    int
	SizeBytes    int64
	OriginalName string
	Description  string
	ExpiresAt    *time.Time
	PasswordHash string
	UpdatedAt    time.Time
}

// Apply переносит поля обновления в запись.
func (u *ContentUpdate) Apply(r *ContentRecord) {
	r.StorageDir = u.StorageDir
	r.StoragePath = u.StoragePath
	r.Kind = u.Kind
	r.FileCount = u.FileCount
	r.SizeBytes = u.SizeBytes
	r.OriginalName = u.OriginalName
	r.Description = u.Description
	r.ExpiresAt = nil
	if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		r.ExpiresAt = &t
	}
	r.PasswordHash = u.PasswordHash
	r.UpdatedAt = u.UpdatedAt
}

// ListFilter — параметры выборки списка записей.
type ListFilter struct {
	// Search — подстрока для поиска по slug, имени и описанию (без учёта регистра)
	Search string
	Limit  int
	Offset int
}

// StorageStats — агрегированная статистика хранилища.
type StorageStats struct {
	TotalRecords   int   `json:"totalRecords"`
	ActiveRecords  int   `json:"activeRecords"`
	ExpiredRecords int   `json:"expiredRecords"`
	Archived       int   `json:"archivedRecords"`
	Permanent      int   `json:"permanentRecords"`
	Bundles        int   `json:"bundles"`
	Documents      int   `json:"documents"`
	TotalSizeBytes int64 `json:"totalSizeBytes"`
	TotalAccess    int64 `json:"totalAccessCount"`
}
